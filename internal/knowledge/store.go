package knowledge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/healstack/heal-engine/internal/cache"
	"github.com/healstack/heal-engine/internal/models"
	"github.com/healstack/heal-engine/internal/utils"
)

// snapshotKey stores the serialized weight table for warm restarts.
const snapshotKey = "knowledge:weights"

// Archiver persists triples to the durable history backend. Implementations
// must treat AppendRecord as append-only.
type Archiver interface {
	AppendRecord(ctx context.Context, rec models.Record) error
}

type weightEntry struct {
	Weight      float64   `json:"weight"`
	Samples     int       `json:"samples"`
	LastSuccess time.Time `json:"last_success"`
}

// Store holds the anomaly→plan→result history and the success-rate weights
// consumed by the planner. History is append-only; the loop never deletes
// from it (retention is an external housekeeping concern). Weight updates are
// atomic per key.
type Store struct {
	mu          sync.RWMutex
	alpha       float64
	history     []models.Record
	weights     map[string]map[string]*weightEntry
	archive     Archiver
	snapshots   cache.Provider
	snapshotTTL time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewStore constructs a knowledge store. alpha is the exponential decay
// factor for weight updates, clamped into (0,1] with a 0.3 default. archive
// and snapshots may be nil.
func NewStore(logger *slog.Logger, alpha float64, archive Archiver, snapshots cache.Provider, snapshotTTL time.Duration) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	if snapshots == nil {
		snapshots = cache.NoopProvider{}
	}
	return &Store{
		alpha:       alpha,
		weights:     make(map[string]map[string]*weightEntry),
		archive:     archive,
		snapshots:   snapshots,
		snapshotTTL: snapshotTTL,
		logger:      logger,
		now:         time.Now,
	}
}

// Record appends one (anomaly, plan, result) triple and folds the outcome
// into the weight for its (category, strategy) pair:
//
//	weight' = weight*(1-alpha) + outcome*alpha
//
// with outcome 1 for success and 0 otherwise. Replaying the same triple
// shifts the weight twice; replay protection, if needed, sits with the
// caller. An error from a configured archive is returned untouched so the
// controller can treat the durable store as unavailable.
func (s *Store) Record(ctx context.Context, rec models.Record) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = s.now().UTC()
	}

	// Archive before the in-memory update so the planner of the next cycle
	// only ever sees durably recorded history.
	if s.archive != nil {
		if err := s.archive.AppendRecord(ctx, rec); err != nil {
			return utils.NewAppError("knowledge.Record", "history archive unavailable", err)
		}
	}

	s.mu.Lock()
	s.history = append(s.history, rec)
	if !rec.Plan.ManualIntervention && rec.Plan.Strategy != "" {
		s.applyOutcome(rec)
	}
	s.mu.Unlock()

	s.saveSnapshot(ctx)
	return nil
}

func (s *Store) applyOutcome(rec models.Record) {
	byStrategy, ok := s.weights[rec.Plan.Category]
	if !ok {
		byStrategy = make(map[string]*weightEntry)
		s.weights[rec.Plan.Category] = byStrategy
	}
	entry, ok := byStrategy[rec.Plan.Strategy]
	if !ok {
		// Unseen strategies start at the neutral prior the planner assumes.
		entry = &weightEntry{Weight: 0.5}
		byStrategy[rec.Plan.Strategy] = entry
	}

	outcome := 0.0
	if rec.Result.Status.Succeeded() {
		outcome = 1.0
		entry.LastSuccess = rec.RecordedAt
	}
	entry.Weight = entry.Weight*(1-s.alpha) + outcome*s.alpha
	entry.Samples++
}

// Ranking returns the weighted strategy ranking for a category, highest
// weight first, ties broken by most recent success then by name.
func (s *Store) Ranking(category string) []models.StrategyWeight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rankLocked(s.weights[category])
}

// Weights returns the full per-category ranking table for introspection.
func (s *Store) Weights() map[string][]models.StrategyWeight {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]models.StrategyWeight, len(s.weights))
	for category, byStrategy := range s.weights {
		out[category] = rankLocked(byStrategy)
	}
	return out
}

func rankLocked(byStrategy map[string]*weightEntry) []models.StrategyWeight {
	if len(byStrategy) == 0 {
		return nil
	}
	ranking := make([]models.StrategyWeight, 0, len(byStrategy))
	for name, entry := range byStrategy {
		ranking = append(ranking, models.StrategyWeight{
			Strategy:    name,
			Weight:      entry.Weight,
			Samples:     entry.Samples,
			LastSuccess: entry.LastSuccess,
		})
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].Weight != ranking[j].Weight {
			return ranking[i].Weight > ranking[j].Weight
		}
		if !ranking[i].LastSuccess.Equal(ranking[j].LastSuccess) {
			return ranking[i].LastSuccess.After(ranking[j].LastSuccess)
		}
		return ranking[i].Strategy < ranking[j].Strategy
	})
	return ranking
}

// LastResults returns up to n execution results, newest first.
func (s *Store) LastResults(n int) []models.ExecutionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	results := make([]models.ExecutionResult, 0, n)
	for i := len(s.history) - 1; i >= 0 && len(results) < n; i-- {
		results = append(results, s.history[i].Result)
	}
	return results
}

// History returns a copy of the raw record history for audit, oldest first.
func (s *Store) History() []models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Record(nil), s.history...)
}

// Len reports the number of recorded triples.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// RestoreSnapshot loads the weight table persisted by a previous run. A cache
// miss is not an error; history is not restored, only weights.
func (s *Store) RestoreSnapshot(ctx context.Context) error {
	data, err := s.snapshots.Get(ctx, snapshotKey)
	if err != nil {
		if err == cache.ErrCacheMiss {
			return nil
		}
		return err
	}

	var decoded map[string]map[string]*weightEntry
	if err := json.Unmarshal(data, &decoded); err != nil {
		return utils.NewAppError("knowledge.RestoreSnapshot", "corrupt weight snapshot", err)
	}

	s.mu.Lock()
	for category, byStrategy := range decoded {
		if byStrategy != nil {
			s.weights[category] = byStrategy
		}
	}
	s.mu.Unlock()

	s.logger.Info("knowledge weights restored", slog.Int("categories", len(decoded)))
	return nil
}

// saveSnapshot persists the weight table, best-effort.
func (s *Store) saveSnapshot(ctx context.Context) {
	s.mu.RLock()
	data, err := json.Marshal(s.weights)
	s.mu.RUnlock()
	if err != nil {
		s.logger.Warn("weight snapshot marshal failed", slog.Any("error", err))
		return
	}
	if err := s.snapshots.Set(ctx, snapshotKey, data, s.snapshotTTL); err != nil {
		s.logger.Warn("weight snapshot write failed", slog.Any("error", err))
	}
}
