package plan

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/healstack/heal-engine/internal/models"
)

// neutralWeight is the prior assigned to strategies with no recorded history.
const neutralWeight = 0.5

// KnowledgeReader exposes the success-rate weighted strategy ranking consumed
// during planning.
type KnowledgeReader interface {
	Ranking(category string) []models.StrategyWeight
}

// Planner builds remediation plans from the policy table, preferring the
// strategy with the highest success-rate weight when the knowledge store
// holds prior outcomes for the category.
type Planner struct {
	table     *Table
	knowledge KnowledgeReader
	logger    *slog.Logger
	now       func() time.Time
}

// NewPlanner constructs a planner. knowledge may be nil, in which case the
// first registered strategy wins.
func NewPlanner(logger *slog.Logger, table *Table, knowledge KnowledgeReader) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{table: table, knowledge: knowledge, logger: logger, now: time.Now}
}

// Plan selects a strategy for the anomaly. When no strategy is registered for
// the category the plan is flagged manual-intervention with an empty action
// list rather than guessing.
func (p *Planner) Plan(item models.ClassifiedAnomaly) models.RemediationPlan {
	candidates := p.table.Strategies(item.Category)
	if len(candidates) == 0 {
		p.logger.Info("no strategy registered, requiring manual intervention",
			slog.String("category", item.Category), slog.String("anomaly_id", item.ID))
		return models.RemediationPlan{
			ID:                 uuid.NewString(),
			AnomalyID:          item.ID,
			Category:           item.Category,
			RiskTier:           models.RiskLow,
			ManualIntervention: true,
			CreatedAt:          p.now().UTC(),
		}
	}

	chosen := p.choose(item.Category, candidates)
	return models.RemediationPlan{
		ID:        uuid.NewString(),
		AnomalyID: item.ID,
		Category:  item.Category,
		Strategy:  chosen.Name,
		Actions:   toActions(chosen.Actions),
		Rollback:  toActions(chosen.Rollback),
		RiskTier:  chosen.riskTier(),
		CreatedAt: p.now().UTC(),
	}
}

// choose is deterministic for a fixed knowledge state: highest weight wins,
// ties break by most recent success, then by declaration order.
func (p *Planner) choose(category string, candidates []Strategy) Strategy {
	weights := make(map[string]models.StrategyWeight)
	if p.knowledge != nil {
		for _, entry := range p.knowledge.Ranking(category) {
			weights[entry.Strategy] = entry
		}
	}

	best := candidates[0]
	bestEntry := weightFor(weights, best.Name)
	for _, candidate := range candidates[1:] {
		entry := weightFor(weights, candidate.Name)
		if entry.Weight > bestEntry.Weight ||
			(entry.Weight == bestEntry.Weight && entry.LastSuccess.After(bestEntry.LastSuccess)) {
			best = candidate
			bestEntry = entry
		}
	}

	p.logger.Debug("strategy selected",
		slog.String("category", category),
		slog.String("strategy", best.Name),
		slog.Float64("weight", bestEntry.Weight))
	return best
}

func weightFor(weights map[string]models.StrategyWeight, name string) models.StrategyWeight {
	if entry, ok := weights[name]; ok {
		return entry
	}
	return models.StrategyWeight{Strategy: name, Weight: neutralWeight}
}
