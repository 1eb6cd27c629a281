package knowledge

import (
	"sort"
	"time"

	"github.com/healstack/heal-engine/internal/models"
)

// StrategySummary aggregates recorded outcomes for one strategy.
type StrategySummary struct {
	Strategy    string    `json:"strategy"`
	Attempts    int       `json:"attempts"`
	Successes   int       `json:"successes"`
	SuccessRate float64   `json:"success_rate"`
	LastSeen    time.Time `json:"last_seen"`
}

// CategorySummary aggregates history for one anomaly category.
type CategorySummary struct {
	Category   string            `json:"category"`
	Anomalies  int               `json:"anomalies"`
	Manual     int               `json:"manual"`
	Strategies []StrategySummary `json:"strategies"`
}

// Summarize mines the raw history into per-category strategy statistics,
// most frequently anomalous categories first.
func (s *Store) Summarize() []CategorySummary {
	history := s.History()
	if len(history) == 0 {
		return nil
	}

	type strategyAgg struct {
		attempts  int
		successes int
		lastSeen  time.Time
	}
	type categoryAgg struct {
		anomalies  int
		manual     int
		strategies map[string]*strategyAgg
	}

	byCategory := make(map[string]*categoryAgg)
	for _, rec := range history {
		if rec.Result.Status == models.StatusNoAction {
			// Healthy cycles carry no strategy evidence.
			continue
		}
		agg, ok := byCategory[rec.Plan.Category]
		if !ok {
			agg = &categoryAgg{strategies: make(map[string]*strategyAgg)}
			byCategory[rec.Plan.Category] = agg
		}
		agg.anomalies++
		if rec.Plan.ManualIntervention || rec.Plan.Strategy == "" {
			agg.manual++
			continue
		}

		stat, ok := agg.strategies[rec.Plan.Strategy]
		if !ok {
			stat = &strategyAgg{}
			agg.strategies[rec.Plan.Strategy] = stat
		}
		stat.attempts++
		if rec.Result.Status.Succeeded() {
			stat.successes++
		}
		if rec.RecordedAt.After(stat.lastSeen) {
			stat.lastSeen = rec.RecordedAt
		}
	}

	if len(byCategory) == 0 {
		return nil
	}

	summaries := make([]CategorySummary, 0, len(byCategory))
	for category, agg := range byCategory {
		summary := CategorySummary{Category: category, Anomalies: agg.anomalies, Manual: agg.manual}
		for name, stat := range agg.strategies {
			rate := 0.0
			if stat.attempts > 0 {
				rate = float64(stat.successes) / float64(stat.attempts)
			}
			summary.Strategies = append(summary.Strategies, StrategySummary{
				Strategy:    name,
				Attempts:    stat.attempts,
				Successes:   stat.successes,
				SuccessRate: rate,
				LastSeen:    stat.lastSeen,
			})
		}
		sort.Slice(summary.Strategies, func(i, j int) bool {
			if summary.Strategies[i].Attempts != summary.Strategies[j].Attempts {
				return summary.Strategies[i].Attempts > summary.Strategies[j].Attempts
			}
			return summary.Strategies[i].Strategy < summary.Strategies[j].Strategy
		})
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Anomalies != summaries[j].Anomalies {
			return summaries[i].Anomalies > summaries[j].Anomalies
		}
		return summaries[i].Category < summaries[j].Category
	})
	return summaries
}
