package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/healstack/heal-engine/internal/models"
)

type fakeKnowledge struct {
	ranking map[string][]models.StrategyWeight
}

func (f *fakeKnowledge) Ranking(category string) []models.StrategyWeight {
	return f.ranking[category]
}

func writePolicies(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write policies: %v", err)
	}
	return path
}

const cpuPolicies = `
policies:
  - category: cpu-saturation
    strategies:
      - name: scale-up
        riskTier: medium
        actions:
          - name: add-replica
            target: web
        rollback:
          - name: remove-replica
            target: web
      - name: restart-service
        riskTier: low
        actions:
          - name: restart
            target: web
            idempotent: true
`

func classified(category string) models.ClassifiedAnomaly {
	return models.ClassifiedAnomaly{
		Anomaly:  models.Anomaly{ID: "anom-1", Category: category},
		Severity: models.SeverityHigh,
	}
}

func TestPlanPrefersHigherWeight(t *testing.T) {
	table, err := LoadPolicies(writePolicies(t, cpuPolicies))
	if err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}

	knowledge := &fakeKnowledge{ranking: map[string][]models.StrategyWeight{
		"cpu-saturation": {
			{Strategy: "scale-up", Weight: 0.9},
			{Strategy: "restart-service", Weight: 0.4},
		},
	}}
	p := NewPlanner(nil, table, knowledge)

	plan := p.Plan(classified("cpu-saturation"))
	if plan.Strategy != "scale-up" {
		t.Fatalf("expected scale-up (weight 0.9) over restart-service (0.4), got %s", plan.Strategy)
	}
	if plan.AnomalyID != "anom-1" || plan.Category != "cpu-saturation" {
		t.Fatalf("plan not linked to anomaly: %+v", plan)
	}
	if len(plan.Actions) != 1 || plan.Actions[0].Name != "add-replica" {
		t.Fatalf("plan actions wrong: %+v", plan.Actions)
	}
	if len(plan.Rollback) != 1 || plan.Rollback[0].Name != "remove-replica" {
		t.Fatalf("plan rollback wrong: %+v", plan.Rollback)
	}
	if plan.RiskTier != models.RiskMedium {
		t.Fatalf("risk tier wrong: %s", plan.RiskTier)
	}
}

func TestPlanUnknownStrategiesGetNeutralPrior(t *testing.T) {
	table, err := LoadPolicies(writePolicies(t, cpuPolicies))
	if err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}

	// restart-service has decayed below the 0.5 prior of unseen scale-up.
	knowledge := &fakeKnowledge{ranking: map[string][]models.StrategyWeight{
		"cpu-saturation": {
			{Strategy: "restart-service", Weight: 0.2},
		},
	}}
	p := NewPlanner(nil, table, knowledge)

	if plan := p.Plan(classified("cpu-saturation")); plan.Strategy != "scale-up" {
		t.Fatalf("unseen strategy should win on neutral prior, got %s", plan.Strategy)
	}
}

func TestPlanTieBreaksByDeclarationOrder(t *testing.T) {
	table, err := LoadPolicies(writePolicies(t, cpuPolicies))
	if err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}
	p := NewPlanner(nil, table, &fakeKnowledge{})

	first := p.Plan(classified("cpu-saturation"))
	second := p.Plan(classified("cpu-saturation"))
	if first.Strategy != "scale-up" || second.Strategy != "scale-up" {
		t.Fatalf("equal weights should pick the first declared strategy deterministically, got %s then %s",
			first.Strategy, second.Strategy)
	}
}

func TestPlanTieBreaksByMostRecentSuccess(t *testing.T) {
	table, err := LoadPolicies(writePolicies(t, cpuPolicies))
	if err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}

	knowledge := &fakeKnowledge{ranking: map[string][]models.StrategyWeight{
		"cpu-saturation": {
			{Strategy: "scale-up", Weight: 0.5, LastSuccess: time.Now().Add(-time.Hour)},
			{Strategy: "restart-service", Weight: 0.5, LastSuccess: time.Now()},
		},
	}}
	p := NewPlanner(nil, table, knowledge)

	if plan := p.Plan(classified("cpu-saturation")); plan.Strategy != "restart-service" {
		t.Fatalf("tie should break by most recent success, got %s", plan.Strategy)
	}
}

func TestPlanManualInterventionWhenNoStrategy(t *testing.T) {
	table, err := LoadPolicies("")
	if err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}
	p := NewPlanner(nil, table, nil)

	plan := p.Plan(classified("unknown-category"))
	if !plan.ManualIntervention {
		t.Fatal("expected manual-intervention plan")
	}
	if len(plan.Actions) != 0 {
		t.Fatalf("manual plan must not carry actions, got %d", len(plan.Actions))
	}
}

func TestLoadPoliciesRejectsOversizedRollback(t *testing.T) {
	_, err := LoadPolicies(writePolicies(t, `
policies:
  - category: cpu-saturation
    strategies:
      - name: broken
        actions:
          - name: one
        rollback:
          - name: undo-one
          - name: undo-two
`))
	if err == nil || !strings.Contains(err.Error(), "rollback") {
		t.Fatalf("expected rollback validation error, got %v", err)
	}
}

func TestLoadPoliciesRejectsEmptyActions(t *testing.T) {
	_, err := LoadPolicies(writePolicies(t, `
policies:
  - category: cpu-saturation
    strategies:
      - name: broken
        actions: []
`))
	if err == nil {
		t.Fatal("expected validation error for empty action list")
	}
}
