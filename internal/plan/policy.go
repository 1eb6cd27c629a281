package plan

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/healstack/heal-engine/internal/models"
)

// ActionSpec is an action template inside a strategy descriptor.
type ActionSpec struct {
	Name       string            `yaml:"name"`
	Target     string            `yaml:"target"`
	Params     map[string]string `yaml:"params"`
	Idempotent bool              `yaml:"idempotent"`
}

// Strategy is a registered remediation alternative for an anomaly category.
type Strategy struct {
	Name     string       `yaml:"name"`
	RiskTier string       `yaml:"riskTier"`
	Actions  []ActionSpec `yaml:"actions"`
	Rollback []ActionSpec `yaml:"rollback"`
}

// Policy binds an anomaly category to its ordered strategy alternatives.
type Policy struct {
	Category   string     `yaml:"category"`
	Strategies []Strategy `yaml:"strategies"`
}

// PolicyFile is the YAML root structure of the policy table.
type PolicyFile struct {
	Policies []Policy `yaml:"policies"`
}

// Table holds the loaded policy table. Adding a strategy is a data update to
// the backing file, not a code change.
type Table struct {
	byCategory map[string][]Strategy
}

// LoadPolicies reads and validates the policy table. Every strategy must have
// at least one action and a rollback list no longer than its action list. An
// empty path or missing file yields an empty table (every anomaly becomes a
// manual-intervention plan).
func LoadPolicies(path string) (*Table, error) {
	table := &Table{byCategory: make(map[string][]Strategy)}
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return table, nil
		}
		return nil, err
	}
	var file PolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	for _, policy := range file.Policies {
		if policy.Category == "" {
			return nil, fmt.Errorf("policy with empty category")
		}
		for _, strategy := range policy.Strategies {
			if strategy.Name == "" {
				return nil, fmt.Errorf("category %s: strategy with empty name", policy.Category)
			}
			if len(strategy.Actions) == 0 {
				return nil, fmt.Errorf("category %s: strategy %s has no actions", policy.Category, strategy.Name)
			}
			if len(strategy.Rollback) > len(strategy.Actions) {
				return nil, fmt.Errorf("category %s: strategy %s rollback list longer than action list", policy.Category, strategy.Name)
			}
		}
		table.byCategory[policy.Category] = policy.Strategies
	}
	return table, nil
}

// Strategies returns the registered alternatives for a category in declared order.
func (t *Table) Strategies(category string) []Strategy {
	if t == nil {
		return nil
	}
	return t.byCategory[category]
}

// Categories reports how many categories carry at least one strategy.
func (t *Table) Categories() int {
	if t == nil {
		return 0
	}
	return len(t.byCategory)
}

func (s Strategy) riskTier() models.RiskTier {
	switch s.RiskTier {
	case string(models.RiskLow):
		return models.RiskLow
	case string(models.RiskHigh):
		return models.RiskHigh
	default:
		return models.RiskMedium
	}
}

func toActions(specs []ActionSpec) []models.Action {
	if len(specs) == 0 {
		return nil
	}
	actions := make([]models.Action, 0, len(specs))
	for _, spec := range specs {
		params := spec.Params
		if len(params) > 0 {
			copied := make(map[string]string, len(params))
			for k, v := range params {
				copied[k] = v
			}
			params = copied
		}
		actions = append(actions, models.Action{
			Name:       spec.Name,
			Target:     spec.Target,
			Params:     params,
			Idempotent: spec.Idempotent,
		})
	}
	return actions
}
