package classify

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/healstack/heal-engine/internal/models"
)

// Classifier maps anomalies to severity levels through an ordered,
// first-match-wins rule table.
type Classifier struct {
	rules  []Rule
	def    models.Severity
	logger *slog.Logger
}

// Rule is a single severity assignment rule.
type Rule struct {
	ID       string    `yaml:"id"`
	Match    RuleMatch `yaml:"match"`
	Severity string    `yaml:"severity"`
}

// RuleMatch defines optional attributes for rule matching. Empty attributes
// match everything.
type RuleMatch struct {
	Category       string            `yaml:"category"`
	MetricContains string            `yaml:"metric_contains"`
	MinConfidence  float64           `yaml:"min_confidence"`
	Tags           map[string]string `yaml:"tags"`
}

// RuleConfigFile is the YAML root structure of the severity rule table.
type RuleConfigFile struct {
	Rules   []Rule `yaml:"rules"`
	Default string `yaml:"default"`
}

// NewClassifier loads the severity rule table from the provided path. If the
// path is empty or the file does not exist every anomaly classifies to the
// default severity (low).
func NewClassifier(path string, logger *slog.Logger) (*Classifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	classifier := &Classifier{def: models.SeverityLow, logger: logger}
	if path == "" {
		return classifier, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return classifier, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	classifier.rules = cfg.Rules
	if def := parseSeverity(cfg.Default); def != "" {
		classifier.def = def
	}
	return classifier, nil
}

// Classify assigns a severity to the anomaly using the first matching rule.
func (c *Classifier) Classify(anomaly models.Anomaly) models.ClassifiedAnomaly {
	for _, rule := range c.rules {
		if !rule.Match.matches(anomaly) {
			continue
		}
		severity := parseSeverity(rule.Severity)
		if severity == "" {
			c.logger.Warn("severity rule has unknown level", slog.String("rule", rule.ID), slog.String("severity", rule.Severity))
			continue
		}
		return models.ClassifiedAnomaly{Anomaly: anomaly, Severity: severity}
	}
	return models.ClassifiedAnomaly{Anomaly: anomaly, Severity: c.def}
}

func (m RuleMatch) matches(anomaly models.Anomaly) bool {
	if m.Category != "" && !strings.EqualFold(m.Category, anomaly.Category) {
		return false
	}
	if m.MetricContains != "" && !strings.Contains(anomaly.Metric.Name, strings.ToLower(m.MetricContains)) {
		return false
	}
	if m.MinConfidence > 0 && anomaly.Confidence < m.MinConfidence {
		return false
	}
	for key, want := range m.Tags {
		if anomaly.Metric.Tags[key] != want {
			return false
		}
	}
	return true
}

// OrderQueue arranges a cycle's anomaly queue for processing: CRITICAL items
// move to the head preserving their arrival order, everything else keeps
// strict FIFO order behind them.
func OrderQueue(items []models.ClassifiedAnomaly) []models.ClassifiedAnomaly {
	ordered := make([]models.ClassifiedAnomaly, 0, len(items))
	for _, item := range items {
		if item.Severity == models.SeverityCritical {
			ordered = append(ordered, item)
		}
	}
	for _, item := range items {
		if item.Severity != models.SeverityCritical {
			ordered = append(ordered, item)
		}
	}
	return ordered
}

func parseSeverity(value string) models.Severity {
	switch strings.ToLower(value) {
	case "low":
		return models.SeverityLow
	case "medium":
		return models.SeverityMedium
	case "high":
		return models.SeverityHigh
	case "critical":
		return models.SeverityCritical
	default:
		return ""
	}
}
