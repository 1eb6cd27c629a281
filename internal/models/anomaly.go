package models

import "time"

// Severity captures impact levels, totally ordered via Rank.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal position of the severity; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Anomaly records a detected deviation of a metric from its baseline.
// It is immutable once created.
type Anomaly struct {
	ID          string       `json:"id"`
	Metric      SystemMetric `json:"metric"`
	Category    string       `json:"category"`
	Condition   string       `json:"condition"`
	DetectedAt  time.Time    `json:"detected_at"`
	Confidence  float64      `json:"confidence"`
	Description string       `json:"description"`
}

// DedupKey identifies a repeating metric+condition pair for cooldown suppression.
func (a Anomaly) DedupKey() string {
	return a.Metric.Name + "|" + a.Condition
}

// ClassifiedAnomaly pairs an anomaly with its assigned severity.
type ClassifiedAnomaly struct {
	Anomaly
	Severity Severity `json:"severity"`
}
