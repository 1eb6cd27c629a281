package models

import "time"

// Action is an opaque remediation step executed through the capability interface.
type Action struct {
	Name       string            `json:"name"`
	Target     string            `json:"target"`
	Params     map[string]string `json:"params,omitempty"`
	Idempotent bool              `json:"idempotent"`
}

// RiskTier grades how disruptive a remediation strategy is expected to be.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// RemediationPlan is the chosen response to an anomaly. A plan with an empty
// action list must carry ManualIntervention.
type RemediationPlan struct {
	ID                 string    `json:"id"`
	AnomalyID          string    `json:"anomaly_id"`
	Category           string    `json:"category"`
	Strategy           string    `json:"strategy"`
	Actions            []Action  `json:"actions"`
	Rollback           []Action  `json:"rollback,omitempty"`
	RiskTier           RiskTier  `json:"risk_tier"`
	ManualIntervention bool      `json:"manual_intervention"`
	CreatedAt          time.Time `json:"created_at"`
}
