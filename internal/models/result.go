package models

import "time"

// ExecutionStatus is the terminal outcome of running a plan.
type ExecutionStatus string

const (
	StatusSuccess            ExecutionStatus = "success"
	StatusFailed             ExecutionStatus = "failed"
	StatusCancelled          ExecutionStatus = "cancelled"
	StatusRolledBack         ExecutionStatus = "rolled-back"
	StatusManualIntervention ExecutionStatus = "manual-intervention"
	// StatusNoAction marks a healthy cycle: the loop ran, found nothing to
	// remediate, and recorded that as the cycle's outcome.
	StatusNoAction ExecutionStatus = "no-action"
)

// Terminal reports whether the status has been set.
func (s ExecutionStatus) Terminal() bool { return s != "" }

// Succeeded reports whether the outcome counts as a remediation success.
func (s ExecutionStatus) Succeeded() bool { return s == StatusSuccess }

// ActionLog records one action attempt sequence within an execution.
type ActionLog struct {
	Action     string    `json:"action"`
	Rollback   bool      `json:"rollback"`
	Attempts   int       `json:"attempts"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ExecutionResult is the outcome of running a plan. FinishedAt is never
// before StartedAt and Status is terminal once set.
type ExecutionResult struct {
	ID         string          `json:"id"`
	PlanID     string          `json:"plan_id"`
	Status     ExecutionStatus `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	ActionLogs []ActionLog     `json:"action_logs,omitempty"`
}

// Record is one (anomaly, plan, result) triple appended to knowledge history.
type Record struct {
	Anomaly    ClassifiedAnomaly `json:"anomaly"`
	Plan       RemediationPlan   `json:"plan"`
	Result     ExecutionResult   `json:"result"`
	RecordedAt time.Time         `json:"recorded_at"`
}
