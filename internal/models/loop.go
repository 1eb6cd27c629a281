package models

import "time"

// LoopState is the controller's current phase. Exactly one state is active at
// a time; the controller is the only writer.
type LoopState string

const (
	StateIdle       LoopState = "idle"
	StateMonitoring LoopState = "monitoring"
	StateAnalyzing  LoopState = "analyzing"
	StatePlanning   LoopState = "planning"
	StateExecuting  LoopState = "executing"
	StateRecording  LoopState = "recording"
	StateCooldown   LoopState = "cooldown"
	StateFailed     LoopState = "failed"
)

// StrategyWeight is one entry in a success-rate weighted strategy ranking.
type StrategyWeight struct {
	Strategy    string    `json:"strategy"`
	Weight      float64   `json:"weight"`
	Samples     int       `json:"samples"`
	LastSuccess time.Time `json:"last_success,omitempty"`
}

// LoopSnapshot is the read-only introspection view of the control loop.
type LoopSnapshot struct {
	State           LoopState                   `json:"state"`
	CyclesCompleted uint64                      `json:"cycles_completed"`
	LastCycleAt     time.Time                   `json:"last_cycle_at,omitempty"`
	CycleP95        time.Duration               `json:"cycle_p95_ns"`
	LastResults     []ExecutionResult           `json:"last_results"`
	Weights         map[string][]StrategyWeight `json:"weights"`
}
