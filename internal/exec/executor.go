package exec

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/healstack/heal-engine/internal/metrics"
	"github.com/healstack/heal-engine/internal/models"
)

// Capability runs one remediation action. Implementations are supplied by
// external integrations; the executor treats them as opaque.
type Capability interface {
	Execute(ctx context.Context, action models.Action) (string, error)
}

// CapabilityFunc adapts a function to the Capability interface.
type CapabilityFunc func(ctx context.Context, action models.Action) (string, error)

// Execute implements Capability.
func (f CapabilityFunc) Execute(ctx context.Context, action models.Action) (string, error) {
	return f(ctx, action)
}

// NoopCapability logs the action and reports success. Used when no
// remediation endpoint is configured.
type NoopCapability struct {
	Logger *slog.Logger
}

// Execute implements Capability.
func (n NoopCapability) Execute(_ context.Context, action models.Action) (string, error) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("noop capability invoked", slog.String("action", action.Name), slog.String("target", action.Target))
	return "noop", nil
}

// Executor runs a plan's actions sequentially against the capability. Actions
// may have ordering dependencies, so there is no parallelism. Each action is
// bounded by a timeout; idempotent actions are retried a bounded number of
// times, non-idempotent actions never are. On failure the rollback list runs
// in reverse completion order, best-effort.
type Executor struct {
	capability    Capability
	actionTimeout time.Duration
	maxRetries    int
	logger        *slog.Logger
	now           func() time.Time
}

// NewExecutor constructs an executor. A nil capability falls back to the
// logging noop.
func NewExecutor(logger *slog.Logger, capability Capability, actionTimeout time.Duration, maxIdempotentRetries int) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if capability == nil {
		capability = NoopCapability{Logger: logger}
	}
	if actionTimeout <= 0 {
		actionTimeout = 30 * time.Second
	}
	if maxIdempotentRetries < 0 {
		maxIdempotentRetries = 0
	}
	return &Executor{
		capability:    capability,
		actionTimeout: actionTimeout,
		maxRetries:    maxIdempotentRetries,
		logger:        logger,
		now:           time.Now,
	}
}

// Run executes the plan and always returns a result with a terminal status.
// Cancellation is honoured at action boundaries: the in-flight action finishes
// or times out, completed actions are rolled back, and the status is
// "cancelled".
func (e *Executor) Run(ctx context.Context, plan models.RemediationPlan) models.ExecutionResult {
	result := models.ExecutionResult{
		ID:        uuid.NewString(),
		PlanID:    plan.ID,
		StartedAt: e.now().UTC(),
	}

	if plan.ManualIntervention || len(plan.Actions) == 0 {
		result.Status = models.StatusManualIntervention
		result.FinishedAt = e.finishedAfter(result.StartedAt)
		metrics.ObserveRemediation(string(result.Status))
		return result
	}

	completed := make([]int, 0, len(plan.Actions))
	cancelled := false
	failed := false

	for i, action := range plan.Actions {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		log, err := e.attempt(ctx, action)
		result.ActionLogs = append(result.ActionLogs, log)
		if err != nil {
			if ctx.Err() != nil {
				cancelled = true
			} else {
				failed = true
				e.logger.Error("action failed", slog.String("plan_id", plan.ID), slog.String("action", action.Name), slog.Any("error", err))
			}
			break
		}
		completed = append(completed, i)
	}
	if ctx.Err() != nil && !failed {
		cancelled = true
	}

	switch {
	case !failed && !cancelled:
		result.Status = models.StatusSuccess
	case cancelled:
		e.rollback(plan, completed, &result)
		result.Status = models.StatusCancelled
	default:
		clean := e.rollback(plan, completed, &result)
		if len(completed) > 0 && clean {
			result.Status = models.StatusRolledBack
		} else {
			result.Status = models.StatusFailed
		}
	}

	result.FinishedAt = e.finishedAfter(result.StartedAt)
	metrics.ObserveRemediation(string(result.Status))
	return result
}

// attempt runs one action with retries for idempotent actions. A per-attempt
// timeout exceeded counts as that attempt's failure. Each attempt runs on a
// fresh context detached from the loop context: a stop signal must never abort
// an action mid-flight, only its own timeout bounds it. Loop cancellation is
// honoured between attempts.
func (e *Executor) attempt(ctx context.Context, action models.Action) (models.ActionLog, error) {
	attempts := 1
	if action.Idempotent {
		attempts += e.maxRetries
	}

	log := models.ActionLog{Action: action.Name, StartedAt: e.now().UTC()}
	var lastErr error
	for i := 0; i < attempts; i++ {
		log.Attempts = i + 1

		attemptCtx, cancel := context.WithTimeout(context.Background(), e.actionTimeout)
		start := e.now()
		output, err := e.capability.Execute(attemptCtx, action)
		cancel()

		if err == nil {
			metrics.ObserveAction(e.now().Sub(start), metrics.OutcomeSuccess)
			log.Output = output
			log.FinishedAt = e.finishedAfter(log.StartedAt)
			return log, nil
		}

		metrics.ObserveAction(e.now().Sub(start), metrics.OutcomeError)
		lastErr = err
		if ctx.Err() != nil {
			// The loop was stopped; do not start another attempt.
			lastErr = ctx.Err()
			break
		}
		if !action.Idempotent {
			break
		}
		e.logger.Warn("idempotent action retry", slog.String("action", action.Name), slog.Int("attempt", i+1), slog.Any("error", err))
	}

	log.Error = lastErr.Error()
	log.FinishedAt = e.finishedAfter(log.StartedAt)
	return log, lastErr
}

// rollback undoes completed forward actions in reverse completion order using
// a fresh context, since it must run even after cancellation. Rollback
// failures are logged, never raised. Reports whether every attempted rollback
// action succeeded.
func (e *Executor) rollback(plan models.RemediationPlan, completed []int, result *models.ExecutionResult) bool {
	clean := true
	for j := len(completed) - 1; j >= 0; j-- {
		idx := completed[j]
		if idx >= len(plan.Rollback) {
			continue
		}
		action := plan.Rollback[idx]

		log := models.ActionLog{Action: action.Name, Rollback: true, Attempts: 1, StartedAt: e.now().UTC()}
		rollbackCtx, cancel := context.WithTimeout(context.Background(), e.actionTimeout)
		output, err := e.capability.Execute(rollbackCtx, action)
		cancel()

		if err != nil {
			clean = false
			log.Error = err.Error()
			e.logger.Warn("rollback action failed", slog.String("plan_id", plan.ID), slog.String("action", action.Name), slog.Any("error", err))
		} else {
			log.Output = output
		}
		log.FinishedAt = e.finishedAfter(log.StartedAt)
		result.ActionLogs = append(result.ActionLogs, log)
	}
	return clean
}

func (e *Executor) finishedAfter(started time.Time) time.Time {
	finished := e.now().UTC()
	if finished.Before(started) {
		return started
	}
	return finished
}

// CancelledResult synthesizes a terminal result for a plan that never started
// because the stop signal arrived first.
func CancelledResult(plan models.RemediationPlan, at time.Time) models.ExecutionResult {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return models.ExecutionResult{
		ID:         uuid.NewString(),
		PlanID:     plan.ID,
		Status:     models.StatusCancelled,
		StartedAt:  at,
		FinishedAt: at,
	}
}
