package exec

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/healstack/heal-engine/internal/models"
)

const alwaysFail = -1

type fakeCapability struct {
	mu        sync.Mutex
	calls     []string
	fails     map[string]int // remaining failures per action; alwaysFail never recovers
	onExecute func(action models.Action)
}

func (f *fakeCapability) Execute(_ context.Context, action models.Action) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, action.Name)
	if f.onExecute != nil {
		f.onExecute(action)
	}
	if remaining := f.fails[action.Name]; remaining != 0 {
		if remaining > 0 {
			f.fails[action.Name] = remaining - 1
		}
		return "", fmt.Errorf("%s exploded", action.Name)
	}
	return "ok", nil
}

func (f *fakeCapability) callSequence() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func threeStepPlan() models.RemediationPlan {
	return models.RemediationPlan{
		ID:       "plan-1",
		Category: "cpu-saturation",
		Strategy: "scale-up",
		Actions: []models.Action{
			{Name: "a"},
			{Name: "b"},
			{Name: "c"},
		},
		Rollback: []models.Action{
			{Name: "undo-a"},
			{Name: "undo-b"},
			{Name: "undo-c"},
		},
	}
}

func assertSequence(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("call sequence %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call sequence %v, want %v", got, want)
		}
	}
}

func TestRunAllActionsSucceed(t *testing.T) {
	capability := &fakeCapability{}
	e := NewExecutor(nil, capability, time.Second, 0)

	result := e.Run(context.Background(), threeStepPlan())
	if result.Status != models.StatusSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	assertSequence(t, capability.callSequence(), []string{"a", "b", "c"})
	if len(result.ActionLogs) != 3 {
		t.Fatalf("expected 3 action logs, got %d", len(result.ActionLogs))
	}
	if result.FinishedAt.Before(result.StartedAt) {
		t.Fatal("finished before started")
	}
}

func TestRunFailureRollsBackInReverseOrder(t *testing.T) {
	capability := &fakeCapability{fails: map[string]int{"c": alwaysFail}}
	e := NewExecutor(nil, capability, time.Second, 0)

	result := e.Run(context.Background(), threeStepPlan())
	if result.Status != models.StatusRolledBack {
		t.Fatalf("expected rolled-back, got %s", result.Status)
	}
	assertSequence(t, capability.callSequence(), []string{"a", "b", "c", "undo-b", "undo-a"})

	var rollbackLogs int
	for _, log := range result.ActionLogs {
		if log.Rollback {
			rollbackLogs++
		}
	}
	if rollbackLogs != 2 {
		t.Fatalf("expected 2 rollback logs, got %d", rollbackLogs)
	}
}

func TestRunFailureWithDirtyRollback(t *testing.T) {
	capability := &fakeCapability{fails: map[string]int{"c": alwaysFail, "undo-a": alwaysFail}}
	e := NewExecutor(nil, capability, time.Second, 0)

	result := e.Run(context.Background(), threeStepPlan())
	if result.Status != models.StatusFailed {
		t.Fatalf("partial rollback should report failed, got %s", result.Status)
	}
	// A rollback step failing never stops the remaining steps.
	assertSequence(t, capability.callSequence(), []string{"a", "b", "c", "undo-b", "undo-a"})
}

func TestRunIdempotentActionRetries(t *testing.T) {
	capability := &fakeCapability{fails: map[string]int{"flaky": 2}}
	e := NewExecutor(nil, capability, time.Second, 2)

	plan := models.RemediationPlan{
		ID:      "plan-2",
		Actions: []models.Action{{Name: "flaky", Idempotent: true}},
	}
	result := e.Run(context.Background(), plan)
	if result.Status != models.StatusSuccess {
		t.Fatalf("expected success after retries, got %s", result.Status)
	}
	if result.ActionLogs[0].Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", result.ActionLogs[0].Attempts)
	}
}

func TestRunNonIdempotentActionNeverRetries(t *testing.T) {
	capability := &fakeCapability{fails: map[string]int{"once": alwaysFail}}
	e := NewExecutor(nil, capability, time.Second, 5)

	plan := models.RemediationPlan{
		ID:      "plan-3",
		Actions: []models.Action{{Name: "once", Idempotent: false}},
	}
	result := e.Run(context.Background(), plan)
	if result.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if result.ActionLogs[0].Attempts != 1 {
		t.Fatalf("non-idempotent action retried: %d attempts", result.ActionLogs[0].Attempts)
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	capability := &fakeCapability{}
	e := NewExecutor(nil, capability, time.Second, 0)

	result := e.Run(ctx, threeStepPlan())
	if result.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", result.Status)
	}
	if len(capability.callSequence()) != 0 {
		t.Fatalf("no actions should run after cancellation, got %v", capability.callSequence())
	}
}

func TestRunCancelledMidPlanRollsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	capability := &fakeCapability{}
	capability.onExecute = func(action models.Action) {
		if action.Name == "a" {
			// Stop signal arrives while the first action is in flight.
			cancel()
		}
	}
	e := NewExecutor(nil, capability, time.Second, 0)

	result := e.Run(ctx, threeStepPlan())
	if result.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", result.Status)
	}
	assertSequence(t, capability.callSequence(), []string{"a", "undo-a"})
}

// waitingCapability honours its context, the way a real HTTP capability does:
// it blocks for delay, returning early with ctx.Err() if the context ends
// first. An optional cancel fires while the named action is in flight.
type waitingCapability struct {
	mu     sync.Mutex
	calls  []string
	delay  time.Duration
	cancel context.CancelFunc
	during string
}

func (w *waitingCapability) Execute(ctx context.Context, action models.Action) (string, error) {
	w.mu.Lock()
	w.calls = append(w.calls, action.Name)
	cancel := w.cancel
	if action.Name != w.during {
		cancel = nil
	}
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(w.delay):
		return "ok", nil
	}
}

func (w *waitingCapability) callSequence() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

func TestRunCancellationLetsInFlightActionFinish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	capability := &waitingCapability{delay: 20 * time.Millisecond, cancel: cancel, during: "a"}
	e := NewExecutor(nil, capability, time.Second, 0)

	result := e.Run(ctx, threeStepPlan())
	if result.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", result.Status)
	}
	// The stop signal arrived mid-action, yet the action ran to completion
	// and its rollback executed afterwards.
	assertSequence(t, capability.callSequence(), []string{"a", "undo-a"})
	if result.ActionLogs[0].Error != "" {
		t.Fatalf("in-flight action was aborted: %s", result.ActionLogs[0].Error)
	}
	if result.ActionLogs[0].Output != "ok" {
		t.Fatalf("in-flight action did not finish, output %q", result.ActionLogs[0].Output)
	}
}

func TestRunActionTimeoutBoundsTheAttempt(t *testing.T) {
	capability := &waitingCapability{delay: time.Second}
	e := NewExecutor(nil, capability, 15*time.Millisecond, 0)

	plan := models.RemediationPlan{
		ID:      "plan-slow",
		Actions: []models.Action{{Name: "slow"}},
	}
	result := e.Run(context.Background(), plan)
	if result.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if result.ActionLogs[0].Error == "" {
		t.Fatal("timed-out action should carry an error")
	}
}

func TestRunManualInterventionPlan(t *testing.T) {
	capability := &fakeCapability{}
	e := NewExecutor(nil, capability, time.Second, 0)

	result := e.Run(context.Background(), models.RemediationPlan{ID: "plan-4", ManualIntervention: true})
	if result.Status != models.StatusManualIntervention {
		t.Fatalf("expected manual-intervention, got %s", result.Status)
	}
	if len(capability.callSequence()) != 0 {
		t.Fatal("manual plan must not execute actions")
	}
}

func TestCancelledResultIsTerminal(t *testing.T) {
	at := time.Now().UTC()
	result := CancelledResult(models.RemediationPlan{ID: "plan-5"}, at)
	if result.Status != models.StatusCancelled || !result.Status.Terminal() {
		t.Fatalf("expected terminal cancelled result, got %s", result.Status)
	}
	if result.PlanID != "plan-5" {
		t.Fatalf("result not linked to plan: %s", result.PlanID)
	}
}
