package loop

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healstack/heal-engine/internal/classify"
	"github.com/healstack/heal-engine/internal/exec"
	"github.com/healstack/heal-engine/internal/ingest"
	"github.com/healstack/heal-engine/internal/metrics"
	"github.com/healstack/heal-engine/internal/models"
	"github.com/healstack/heal-engine/internal/utils"
)

// Detector finds anomalies in a metric snapshot.
type Detector interface {
	Detect(snapshot map[string][]models.SystemMetric) []models.Anomaly
}

// Classifier assigns a severity to an anomaly.
type Classifier interface {
	Classify(anomaly models.Anomaly) models.ClassifiedAnomaly
}

// Planner builds a remediation plan for a classified anomaly.
type Planner interface {
	Plan(item models.ClassifiedAnomaly) models.RemediationPlan
}

// Runner executes a plan to a terminal result.
type Runner interface {
	Run(ctx context.Context, plan models.RemediationPlan) models.ExecutionResult
}

// Knowledge persists cycle outcomes and serves the introspection views.
type Knowledge interface {
	Record(ctx context.Context, rec models.Record) error
	LastResults(n int) []models.ExecutionResult
	Weights() map[string][]models.StrategyWeight
}

// Options tune cycle cadence.
type Options struct {
	// MonitorTimeout bounds how long a cycle waits for fresh samples before
	// giving up on the round.
	MonitorTimeout time.Duration
	// CycleCooldown is the pause between the end of one cycle and the start
	// of the next.
	CycleCooldown time.Duration
}

// Controller sequences the healing cycle: monitor, analyze, plan, execute,
// record, cool down. Exactly one cycle runs at a time and exactly one state is
// active; the controller is the sole writer of the state and the sole consumer
// of the ingest buffer. Only a fatal error (durable knowledge unavailable)
// moves the loop to the failed state and stops it.
type Controller struct {
	logger     *slog.Logger
	buffer     *ingest.Buffer
	detector   Detector
	classifier Classifier
	planner    Planner
	executor   Runner
	knowledge  Knowledge
	opts       Options
	latency    *utils.LatencyTracker

	trigger chan struct{}

	mu           sync.RWMutex
	state        models.LoopState
	cycles       uint64
	lastCycleAt  time.Time
	lastErr      error
	lastObserved time.Time

	now func() time.Time
}

// NewController wires the cycle stages together.
func NewController(
	logger *slog.Logger,
	buffer *ingest.Buffer,
	detector Detector,
	classifier Classifier,
	planner Planner,
	executor Runner,
	knowledge Knowledge,
	opts Options,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MonitorTimeout <= 0 {
		opts.MonitorTimeout = 5 * time.Second
	}
	if opts.CycleCooldown < 0 {
		opts.CycleCooldown = 0
	}
	return &Controller{
		logger:     logger,
		buffer:     buffer,
		detector:   detector,
		classifier: classifier,
		planner:    planner,
		executor:   executor,
		knowledge:  knowledge,
		opts:       opts,
		latency:    utils.NewLatencyTracker(256),
		trigger:    make(chan struct{}, 1),
		state:      models.StateIdle,
		now:        time.Now,
	}
}

// Run drives cycles until the context is cancelled or a fatal error occurs.
// On cancellation the loop finishes recording the in-flight cycle and returns
// nil; on fatal error it parks in the failed state and returns the error.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("healing loop started",
		slog.Duration("monitor_timeout", c.opts.MonitorTimeout),
		slog.Duration("cycle_cooldown", c.opts.CycleCooldown))

	for {
		if ctx.Err() != nil {
			c.setState(models.StateIdle)
			c.logger.Info("healing loop stopped", slog.Uint64("cycles", c.CyclesCompleted()))
			return nil
		}
		if err := c.runCycle(ctx); err != nil {
			c.mu.Lock()
			c.state = models.StateFailed
			c.lastErr = err
			c.mu.Unlock()
			c.logger.Error("healing loop failed", slog.Any("error", err))
			return err
		}
	}
}

// Trigger requests an immediate next cycle, skipping any remaining cooldown.
// Safe to call from any goroutine; extra triggers coalesce.
func (c *Controller) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// runCycle performs one full pass. Transient stage errors are absorbed inside
// the stages; only a knowledge recording failure propagates.
func (c *Controller) runCycle(ctx context.Context) error {
	start := c.now()

	c.setState(models.StateMonitoring)
	fresh := c.waitForFresh(ctx)

	c.setState(models.StateAnalyzing)
	var queue []models.ClassifiedAnomaly
	if fresh {
		snapshot := c.buffer.Snapshot()
		c.mu.Lock()
		c.lastObserved = c.now()
		c.mu.Unlock()

		for _, anomaly := range c.detector.Detect(snapshot) {
			item := c.classifier.Classify(anomaly)
			metrics.ObserveAnomaly(string(item.Severity))
			c.logger.Info("anomaly detected",
				slog.String("metric", item.Metric.Name),
				slog.String("category", item.Category),
				slog.String("severity", string(item.Severity)),
				slog.Float64("confidence", item.Confidence))
			queue = append(queue, item)
		}
	}
	queue = classify.OrderQueue(queue)

	if len(queue) == 0 {
		// A healthy cycle is still an outcome: record it so introspection
		// shows the loop ran and found nothing to do.
		c.setState(models.StateRecording)
		now := c.now().UTC()
		rec := models.Record{
			Result: models.ExecutionResult{
				ID:         uuid.NewString(),
				Status:     models.StatusNoAction,
				StartedAt:  start.UTC(),
				FinishedAt: now,
			},
			RecordedAt: now,
		}
		if err := c.knowledge.Record(context.Background(), rec); err != nil {
			metrics.ObserveCycle(c.now().Sub(start), metrics.OutcomeError)
			return err
		}

		c.finishCycle(start)
		c.coolDown(ctx)
		c.setState(models.StateIdle)
		return nil
	}

	c.setState(models.StatePlanning)
	plans := make([]models.RemediationPlan, len(queue))
	for i, item := range queue {
		plans[i] = c.planner.Plan(item)
	}

	c.setState(models.StateExecuting)
	results := make([]models.ExecutionResult, len(plans))
	for i := range plans {
		if ctx.Err() != nil {
			// Stop signal arrived before this plan started; it still gets a
			// terminal record.
			results[i] = exec.CancelledResult(plans[i], c.now().UTC())
			continue
		}
		results[i] = c.executor.Run(ctx, plans[i])
	}

	// Recording must complete even during shutdown, so it runs detached from
	// the loop context. Client timeouts bound each append.
	c.setState(models.StateRecording)
	for i := range queue {
		rec := models.Record{
			Anomaly:    queue[i],
			Plan:       plans[i],
			Result:     results[i],
			RecordedAt: c.now().UTC(),
		}
		if err := c.knowledge.Record(context.Background(), rec); err != nil {
			metrics.ObserveCycle(c.now().Sub(start), metrics.OutcomeError)
			return err
		}
	}

	c.finishCycle(start)
	c.coolDown(ctx)
	c.setState(models.StateIdle)
	return nil
}

// waitForFresh blocks until a sample newer than the last analyzed batch
// arrives, the monitor timeout elapses, or the context is cancelled.
func (c *Controller) waitForFresh(ctx context.Context) bool {
	c.mu.RLock()
	since := c.lastObserved
	c.mu.RUnlock()

	deadline := time.NewTimer(c.opts.MonitorTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	for {
		if c.buffer.FreshSince(since) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-poll.C:
		}
	}
}

func (c *Controller) coolDown(ctx context.Context) {
	if c.opts.CycleCooldown <= 0 {
		return
	}
	c.setState(models.StateCooldown)

	timer := time.NewTimer(c.opts.CycleCooldown)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-c.trigger:
		c.logger.Debug("cooldown cut short by trigger")
	}
}

func (c *Controller) finishCycle(start time.Time) {
	elapsed := c.now().Sub(start)
	c.latency.Observe(elapsed)
	metrics.ObserveCycle(elapsed, metrics.OutcomeSuccess)

	c.mu.Lock()
	c.cycles++
	c.lastCycleAt = c.now().UTC()
	c.mu.Unlock()
}

func (c *Controller) setState(next models.LoopState) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()
	if prev != next {
		c.logger.Debug("loop state transition", slog.String("from", string(prev)), slog.String("to", string(next)))
	}
}

// State returns the current loop state.
func (c *Controller) State() models.LoopState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the fatal error that parked the loop, if any.
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// CyclesCompleted reports the number of finished cycles.
func (c *Controller) CyclesCompleted() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cycles
}

// Snapshot returns the introspection view with up to lastN recent results.
func (c *Controller) Snapshot(lastN int) models.LoopSnapshot {
	c.mu.RLock()
	snap := models.LoopSnapshot{
		State:           c.state,
		CyclesCompleted: c.cycles,
		LastCycleAt:     c.lastCycleAt,
	}
	c.mu.RUnlock()

	snap.CycleP95 = c.latency.Percentile(95)
	if c.knowledge != nil {
		snap.LastResults = c.knowledge.LastResults(lastN)
		snap.Weights = c.knowledge.Weights()
	}
	return snap
}
