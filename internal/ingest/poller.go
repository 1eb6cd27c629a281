package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/healstack/heal-engine/internal/metrics"
	"github.com/healstack/heal-engine/internal/models"
)

// Source supplies raw metric readings on demand.
type Source interface {
	FetchMetrics(ctx context.Context) ([]models.SystemMetric, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]models.SystemMetric, error)

// FetchMetrics implements Source.
func (f SourceFunc) FetchMetrics(ctx context.Context) ([]models.SystemMetric, error) {
	return f(ctx)
}

// Poller pulls readings from a Source on a fixed interval and appends them to
// the shared buffer. It runs independently of the loop controller and never
// advances loop state; fetch failures are transient and only logged.
type Poller struct {
	source   Source
	buffer   *Buffer
	interval time.Duration
	logger   *slog.Logger
}

// NewPoller constructs a poller. A non-positive interval defaults to 15s.
func NewPoller(logger *slog.Logger, source Source, buffer *Buffer, interval time.Duration) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Poller{source: source, buffer: buffer, interval: interval, logger: logger}
}

// Run polls until the context is cancelled. An initial poll happens
// immediately so the first cycle has data to look at.
func (p *Poller) Run(ctx context.Context) {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	readings, err := p.source.FetchMetrics(ctx)
	if err != nil {
		metrics.ObserveFetch(metrics.OutcomeError)
		p.logger.Warn("metric fetch failed", slog.Any("error", err))
		return
	}
	metrics.ObserveFetch(metrics.OutcomeSuccess)

	stored := 0
	for _, reading := range readings {
		if p.buffer.Append(Normalize(reading)) {
			stored++
		}
	}
	if dropped := len(readings) - stored; dropped > 0 {
		p.logger.Debug("stale readings dropped", slog.Int("dropped", dropped))
	}
}
