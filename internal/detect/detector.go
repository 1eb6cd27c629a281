package detect

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/healstack/heal-engine/internal/models"
)

// BaselineKind selects the deviation test applied to a metric series.
type BaselineKind string

const (
	// KindStatic compares the latest value against a fixed bound.
	KindStatic BaselineKind = "static"
	// KindZScore compares the latest value against a rolling z-score bound.
	KindZScore BaselineKind = "zscore"
)

// Baseline configures the expected behaviour of one metric name.
type Baseline struct {
	Metric     string       `yaml:"metric"`
	Kind       BaselineKind `yaml:"kind"`
	Threshold  float64      `yaml:"threshold"`
	Direction  string       `yaml:"direction"`
	Category   string       `yaml:"category"`
	MinSamples int          `yaml:"minSamples"`
}

// BaselineFile is the YAML root structure for the baseline table.
type BaselineFile struct {
	Baselines []Baseline `yaml:"baselines"`
}

// LoadBaselines reads the baseline table from the provided path. An empty
// path or a missing file yields no baselines, which disables detection.
func LoadBaselines(path string) ([]Baseline, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var file BaselineFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return file.Baselines, nil
}

// Detector evaluates buffered metric series against configured baselines and
// emits anomalies. Repeats of the same metric+condition within the cooldown
// window are suppressed, across cycle boundaries. Owned by the loop
// controller; not safe for concurrent use.
type Detector struct {
	baselines   map[string]Baseline
	cooldown    time.Duration
	lastEmitted map[string]time.Time
	logger      *slog.Logger
	now         func() time.Time
}

// NewDetector constructs a detector over the given baseline table.
func NewDetector(logger *slog.Logger, baselines []Baseline, cooldown time.Duration) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	table := make(map[string]Baseline, len(baselines))
	for _, b := range baselines {
		if b.Metric == "" {
			continue
		}
		table[b.Metric] = b
	}
	return &Detector{
		baselines:   table,
		cooldown:    cooldown,
		lastEmitted: make(map[string]time.Time),
		logger:      logger,
		now:         time.Now,
	}
}

// Detect scans every configured metric in the snapshot and returns the
// anomalies whose cooldown window has elapsed. Metrics with a broken or
// inapplicable baseline are logged and skipped for the cycle; detection never
// fails the loop.
func (d *Detector) Detect(snapshot map[string][]models.SystemMetric) []models.Anomaly {
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		if _, ok := d.baselines[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	anomalies := make([]models.Anomaly, 0)
	for _, name := range names {
		anomaly, ok, err := d.evaluate(d.baselines[name], snapshot[name])
		if err != nil {
			d.logger.Warn("baseline evaluation skipped", slog.String("metric", name), slog.Any("error", err))
			continue
		}
		if !ok {
			continue
		}
		if d.suppressed(anomaly) {
			d.logger.Debug("anomaly suppressed by cooldown", slog.String("metric", name), slog.String("condition", anomaly.Condition))
			continue
		}
		d.lastEmitted[anomaly.DedupKey()] = d.now()
		anomalies = append(anomalies, anomaly)
	}
	return anomalies
}

func (d *Detector) evaluate(baseline Baseline, series []models.SystemMetric) (models.Anomaly, bool, error) {
	if len(series) == 0 {
		return models.Anomaly{}, false, nil
	}
	latest := series[len(series)-1]

	switch baseline.Kind {
	case KindStatic:
		return d.evaluateStatic(baseline, latest)
	case KindZScore:
		return d.evaluateZScore(baseline, series, latest)
	default:
		return models.Anomaly{}, false, fmt.Errorf("unknown baseline kind %q", baseline.Kind)
	}
}

func (d *Detector) evaluateStatic(baseline Baseline, latest models.SystemMetric) (models.Anomaly, bool, error) {
	direction := baseline.Direction
	if direction == "" {
		direction = "above"
	}

	violated := false
	switch direction {
	case "above":
		violated = latest.Value > baseline.Threshold
	case "below":
		violated = latest.Value < baseline.Threshold
	default:
		return models.Anomaly{}, false, fmt.Errorf("unknown direction %q", direction)
	}
	if !violated {
		return models.Anomaly{}, false, nil
	}

	scale := math.Abs(baseline.Threshold)
	if scale < 1 {
		scale = 1
	}
	exceedance := math.Abs(latest.Value-baseline.Threshold) / scale
	confidence := clamp(0.6+4*exceedance, 0, 0.99)

	return d.newAnomaly(baseline, latest, direction, confidence,
		fmt.Sprintf("%s=%.4g crossed static threshold %.4g (%s)", latest.Name, latest.Value, baseline.Threshold, direction)), true, nil
}

func (d *Detector) evaluateZScore(baseline Baseline, series []models.SystemMetric, latest models.SystemMetric) (models.Anomaly, bool, error) {
	minSamples := baseline.MinSamples
	if minSamples < 3 {
		minSamples = 3
	}
	if len(series) < minSamples {
		return models.Anomaly{}, false, nil
	}

	bound := baseline.Threshold
	if bound <= 0 {
		bound = 2.5
	}

	mean := 0.0
	for _, point := range series {
		mean += point.Value
	}
	mean /= float64(len(series))

	variance := 0.0
	for _, point := range series {
		variance += math.Pow(point.Value-mean, 2)
	}
	variance /= float64(len(series))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		stdDev = 0.01
	}

	score := (latest.Value - mean) / stdDev
	direction := "above"
	if baseline.Direction == "below" {
		direction = "below"
		score = -score
	}
	if score < bound {
		return models.Anomaly{}, false, nil
	}

	confidence := clamp(0.5+score/10, 0, 0.99)
	return d.newAnomaly(baseline, latest, direction, confidence,
		fmt.Sprintf("%s=%.4g deviates %.2f stddev from rolling mean %.4g", latest.Name, latest.Value, score, mean)), true, nil
}

func (d *Detector) newAnomaly(baseline Baseline, latest models.SystemMetric, direction string, confidence float64, description string) models.Anomaly {
	category := baseline.Category
	if category == "" {
		suffix := "high"
		if direction == "below" {
			suffix = "low"
		}
		category = latest.Name + "-" + suffix
	}
	return models.Anomaly{
		ID:          uuid.NewString(),
		Metric:      latest,
		Category:    category,
		Condition:   fmt.Sprintf("%s-%s-%.4g", baseline.Kind, direction, baseline.Threshold),
		DetectedAt:  d.now().UTC(),
		Confidence:  confidence,
		Description: description,
	}
}

func (d *Detector) suppressed(anomaly models.Anomaly) bool {
	if d.cooldown <= 0 {
		return false
	}
	last, ok := d.lastEmitted[anomaly.DedupKey()]
	if !ok {
		return false
	}
	return d.now().Sub(last) < d.cooldown
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
