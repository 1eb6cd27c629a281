package repo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/healstack/heal-engine/internal/models"
	"github.com/healstack/heal-engine/internal/utils"
)

// MetricSource pulls current readings from an external metrics endpoint. It
// implements the ingest Source capability; the engine is agnostic to what
// actually produces the readings.
type MetricSource struct {
	baseURL     string
	metricsPath string
	httpClient  *http.Client
}

// NewMetricSource constructs a source targeting the configured endpoint.
func NewMetricSource(baseURL, metricsPath string, timeout time.Duration) *MetricSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if metricsPath == "" {
		metricsPath = "/api/v1/metrics"
	}
	return &MetricSource{
		baseURL:     strings.TrimRight(baseURL, "/"),
		metricsPath: metricsPath,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// FetchMetrics requests the latest readings. Failures here are transient for
// the loop: the poller logs and skips the poll.
func (c *MetricSource) FetchMetrics(ctx context.Context) ([]models.SystemMetric, error) {
	if c == nil {
		return nil, fmt.Errorf("metric source not initialised")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("metric source base URL not configured")
	}

	var response struct {
		Metrics []struct {
			Name      string            `json:"name"`
			Value     float64           `json:"value"`
			Unit      string            `json:"unit"`
			Timestamp string            `json:"timestamp"`
			Tags      map[string]string `json:"tags"`
		} `json:"metrics"`
	}

	if err := getJSON(ctx, c.httpClient, c.baseURL+"/"+strings.TrimLeft(c.metricsPath, "/"), &response); err != nil {
		return nil, fmt.Errorf("metric source request failed: %w", err)
	}

	readings := make([]models.SystemMetric, 0, len(response.Metrics))
	for _, m := range response.Metrics {
		ts, err := utils.ParseRFC3339(m.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", m.Name, err)
		}
		readings = append(readings, models.SystemMetric{
			Name:      m.Name,
			Value:     m.Value,
			Unit:      m.Unit,
			Timestamp: ts,
			Tags:      m.Tags,
		})
	}
	return readings, nil
}
