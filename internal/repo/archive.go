package repo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/healstack/heal-engine/internal/models"
)

// HistoryArchive appends knowledge records to an external archive service.
// The archive is the durable half of the knowledge store: the loop treats a
// configured but unreachable archive as fatal.
type HistoryArchive struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHistoryArchive constructs an archive client. An empty endpoint yields a
// client whose appends are no-ops.
func NewHistoryArchive(endpoint, apiKey string, timeout time.Duration) *HistoryArchive {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HistoryArchive{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// AppendRecord persists one (anomaly, plan, result) triple.
func (r *HistoryArchive) AppendRecord(ctx context.Context, rec models.Record) error {
	if r == nil {
		return fmt.Errorf("history archive not initialised")
	}
	if r.endpoint == "" {
		return nil
	}

	payload := map[string]interface{}{
		"class":  "RemediationRecord",
		"record": rec,
	}

	headers := map[string]string{}
	if r.apiKey != "" {
		headers["Authorization"] = "Bearer " + r.apiKey
	}
	if err := postJSON(ctx, r.httpClient, r.endpoint+"/v1/records", payload, headers, nil); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}
