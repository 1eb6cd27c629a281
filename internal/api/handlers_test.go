package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/healstack/heal-engine/internal/knowledge"
	"github.com/healstack/heal-engine/internal/models"
)

type fakeLoop struct {
	state   models.LoopState
	results []models.ExecutionResult
	lastN   int
}

func (f *fakeLoop) State() models.LoopState { return f.state }

func (f *fakeLoop) Snapshot(lastN int) models.LoopSnapshot {
	f.lastN = lastN
	results := f.results
	if lastN > 0 && lastN < len(results) {
		results = results[:lastN]
	}
	return models.LoopSnapshot{
		State:           f.state,
		CyclesCompleted: 7,
		LastCycleAt:     time.Now().UTC(),
		CycleP95:        120 * time.Millisecond,
		LastResults:     results,
		Weights: map[string][]models.StrategyWeight{
			"cpu-saturation": {{Strategy: "scale-up", Weight: 0.65, Samples: 3}},
		},
	}
}

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize() []knowledge.CategorySummary {
	return []knowledge.CategorySummary{{Category: "cpu-saturation", Anomalies: 3}}
}

func newTestServer(loop *fakeLoop) *httptest.Server {
	server := NewServer(":0", NewHandlers(loop, fakeSummarizer{}, nil), nil)
	return httptest.NewServer(server.httpServer.Handler)
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(&fakeLoop{state: models.StateIdle})
	defer ts.Close()

	body := getJSON(t, ts.URL+"/healthz", http.StatusOK)
	if body["state"] != "idle" {
		t.Fatalf("unexpected state in health payload: %v", body)
	}
}

func TestHealthReportsFailedLoop(t *testing.T) {
	ts := newTestServer(&fakeLoop{state: models.StateFailed})
	defer ts.Close()

	getJSON(t, ts.URL+"/healthz", http.StatusServiceUnavailable)
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(&fakeLoop{state: models.StateCooldown})
	defer ts.Close()

	body := getJSON(t, ts.URL+"/api/v1/loop/status", http.StatusOK)
	if body["state"] != "cooldown" {
		t.Fatalf("unexpected state: %v", body["state"])
	}
	if body["cycles_completed"].(float64) != 7 {
		t.Fatalf("unexpected cycle count: %v", body["cycles_completed"])
	}
}

func TestResultsEndpointHonoursLimit(t *testing.T) {
	loop := &fakeLoop{
		state: models.StateIdle,
		results: []models.ExecutionResult{
			{ID: "res-1", Status: models.StatusSuccess},
			{ID: "res-2", Status: models.StatusFailed},
			{ID: "res-3", Status: models.StatusSuccess},
		},
	}
	ts := newTestServer(loop)
	defer ts.Close()

	body := getJSON(t, ts.URL+"/api/v1/loop/results?limit=2", http.StatusOK)
	results := body["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("limit not applied: %d results", len(results))
	}
	if loop.lastN != 2 {
		t.Fatalf("limit not forwarded to snapshot: %d", loop.lastN)
	}
}

func TestResultsEndpointRejectsBadLimit(t *testing.T) {
	ts := newTestServer(&fakeLoop{state: models.StateIdle})
	defer ts.Close()

	getJSON(t, ts.URL+"/api/v1/loop/results?limit=zero", http.StatusBadRequest)
	getJSON(t, ts.URL+"/api/v1/loop/results?limit=-3", http.StatusBadRequest)
}

func TestWeightsEndpoint(t *testing.T) {
	ts := newTestServer(&fakeLoop{state: models.StateIdle})
	defer ts.Close()

	body := getJSON(t, ts.URL+"/api/v1/loop/weights", http.StatusOK)
	weights := body["weights"].(map[string]any)
	if _, ok := weights["cpu-saturation"]; !ok {
		t.Fatalf("weights payload missing category: %v", weights)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	ts := newTestServer(&fakeLoop{state: models.StateIdle})
	defer ts.Close()

	body := getJSON(t, ts.URL+"/api/v1/loop/summary", http.StatusOK)
	categories := body["categories"].([]any)
	if len(categories) != 1 {
		t.Fatalf("expected 1 summary category, got %d", len(categories))
	}
}
