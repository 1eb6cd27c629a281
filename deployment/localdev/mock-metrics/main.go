package main

import (
	"encoding/json"
	"log"
	"math"
	"net/http"
	"sync"
	"time"
)

type metricReading struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags"`
}

func main() {
	start := time.Now()

	var mu sync.Mutex
	var records []json.RawMessage

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Synthetic feed: cpu_util climbs past 90 a couple of minutes in so the
	// static baseline fires; memory_util oscillates inside its bound.
	mux.HandleFunc("/api/v1/metrics", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		elapsed := time.Since(start).Minutes()
		cpu := 60.0 + 20.0*elapsed
		if cpu > 97 {
			cpu = 97
		}
		mem := 55.0 + 10.0*math.Sin(elapsed)

		writeJSON(w, map[string]any{
			"metrics": []metricReading{
				{Name: "cpu_util", Value: cpu, Unit: "percent", Timestamp: time.Now().UTC(), Tags: map[string]string{"host": "web-1"}},
				{Name: "memory_util", Value: mem, Unit: "percent", Timestamp: time.Now().UTC(), Tags: map[string]string{"host": "web-1"}},
			},
		})
	})

	// Archive sink: accepts records and keeps them for inspection.
	mux.HandleFunc("/v1/records", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var raw json.RawMessage
			if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			mu.Lock()
			records = append(records, raw)
			mu.Unlock()
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			mu.Lock()
			defer mu.Unlock()
			writeJSON(w, map[string]any{"records": records})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	// Remediation endpoint: every action succeeds.
	mux.HandleFunc("/v1/actions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var action struct {
			Name   string `json:"name"`
			Target string `json:"target"`
		}
		if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		log.Printf("executing %s on %s", action.Name, action.Target)
		writeJSON(w, map[string]any{"output": "applied " + action.Name})
	})

	logger := log.New(log.Writer(), "mock-metrics ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
