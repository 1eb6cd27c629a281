package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/healstack/heal-engine/internal/knowledge"
	"github.com/healstack/heal-engine/internal/models"
)

// Introspector exposes the read-only loop view served by the API.
type Introspector interface {
	State() models.LoopState
	Snapshot(lastN int) models.LoopSnapshot
}

// Summarizer mines the recorded history into per-category statistics.
type Summarizer interface {
	Summarize() []knowledge.CategorySummary
}

// Handlers serves loop introspection endpoints. All endpoints are read-only;
// the loop is never driven through the API.
type Handlers struct {
	loop      Introspector
	knowledge Summarizer
	logger    *slog.Logger
}

// NewHandlers constructs the handler set.
func NewHandlers(loop Introspector, knowledge Summarizer, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{loop: loop, knowledge: knowledge, logger: logger}
}

// Health reports liveness and the current loop state.
func (h *Handlers) Health(c *gin.Context) {
	state := h.loop.State()
	status := http.StatusOK
	if state == models.StateFailed {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": "ok", "state": state})
}

// Status returns the cycle counters without history payloads.
func (h *Handlers) Status(c *gin.Context) {
	snap := h.loop.Snapshot(0)
	c.JSON(http.StatusOK, gin.H{
		"state":            snap.State,
		"cycles_completed": snap.CyclesCompleted,
		"last_cycle_at":    snap.LastCycleAt,
		"cycle_p95_ms":     snap.CycleP95.Milliseconds(),
	})
}

// Results returns recent execution results, newest first.
func (h *Handlers) Results(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	snap := h.loop.Snapshot(limit)
	c.JSON(http.StatusOK, gin.H{"results": snap.LastResults})
}

// Weights returns the per-category strategy rankings.
func (h *Handlers) Weights(c *gin.Context) {
	snap := h.loop.Snapshot(0)
	c.JSON(http.StatusOK, gin.H{"weights": snap.Weights})
}

// Summary returns mined per-category strategy statistics.
func (h *Handlers) Summary(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": h.knowledge.Summarize()})
}
