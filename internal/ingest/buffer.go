package ingest

import (
	"sort"
	"sync"
	"time"

	"github.com/healstack/heal-engine/internal/models"
)

// Buffer is a bounded, concurrency-safe ring buffer of metric readings keyed
// by metric name. The ingest poller is the only producer and the loop
// controller the only consumer; when a per-name ring is full the oldest entry
// is evicted so producers never block.
type Buffer struct {
	mu         sync.RWMutex
	capacity   int
	series     map[string][]models.SystemMetric
	lastAppend time.Time
}

// NewBuffer creates a buffer holding up to capacity samples per metric name.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 256
	}
	return &Buffer{
		capacity: capacity,
		series:   make(map[string][]models.SystemMetric),
	}
}

// Append stores a reading, evicting the oldest sample for that name when the
// ring is full. Samples older than the newest stored sample for the same name
// are dropped to keep timestamps monotonic per name; Append reports whether
// the sample was stored.
func (b *Buffer) Append(m models.SystemMetric) bool {
	if m.Name == "" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ring := b.series[m.Name]
	if n := len(ring); n > 0 && !m.Timestamp.After(ring[n-1].Timestamp) {
		return false
	}
	if len(ring) >= b.capacity {
		copy(ring[0:], ring[1:])
		ring = ring[:b.capacity-1]
	}
	b.series[m.Name] = append(ring, m)
	b.lastAppend = time.Now()
	return true
}

// Series returns a copy of the stored samples for a metric name, oldest first.
func (b *Buffer) Series(name string) []models.SystemMetric {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]models.SystemMetric(nil), b.series[name]...)
}

// Snapshot copies every per-name series for a detection pass.
func (b *Buffer) Snapshot() map[string][]models.SystemMetric {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string][]models.SystemMetric, len(b.series))
	for name, ring := range b.series {
		out[name] = append([]models.SystemMetric(nil), ring...)
	}
	return out
}

// Names lists buffered metric names in stable order.
func (b *Buffer) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.series))
	for name := range b.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of buffered samples for a metric name.
func (b *Buffer) Len(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.series[name])
}

// FreshSince reports whether any sample arrived after the given time.
func (b *Buffer) FreshSince(t time.Time) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastAppend.After(t)
}
