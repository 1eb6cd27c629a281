package ingest

import (
	"strings"
	"time"

	"github.com/healstack/heal-engine/internal/models"
)

var unitAliases = map[string]string{
	"%":    "percent",
	"pct":  "percent",
	"ms":   "milliseconds",
	"msec": "milliseconds",
	"s":    "seconds",
	"sec":  "seconds",
	"b":    "bytes",
	"kb":   "kilobytes",
	"mb":   "megabytes",
	"gb":   "gigabytes",
}

// Normalize canonicalizes a raw reading: metric names and units are
// lowercased, unit aliases are expanded, empty tags are dropped, and a
// missing timestamp is stamped with the current time.
func Normalize(m models.SystemMetric) models.SystemMetric {
	m.Name = strings.ToLower(strings.TrimSpace(m.Name))
	m.Unit = strings.ToLower(strings.TrimSpace(m.Unit))
	if canonical, ok := unitAliases[m.Unit]; ok {
		m.Unit = canonical
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	if len(m.Tags) > 0 {
		tags := make(map[string]string, len(m.Tags))
		for k, v := range m.Tags {
			k = strings.TrimSpace(k)
			if k == "" || v == "" {
				continue
			}
			tags[k] = v
		}
		if len(tags) == 0 {
			tags = nil
		}
		m.Tags = tags
	}
	return m
}
