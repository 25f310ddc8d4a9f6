// Package stats keeps running counts of handled errors and a ring buffer
// of recent records for the diagnostics surface.
package stats

import (
	"sync"
	"time"

	"github.com/capturekit/resilience/internal/taxonomy"
)

// ringSize bounds the recent-error buffer.
const ringSize = 100

// Summary is the JSON snapshot exposed by the stats endpoint.
type Summary struct {
	Total      int64            `json:"total"`
	ByKind     map[string]int64 `json:"by_kind"`
	BySeverity map[string]int64 `json:"by_severity"`
	// RatePerMinute is derived from the errors currently in the ring
	// buffer, so it reflects recent behavior, not lifetime averages.
	RatePerMinute float64 `json:"rate_per_minute"`
}

// Collector accumulates per-kind/per-severity counts and recent records.
type Collector struct {
	mu         sync.RWMutex
	total      int64
	byKind     map[taxonomy.Kind]int64
	bySeverity map[taxonomy.Severity]int64
	ring       []*taxonomy.Record
	next       int
	filled     bool
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		byKind:     make(map[taxonomy.Kind]int64),
		bySeverity: make(map[taxonomy.Severity]int64),
		ring:       make([]*taxonomy.Record, ringSize),
	}
}

// Record counts one handled error.
func (c *Collector) Record(rec *taxonomy.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	c.byKind[rec.Kind]++
	c.bySeverity[rec.Severity]++
	c.ring[c.next] = rec
	c.next = (c.next + 1) % ringSize
	if c.next == 0 {
		c.filled = true
	}
}

// Recent returns up to n most recent records, newest first.
func (c *Collector) Recent(n int) []*taxonomy.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	size := c.next
	if c.filled {
		size = ringSize
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]*taxonomy.Record, 0, n)
	for i := 1; i <= n; i++ {
		idx := (c.next - i + ringSize) % ringSize
		out = append(out, c.ring[idx])
	}
	return out
}

// Summary builds the JSON snapshot.
func (c *Collector) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Summary{
		Total:      c.total,
		ByKind:     make(map[string]int64, len(c.byKind)),
		BySeverity: make(map[string]int64, len(c.bySeverity)),
	}
	for k, v := range c.byKind {
		s.ByKind[k.String()] = v
	}
	for sev, v := range c.bySeverity {
		s.BySeverity[sev.String()] = v
	}
	s.RatePerMinute = c.rateLocked()
	return s
}

// rateLocked derives errors-per-minute from the ring buffer span.
func (c *Collector) rateLocked() float64 {
	size := c.next
	if c.filled {
		size = ringSize
	}
	if size < 2 {
		return 0
	}

	newest := c.ring[(c.next-1+ringSize)%ringSize]
	oldest := c.ring[(c.next-size+ringSize)%ringSize]
	span := newest.Timestamp.Sub(oldest.Timestamp)
	if span <= 0 {
		// All within one instant; report against a minimum window.
		span = time.Second
	}
	return float64(size) / span.Minutes()
}
