package notify

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/capturekit/resilience/internal/infrastructure/logging"
	"github.com/capturekit/resilience/internal/infrastructure/monitoring"
	"github.com/capturekit/resilience/internal/sched"
	"github.com/capturekit/resilience/internal/taxonomy"
)

// Sink receives flushed notifications. The websocket hub is the production
// sink; tests register function sinks.
type Sink interface {
	Deliver(n *Notification)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(n *Notification)

func (f SinkFunc) Deliver(n *Notification) { f(n) }

// Queue batches notifications between flush ticks. Records arriving with
// the same (kind, severity) batch key within one window collapse into a
// single pending notification whose count reflects every occurrence.
type Queue struct {
	log      *logging.Logger
	metrics  *monitoring.Metrics
	clock    sched.Clock
	throttle *Throttle

	mu      sync.Mutex
	pending map[string]*Notification
	order   []string
	direct  []*Notification
	active  map[string]*Notification
	sinks   []Sink
}

// NewQueue creates an empty queue draining into no sinks.
func NewQueue(log *logging.Logger, metrics *monitoring.Metrics, clock sched.Clock, throttle *Throttle) *Queue {
	return &Queue{
		log:      log.Named("notify"),
		metrics:  metrics,
		clock:    clock,
		throttle: throttle,
		pending:  make(map[string]*Notification),
		active:   make(map[string]*Notification),
	}
}

// AddSink registers a delivery target for flushed notifications.
func (q *Queue) AddSink(s Sink) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sinks = append(q.sinks, s)
}

// batchKey groups records that merge into one notification.
func batchKey(rec *taxonomy.Record) string {
	return rec.Kind.String() + "|" + rec.Severity.String()
}

// Enqueue stages rec for the next flush. A record whose batch key is
// already pending merges into the existing notification regardless of the
// throttle; otherwise the throttle gates admission. Returns whether the
// record will be represented in a flushed notification.
func (q *Queue) Enqueue(rec *taxonomy.Record) bool {
	key := batchKey(rec)

	q.mu.Lock()
	if p, ok := q.pending[key]; ok {
		q.mergeLocked(p)
		q.mu.Unlock()
		return true
	}
	q.mu.Unlock()

	if !q.throttle.Allow(rec) {
		q.metrics.RecordNotificationThrottled(rec.Kind.String(), rec.Severity.String())
		q.log.Debug("notification throttled",
			zap.String("kind", rec.Kind.String()),
			zap.String("severity", rec.Severity.String()),
		)
		return false
	}

	n := fromRecord(rec, q.clock.Now())
	q.mu.Lock()
	// Re-check under the lock: a same-key record may have been admitted
	// while the throttle ran.
	if p, ok := q.pending[key]; ok {
		q.mergeLocked(p)
	} else {
		q.pending[key] = n
		q.order = append(q.order, key)
	}
	depth := len(q.pending) + len(q.direct)
	q.mu.Unlock()

	q.metrics.SetQueueDepth(depth)
	return true
}

// mergeLocked folds one more occurrence into a pending notification.
func (q *Queue) mergeLocked(p *Notification) {
	p.Count++
	if p.Record.Metadata == nil {
		p.Record.Metadata = make(map[string]any)
	}
	p.Record.Metadata["count"] = p.Count
	q.metrics.RecordBatched()
}

// Direct stages a notification that bypasses batching and throttling.
// Used for recovery-success toasts and operator banners.
func (q *Queue) Direct(n *Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = q.clock.Now()
	}
	q.mu.Lock()
	q.direct = append(q.direct, n)
	depth := len(q.pending) + len(q.direct)
	q.mu.Unlock()
	q.metrics.SetQueueDepth(depth)
}

// Flush drains everything staged since the previous tick into the sinks.
// Batched groups render an aggregated message; singletons keep the
// record's own user message and suggestion.
func (q *Queue) Flush() {
	q.mu.Lock()
	out := make([]*Notification, 0, len(q.order)+len(q.direct))
	for _, key := range q.order {
		out = append(out, q.pending[key])
	}
	out = append(out, q.direct...)
	q.pending = make(map[string]*Notification)
	q.order = nil
	q.direct = nil
	sinks := append([]Sink(nil), q.sinks...)

	for _, n := range out {
		if n.Count > 1 {
			n.Message = fmt.Sprintf("%d occurrences: %s", n.Count, n.Message)
			n.Suggestion = ""
		}
		if n.Persistent {
			q.active[n.ID] = n
		}
	}
	q.mu.Unlock()

	for _, n := range out {
		for _, s := range sinks {
			s.Deliver(n)
		}
		q.metrics.RecordNotificationSent(n.Kind.String(), n.Severity.String())
	}
	q.metrics.SetQueueDepth(0)
}

// Active lists persistent notifications not yet dismissed.
func (q *Queue) Active() []*Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Notification, 0, len(q.active))
	for _, n := range q.active {
		out = append(out, n)
	}
	return out
}

// Dismiss removes a persistent notification. Reports whether id was active.
func (q *Queue) Dismiss(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.active[id]; !ok {
		return false
	}
	delete(q.active, id)
	return true
}

// Find returns an active persistent notification by id.
func (q *Queue) Find(id string) (*Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n, ok := q.active[id]
	return n, ok
}

// Prune trims the throttle's rolling-hour history.
func (q *Queue) Prune() int {
	return q.throttle.Prune()
}
