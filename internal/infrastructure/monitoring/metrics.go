package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the error pipeline.
// A nil *Metrics is valid and records nothing, so components can run
// without a registry in tests.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Pipeline metrics
	ErrorsTotal      *prometheus.CounterVec
	ErrorsSuppressed *prometheus.CounterVec
	RuleExecutions   *prometheus.CounterVec

	// Recovery metrics
	RecoveryAttempts *prometheus.CounterVec
	RecoveryDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationsSent      *prometheus.CounterVec
	NotificationsThrottled *prometheus.CounterVec
	NotificationsBatched   prometheus.Counter
	QueueDepth             prometheus.Gauge

	// Ledger metrics
	LedgerEntries prometheus.Gauge
	LedgerSwept   prometheus.Counter

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds current metric values for the JSON stats API
type Snapshot struct {
	TotalErrors     int64
	TotalSuppressed int64
	TotalRecovered  int64
	TotalNotified   int64
	TotalThrottled  int64
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resilience_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "resilience_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resilience_errors_total",
				Help: "Total errors handled, by kind and severity",
			},
			[]string{"kind", "severity"},
		),
		ErrorsSuppressed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resilience_errors_suppressed_total",
				Help: "Errors silenced by the cooldown ledger",
			},
			[]string{"kind"},
		),
		RuleExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resilience_rule_executions_total",
				Help: "Rule strategy executions, by action and outcome",
			},
			[]string{"action", "outcome"},
		),

		RecoveryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resilience_recovery_attempts_total",
				Help: "Recovery strategy invocations, by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		RecoveryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "resilience_recovery_duration_seconds",
				Help:    "Recovery strategy duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10},
			},
			[]string{"strategy"},
		),

		NotificationsSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resilience_notifications_sent_total",
				Help: "Notifications delivered to the user feed",
			},
			[]string{"kind", "severity"},
		),
		NotificationsThrottled: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resilience_notifications_throttled_total",
				Help: "Notifications denied by the throttle",
			},
			[]string{"kind", "severity"},
		),
		NotificationsBatched: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "resilience_notifications_batched_total",
				Help: "Duplicate notifications merged into a batch",
			},
		),
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "resilience_notification_queue_depth",
				Help: "Pending notifications awaiting flush",
			},
		),

		LedgerEntries: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "resilience_ledger_entries",
				Help: "Signatures tracked by the cooldown ledger",
			},
		),
		LedgerSwept: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "resilience_ledger_swept_total",
				Help: "Ledger entries pruned by the periodic sweep",
			},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "resilience_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
	}

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordError records a handled error
func (m *Metrics) RecordError(kind, severity string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind, severity).Inc()
	m.mu.Lock()
	m.snapshot.TotalErrors++
	m.mu.Unlock()
}

// RecordSuppressed records a cooldown suppression
func (m *Metrics) RecordSuppressed(kind string) {
	if m == nil {
		return
	}
	m.ErrorsSuppressed.WithLabelValues(kind).Inc()
	m.mu.Lock()
	m.snapshot.TotalSuppressed++
	m.mu.Unlock()
}

// RecordRuleExecution records a rule strategy outcome
func (m *Metrics) RecordRuleExecution(action, outcome string) {
	if m == nil {
		return
	}
	m.RuleExecutions.WithLabelValues(action, outcome).Inc()
}

// RecordRecovery records a recovery attempt
func (m *Metrics) RecordRecovery(strategy, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RecoveryAttempts.WithLabelValues(strategy, outcome).Inc()
	m.RecoveryDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	if outcome == "success" {
		m.mu.Lock()
		m.snapshot.TotalRecovered++
		m.mu.Unlock()
	}
}

// RecordNotificationSent records a delivered notification
func (m *Metrics) RecordNotificationSent(kind, severity string) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(kind, severity).Inc()
	m.mu.Lock()
	m.snapshot.TotalNotified++
	m.mu.Unlock()
}

// RecordNotificationThrottled records a throttled notification
func (m *Metrics) RecordNotificationThrottled(kind, severity string) {
	if m == nil {
		return
	}
	m.NotificationsThrottled.WithLabelValues(kind, severity).Inc()
	m.mu.Lock()
	m.snapshot.TotalThrottled++
	m.mu.Unlock()
}

// RecordBatched records a merged duplicate notification
func (m *Metrics) RecordBatched() {
	if m == nil {
		return
	}
	m.NotificationsBatched.Inc()
}

// SetQueueDepth sets the pending notification count
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// SetLedgerEntries sets the tracked signature count
func (m *Metrics) SetLedgerEntries(n int) {
	if m == nil {
		return
	}
	m.LedgerEntries.Set(float64(n))
}

// AddLedgerSwept adds pruned-entry count from one sweep
func (m *Metrics) AddLedgerSwept(n int) {
	if m == nil {
		return
	}
	m.LedgerSwept.Add(float64(n))
}

// UpdateUptime refreshes the uptime gauge; called from a scheduler task
func (m *Metrics) UpdateUptime() {
	if m == nil {
		return
	}
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}

// GetSnapshot returns current counters for the JSON stats API
func (m *Metrics) GetSnapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
