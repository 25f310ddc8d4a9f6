// Package resilience assembles the error pipeline: normalize, count,
// notify listeners, gate through the cooldown ledger, dispatch the first
// matching rule, and independently kick off background recovery and a
// throttled user notification.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capturekit/resilience/internal/cooldown"
	"github.com/capturekit/resilience/internal/infrastructure/config"
	"github.com/capturekit/resilience/internal/infrastructure/logging"
	"github.com/capturekit/resilience/internal/infrastructure/monitoring"
	"github.com/capturekit/resilience/internal/notify"
	"github.com/capturekit/resilience/internal/recovery"
	"github.com/capturekit/resilience/internal/rules"
	"github.com/capturekit/resilience/internal/sched"
	"github.com/capturekit/resilience/internal/stats"
	"github.com/capturekit/resilience/internal/taxonomy"
)

// Event is what listeners observe on the pipeline bus.
type Event struct {
	Type   string           `json:"type"`
	Record *taxonomy.Record `json:"record"`
}

// Event types dispatched to listeners.
const (
	// EventError fires for every handled error, before the cooldown gate.
	EventError = "error"
	// EventRetry fires when the user presses retry on a notification.
	EventRetry = "error-retry"
	// EventRecovered fires when a recovery strategy succeeds.
	EventRecovered = "recovered"
)

// Listener observes pipeline events. Listeners run synchronously on the
// handling goroutine and must not block.
type Listener func(ev Event)

// Outcome summarizes what Handle decided for one error.
type Outcome struct {
	Record     *taxonomy.Record `json:"record"`
	Suppressed bool             `json:"suppressed"`
	Action     string           `json:"action,omitempty"`
	Notified   bool             `json:"notified"`
	// Err is non-nil when the matched rule rethrows (fatal severity).
	Err error `json:"-"`
}

// Options configures a Core. Zero values select working defaults.
type Options struct {
	Logger   *logging.Logger
	Metrics  *monitoring.Metrics
	Clock    sched.Clock
	Pipeline config.PipelineConfig
	Notify   config.NotifyConfig
	Recovery config.RecoveryConfig
	// Trigger carries recovery requests (cache eviction, permission
	// re-query, DOM re-query, storage cleanup) to the hosting extension.
	// Nil leaves the trigger-backed strategies failing softly.
	Trigger recovery.Trigger
}

// Core is the process-wide resilience pipeline.
type Core struct {
	log       *logging.Logger
	metrics   *monitoring.Metrics
	clock     sched.Clock
	cfg       config.PipelineConfig
	notifyCfg config.NotifyConfig

	normalizer *taxonomy.Normalizer
	collector  *stats.Collector
	ledger     *cooldown.Ledger
	engine     *rules.Engine
	registry   *recovery.Registry
	queue      *notify.Queue
	scheduler  *sched.Scheduler

	mu        sync.Mutex
	listeners map[string]Listener
	started   bool
}

// New wires the pipeline. Start must be called before periodic work
// (ledger sweep, notification flush) runs; Handle works immediately.
func New(opts Options) *Core {
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	log = log.Named("resilience")

	clock := opts.Clock
	if clock == nil {
		clock = sched.Real()
	}

	cfg := opts.Pipeline
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.RecoveryDelay <= 0 {
		cfg.RecoveryDelay = 100 * time.Millisecond
	}
	if opts.Notify.FlushInterval <= 0 {
		opts.Notify.FlushInterval = 2 * time.Second
	}
	if opts.Notify.PruneInterval <= 0 {
		opts.Notify.PruneInterval = 5 * time.Minute
	}
	if opts.Recovery.MaxRetryAttempts <= 0 {
		opts.Recovery.MaxRetryAttempts = 3
	}

	throttle := notify.NewThrottle(clock)
	c := &Core{
		log:        log,
		metrics:    opts.Metrics,
		clock:      clock,
		cfg:        cfg,
		normalizer: taxonomy.NewNormalizer(),
		collector:  stats.NewCollector(),
		ledger:     cooldown.NewLedger(clock, nil),
		engine:     rules.NewEngine(log),
		registry:   recovery.NewRegistry(log, clock, opts.Recovery.MaxRetryAttempts),
		queue:      notify.NewQueue(log, opts.Metrics, clock, throttle),
		scheduler:  sched.NewScheduler(clock),
		listeners:  make(map[string]Listener),
	}
	c.notifyCfg = opts.Notify

	// The engine comes preloaded with the default propagation policy;
	// file-loaded rules take precedence over it.
	if cfg.RulesFile != "" {
		policy, err := rules.LoadPolicyFile(cfg.RulesFile)
		if err != nil {
			log.Warn("policy file not loaded", zap.String("path", cfg.RulesFile), zap.Error(err))
		} else {
			// Prepend back to front so the file's own ordering survives.
			for i := len(policy.Rules) - 1; i >= 0; i-- {
				c.engine.Prepend(policy.Rules[i])
			}
			for _, ov := range policy.Throttle {
				throttle.SetConfig(ov.Kind, ov.Severity, notify.ThrottleConfig{
					MinInterval: ov.MinInterval,
					MaxPerHour:  ov.MaxPerHour,
				})
			}
		}
	}

	probe := recovery.NetworkProbeConfig{
		URL:     opts.Recovery.ProbeURL,
		Timeout: opts.Recovery.ProbeTimeout,
	}
	for _, s := range recovery.DefaultStrategies(probe, opts.Trigger) {
		c.registry.Register(s)
	}

	c.registry.OnSuccess = func(rec *taxonomy.Record, res recovery.Result) {
		msg := res.Message
		if msg == "" {
			msg = "Recovered from " + rec.Kind.String() + " error"
		}
		c.queue.Direct(notify.Toast(taxonomy.SeverityInfo, msg))
		c.emit(Event{Type: EventRecovered, Record: rec})
	}
	c.registry.OnAttempt = func(strategy, outcome string, elapsed time.Duration) {
		c.metrics.RecordRecovery(strategy, outcome, elapsed)
	}

	return c
}

// Start launches the periodic tasks.
func (c *Core) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	c.scheduler.Every("ledger-sweep", c.cfg.SweepInterval, func() {
		swept := c.ledger.Sweep()
		c.metrics.AddLedgerSwept(swept)
		c.metrics.SetLedgerEntries(c.ledger.Len())
		if swept > 0 {
			c.log.Debug("ledger sweep", zap.Int("pruned", swept))
		}
	})
	c.scheduler.Every("notify-flush", c.notifyCfg.FlushInterval, c.queue.Flush)
	c.scheduler.Every("history-prune", c.notifyCfg.PruneInterval, func() {
		c.queue.Prune()
	})
	c.scheduler.Every("uptime", 15*time.Second, c.metrics.UpdateUptime)

	c.log.Info("pipeline started",
		zap.Duration("sweep_interval", c.cfg.SweepInterval),
		zap.Duration("flush_interval", c.notifyCfg.FlushInterval),
	)
}

// Stop cancels periodic tasks and drains pending notifications.
func (c *Core) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	c.scheduler.Stop()
	c.queue.Flush()
	c.log.Info("pipeline stopped")
}

// Handle runs one error through the pipeline. The returned Outcome's Err
// is non-nil only when the matching rule rethrows; callers treat that as
// the error escaping the pipeline.
func (c *Core) Handle(ctx context.Context, err error, errCtx map[string]any) Outcome {
	if err == nil {
		return Outcome{}
	}

	rec := c.normalizer.Normalize(err, errCtx)
	c.metrics.RecordError(rec.Kind.String(), rec.Severity.String())
	c.collector.Record(rec)
	c.emit(Event{Type: EventError, Record: rec})

	if c.ledger.InCooldown(rec) {
		c.metrics.RecordSuppressed(rec.Kind.String())
		c.log.Debug("suppressed by cooldown",
			zap.String("kind", rec.Kind.String()),
			zap.String("message", rec.Message),
		)
		return Outcome{Record: rec, Suppressed: true}
	}

	out := Outcome{Record: rec}
	if rule := c.engine.Find(rec); rule != nil {
		res := c.engine.Execute(rec, rule)
		out.Action = res.Action.String()
		out.Err = res.Err
		c.metrics.RecordRuleExecution(res.Action.String(), outcomeLabel(res.Success))
		if res.ShouldNotify {
			out.Notified = c.queue.Enqueue(rec)
		}
	}

	// Critical and fatal failures always surface, rule or no rule.
	if !out.Notified && rec.Severity >= taxonomy.SeverityCritical {
		out.Notified = c.queue.Enqueue(rec)
	}

	if rec.Recoverable {
		c.spawnRecovery(rec, errCtx)
	}

	return out
}

// spawnRecovery schedules a fire-and-forget recovery attempt. Critical
// failures skip the settle delay.
func (c *Core) spawnRecovery(rec *taxonomy.Record, errCtx map[string]any) {
	delay := c.cfg.RecoveryDelay
	if rec.Severity >= taxonomy.SeverityCritical {
		delay = 0
	}
	c.clock.AfterFunc(delay, func() {
		res := c.registry.Attempt(context.Background(), rec, errCtx)
		if !res.Success && res.RequiresUserAction {
			c.queue.Enqueue(rec)
		}
	})
}

// emit delivers ev to every listener outside the core lock.
func (c *Core) emit(ev Event) {
	c.mu.Lock()
	ls := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

// AddListener subscribes to pipeline events and returns a removal token.
func (c *Core) AddListener(l Listener) string {
	id := uuid.NewString()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[id] = l
	return id
}

// RemoveListener unsubscribes a listener by its token.
func (c *Core) RemoveListener(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listeners, id)
}

// AddRule appends a rule evaluated after the defaults.
func (c *Core) AddRule(rule rules.Rule) {
	c.engine.Add(rule)
}

// AddStrategy registers an extra recovery strategy.
func (c *Core) AddStrategy(s recovery.Strategy) {
	c.registry.Register(s)
}

// WithFallback exposes the caller-side retry/fallback wrapper.
func (c *Core) WithFallback(op recovery.Operation, opts recovery.FallbackOptions) recovery.Operation {
	return c.registry.WithFallback(op, opts)
}

// ShowSuccess pushes a throttle-exempt success toast.
func (c *Core) ShowSuccess(message string) {
	c.queue.Direct(notify.Toast(taxonomy.SeverityInfo, message))
}

// ShowWarning pushes a throttle-exempt warning toast.
func (c *Core) ShowWarning(message string) {
	c.queue.Direct(notify.Toast(taxonomy.SeverityWarning, message))
}

// RetryError re-dispatches an error-retry event for a recent record. The
// original caller listens for it and re-runs the failed operation.
func (c *Core) RetryError(id string) {
	for _, rec := range c.collector.Recent(0) {
		if rec.ID == id {
			c.emit(Event{Type: EventRetry, Record: rec})
			return
		}
	}
	c.log.Debug("retry requested for unknown record", zap.String("id", id))
}

// DismissNotification removes a persistent notification.
func (c *Core) DismissNotification(id string) bool {
	return c.queue.Dismiss(id)
}

// Notifications exposes the queue for the transport layer (websocket sink
// registration, active/dismiss endpoints).
func (c *Core) Notifications() *notify.Queue {
	return c.queue
}

// Stats returns the JSON stats snapshot.
func (c *Core) Stats() stats.Summary {
	return c.collector.Summary()
}

// Recent returns up to n recent records, newest first.
func (c *Core) Recent(n int) []*taxonomy.Record {
	return c.collector.Recent(n)
}

// Diagnostics builds the copy-details/report bundle for a record id.
func (c *Core) Diagnostics(id string) (*notify.Bundle, error) {
	for _, rec := range c.collector.Recent(0) {
		if rec.ID == id {
			return &notify.Bundle{
				GeneratedAt: c.clock.Now(),
				Record:      rec,
				Recent:      c.collector.Recent(10),
				Stats:       c.collector.Summary(),
			}, nil
		}
	}
	return nil, fmt.Errorf("record %s not found", id)
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
