package recovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capturekit/resilience/internal/cooldown"
	"github.com/capturekit/resilience/internal/infrastructure/logging"
	"github.com/capturekit/resilience/internal/sched"
	"github.com/capturekit/resilience/internal/taxonomy"
)

// Result reports the outcome of one recovery attempt.
type Result struct {
	Success bool `json:"success"`
	// Data optionally carries a substitute value for the failed operation.
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	// RequiresUserAction means automated recovery is exhausted.
	RequiresUserAction bool `json:"requires_user_action"`
	// NextAttemptDelay asks the registry to schedule a single re-attempt.
	NextAttemptDelay time.Duration `json:"-"`
}

// Strategy is one named, predicate-gated recovery routine.
type Strategy interface {
	ID() string
	Name() string
	// Priority orders strategies; the registry tries higher first.
	Priority() int
	CanRecover(rec *taxonomy.Record) bool
	Recover(ctx context.Context, rec *taxonomy.Record, rctx map[string]any) (Result, error)
}

// Registry selects and runs recovery strategies, enforcing the per-key
// retry cap.
type Registry struct {
	log         *logging.Logger
	clock       sched.Clock
	normalizer  *taxonomy.Normalizer
	maxAttempts int

	// OnSuccess, when set, is called after a strategy recovers a record;
	// the core uses it to queue a success notification.
	OnSuccess func(rec *taxonomy.Record, res Result)
	// OnAttempt, when set, observes every strategy invocation for metrics.
	OnAttempt func(strategy string, outcome string, elapsed time.Duration)

	mu         sync.Mutex
	strategies []Strategy
	attempts   map[uint64]int
}

// NewRegistry creates an empty registry with the given retry cap.
func NewRegistry(log *logging.Logger, clock sched.Clock, maxAttempts int) *Registry {
	if log == nil {
		log = logging.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Registry{
		log:         log.Named("recovery"),
		clock:       clock,
		normalizer:  taxonomy.NewNormalizer(),
		maxAttempts: maxAttempts,
		attempts:    make(map[uint64]int),
	}
}

// Register adds a strategy, keeping the list sorted by descending
// priority. Equal priorities keep registration order.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies = append(r.strategies, s)
	sort.SliceStable(r.strategies, func(i, j int) bool {
		return r.strategies[i].Priority() > r.strategies[j].Priority()
	})
}

// Strategies returns the registered strategies in priority order.
func (r *Registry) Strategies() []Strategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Strategy, len(r.strategies))
	copy(out, r.strategies)
	return out
}

// Attempt runs the highest-priority matching strategy for rec.
//
// Each error signature gets at most maxAttempts strategy invocations;
// past the cap the registry reports RequiresUserAction without invoking
// anything. A successful recovery clears the counter. A failed result
// carrying NextAttemptDelay schedules exactly one timer-driven re-attempt,
// which itself consumes an attempt, so the cap still bounds total work.
func (r *Registry) Attempt(ctx context.Context, rec *taxonomy.Record, rctx map[string]any) Result {
	key := cooldown.Signature(rec)

	r.mu.Lock()
	if r.attempts[key] >= r.maxAttempts {
		r.mu.Unlock()
		return Result{
			Success:            false,
			Message:            "max recovery attempts reached",
			RequiresUserAction: true,
		}
	}
	strategy := r.selectLocked(rec)
	if strategy == nil {
		r.mu.Unlock()
		return Result{Success: false, Message: "no applicable recovery strategy"}
	}
	r.attempts[key]++
	r.mu.Unlock()

	start := r.clock.Now()
	res, err := strategy.Recover(ctx, rec, rctx)
	elapsed := r.clock.Now().Sub(start)

	outcome := "success"
	if err != nil || !res.Success {
		outcome = "failure"
	}
	if r.OnAttempt != nil {
		r.OnAttempt(strategy.ID(), outcome, elapsed)
	}

	if err != nil {
		r.log.Warn("recovery strategy failed",
			zap.String("strategy", strategy.ID()),
			zap.String("kind", rec.Kind.String()),
			zap.Error(err),
		)
		res = Result{Success: false, Message: err.Error()}
	}

	if res.Success {
		r.mu.Lock()
		delete(r.attempts, key)
		r.mu.Unlock()
		r.log.Info("recovered",
			zap.String("strategy", strategy.ID()),
			zap.String("kind", rec.Kind.String()),
		)
		if r.OnSuccess != nil {
			r.OnSuccess(rec, res)
		}
		return res
	}

	if res.NextAttemptDelay > 0 {
		// Single deferred re-attempt; the cap above bounds recursion.
		r.clock.AfterFunc(res.NextAttemptDelay, func() {
			r.Attempt(context.Background(), rec, rctx)
		})
	}
	return res
}

// selectLocked picks the highest-priority strategy whose predicate
// accepts rec. Callers hold r.mu.
func (r *Registry) selectLocked(rec *taxonomy.Record) Strategy {
	for _, s := range r.strategies {
		if s.CanRecover(rec) {
			return s
		}
	}
	return nil
}

// AttemptCount reports consumed attempts for a record's signature.
func (r *Registry) AttemptCount(rec *taxonomy.Record) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[cooldown.Signature(rec)]
}

// ResetAttempts clears the counter for a signature, used when the user
// explicitly retries from a notification action.
func (r *Registry) ResetAttempts(rec *taxonomy.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, cooldown.Signature(rec))
}
