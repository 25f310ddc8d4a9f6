package recovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/capturekit/resilience/internal/sched"
)

// FallbackOptions tunes WithFallback wrapping.
type FallbackOptions struct {
	// Retries is how many times the operation is re-invoked after the
	// first failure.
	Retries int
	// RetryDelay is the base delay; attempt N waits RetryDelay x N.
	RetryDelay time.Duration
	// FallbackValue, when non-nil, is returned after every retry and
	// strategy has failed, instead of the error.
	FallbackValue any
}

// Operation is an arbitrary failable call wrapped by WithFallback.
type Operation func(ctx context.Context) (any, error)

// WithFallback wraps op with retry-then-fallback semantics: invoke, retry
// with linearly increasing delay, then walk the strategy registry in
// priority order, and finally either substitute the fallback value or
// return the normalized error. Collaborators get circuit-broken behavior
// without embedding any of it.
func (r *Registry) WithFallback(op Operation, opts FallbackOptions) Operation {
	return func(ctx context.Context) (any, error) {
		var lastErr error

		for attempt := 0; attempt <= opts.Retries; attempt++ {
			if attempt > 0 {
				if err := sleep(ctx, r.clock, time.Duration(attempt)*opts.RetryDelay); err != nil {
					return nil, err
				}
			}
			result, err := op(ctx)
			if err == nil {
				return result, nil
			}
			lastErr = err
		}

		rec := r.normalizer.Normalize(lastErr, nil)
		r.log.Debug("retries exhausted, walking strategies",
			zap.String("kind", rec.Kind.String()),
			zap.Int("retries", opts.Retries),
		)

		for _, s := range r.Strategies() {
			if !s.CanRecover(rec) {
				continue
			}
			res, err := s.Recover(ctx, rec, nil)
			if err != nil || !res.Success {
				continue
			}
			if res.Data != nil {
				return res.Data, nil
			}
			// Strategy fixed the underlying condition; one more try.
			if result, err := op(ctx); err == nil {
				return result, nil
			}
			break
		}

		if opts.FallbackValue != nil {
			return opts.FallbackValue, nil
		}
		return nil, rec
	}
}

// sleep waits d on the registry clock, honoring ctx cancellation.
func sleep(ctx context.Context, clock sched.Clock, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	done := make(chan struct{})
	stop := clock.AfterFunc(d, func() { close(done) })
	select {
	case <-ctx.Done():
		stop()
		return ctx.Err()
	case <-done:
		return nil
	}
}
