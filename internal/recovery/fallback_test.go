package recovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capturekit/resilience/internal/taxonomy"
)

func TestWithFallbackSucceedsFirstTry(t *testing.T) {
	r, _ := newTestRegistry(3)
	wrapped := r.WithFallback(func(context.Context) (any, error) {
		return "ok", nil
	}, FallbackOptions{Retries: 3, RetryDelay: time.Second})

	got, err := wrapped(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestWithFallbackRetriesThenSucceeds(t *testing.T) {
	r, _ := newTestRegistry(3)
	var calls atomic.Int32
	wrapped := r.WithFallback(func(context.Context) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("fetch failed")
		}
		return "recovered", nil
	}, FallbackOptions{Retries: 3})

	got, err := wrapped(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWithFallbackLinearDelay(t *testing.T) {
	r, clock := newTestRegistry(3)
	var calls atomic.Int32
	wrapped := r.WithFallback(func(context.Context) (any, error) {
		calls.Add(1)
		return nil, errors.New("fetch failed")
	}, FallbackOptions{Retries: 2, RetryDelay: time.Second, FallbackValue: "fb"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		got, err := wrapped(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, "fb", got)
	}()

	// Attempt 1 runs immediately; retry 1 waits 1s, retry 2 waits 2s.
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		clock.Advance(time.Second)
		time.Sleep(time.Millisecond)
	}
	<-done
	assert.Equal(t, int32(3), calls.Load())
}

func TestWithFallbackWalksStrategies(t *testing.T) {
	r, _ := newTestRegistry(3)
	r.Register(&stubStrategy{id: "sub", priority: 50,
		result: Result{Success: true, Data: "cached copy"}})

	wrapped := r.WithFallback(func(context.Context) (any, error) {
		return nil, errors.New("fetch failed")
	}, FallbackOptions{})

	got, err := wrapped(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached copy", got, "strategy-provided data substitutes the result")
}

func TestWithFallbackRetriesAfterStrategyFix(t *testing.T) {
	r, _ := newTestRegistry(3)
	fixed := false
	r.Register(&stubStrategy{id: "fix", priority: 50, result: Result{Success: true}})

	var calls int
	wrapped := r.WithFallback(func(context.Context) (any, error) {
		calls++
		if fixed {
			return "after fix", nil
		}
		fixed = true // the strategy "fixes" the condition between calls
		return nil, errors.New("fetch failed")
	}, FallbackOptions{})

	got, err := wrapped(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "after fix", got)
	assert.Equal(t, 2, calls)
}

func TestWithFallbackValueWhenEverythingFails(t *testing.T) {
	r, _ := newTestRegistry(3)
	r.Register(&stubStrategy{id: "f", priority: 50, result: Result{Success: false}})

	wrapped := r.WithFallback(func(context.Context) (any, error) {
		return nil, errors.New("fetch failed")
	}, FallbackOptions{FallbackValue: []string{}})

	got, err := wrapped(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{}, got)
}

func TestWithFallbackReturnsNormalizedError(t *testing.T) {
	r, _ := newTestRegistry(3)

	wrapped := r.WithFallback(func(context.Context) (any, error) {
		return nil, errors.New("clipboard write rejected")
	}, FallbackOptions{})

	_, err := wrapped(context.Background())
	require.Error(t, err)

	var rec *taxonomy.Record
	require.ErrorAs(t, err, &rec)
	assert.Equal(t, taxonomy.KindClipboard, rec.Kind)
}

func TestWithFallbackHonorsContextCancellation(t *testing.T) {
	r, _ := newTestRegistry(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	wrapped := r.WithFallback(func(context.Context) (any, error) {
		return nil, errors.New("fetch failed")
	}, FallbackOptions{Retries: 5, RetryDelay: time.Hour})

	_, err := wrapped(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
