package recovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capturekit/resilience/internal/sched"
	"github.com/capturekit/resilience/internal/taxonomy"
)

// stubStrategy is a configurable strategy for registry tests.
type stubStrategy struct {
	id       string
	priority int
	accepts  func(*taxonomy.Record) bool
	result   Result
	err      error
	calls    atomic.Int32
}

func (s *stubStrategy) ID() string    { return s.id }
func (s *stubStrategy) Name() string  { return s.id }
func (s *stubStrategy) Priority() int { return s.priority }

func (s *stubStrategy) CanRecover(rec *taxonomy.Record) bool {
	if s.accepts == nil {
		return true
	}
	return s.accepts(rec)
}

func (s *stubStrategy) Recover(context.Context, *taxonomy.Record, map[string]any) (Result, error) {
	s.calls.Add(1)
	return s.result, s.err
}

func newTestRegistry(max int) (*Registry, *sched.Fake) {
	clock := sched.NewFake(time.Unix(0, 0))
	return NewRegistry(nil, clock, max), clock
}

func netRec(msg string) *taxonomy.Record {
	return taxonomy.NewRecord(taxonomy.KindNetwork, taxonomy.SeverityError, msg)
}

func TestHighestPriorityWins(t *testing.T) {
	r, _ := newTestRegistry(3)
	low := &stubStrategy{id: "low", priority: 10, result: Result{Success: true}}
	high := &stubStrategy{id: "high", priority: 90, result: Result{Success: true}}
	r.Register(low)
	r.Register(high)

	res := r.Attempt(context.Background(), netRec("x"), nil)
	assert.True(t, res.Success)
	assert.Equal(t, int32(1), high.calls.Load())
	assert.Equal(t, int32(0), low.calls.Load())
}

func TestPredicateGatesSelection(t *testing.T) {
	r, _ := newTestRegistry(3)
	memOnly := &stubStrategy{id: "mem", priority: 90,
		accepts: func(rec *taxonomy.Record) bool { return rec.Kind == taxonomy.KindMemory },
		result:  Result{Success: true}}
	anyKind := &stubStrategy{id: "any", priority: 10, result: Result{Success: true}}
	r.Register(memOnly)
	r.Register(anyKind)

	r.Attempt(context.Background(), netRec("x"), nil)
	assert.Equal(t, int32(0), memOnly.calls.Load())
	assert.Equal(t, int32(1), anyKind.calls.Load())
}

func TestRetryCap(t *testing.T) {
	r, _ := newTestRegistry(3)
	failing := &stubStrategy{id: "f", priority: 50, result: Result{Success: false}}
	r.Register(failing)
	rec := netRec("persistent failure")

	for i := 0; i < 3; i++ {
		res := r.Attempt(context.Background(), rec, nil)
		assert.False(t, res.Success)
		assert.False(t, res.RequiresUserAction)
	}
	assert.Equal(t, int32(3), failing.calls.Load())

	// The cap+1-th call returns without invoking any strategy.
	res := r.Attempt(context.Background(), rec, nil)
	assert.False(t, res.Success)
	assert.True(t, res.RequiresUserAction)
	assert.Equal(t, int32(3), failing.calls.Load())
}

func TestSuccessClearsCounterAndNotifies(t *testing.T) {
	r, _ := newTestRegistry(3)
	flaky := &stubStrategy{id: "f", priority: 50, result: Result{Success: false}}
	r.Register(flaky)
	rec := netRec("flaky")

	var successes atomic.Int32
	r.OnSuccess = func(*taxonomy.Record, Result) { successes.Add(1) }

	r.Attempt(context.Background(), rec, nil)
	r.Attempt(context.Background(), rec, nil)
	assert.Equal(t, 2, r.AttemptCount(rec))

	flaky.result = Result{Success: true}
	res := r.Attempt(context.Background(), rec, nil)
	assert.True(t, res.Success)
	assert.Equal(t, 0, r.AttemptCount(rec), "success clears the counter")
	assert.Equal(t, int32(1), successes.Load())

	// Counter reset means the key has full budget again.
	flaky.result = Result{Success: false}
	for i := 0; i < 3; i++ {
		r.Attempt(context.Background(), rec, nil)
	}
	assert.Equal(t, int32(6), flaky.calls.Load())
}

func TestNextAttemptDelaySchedulesOneRetry(t *testing.T) {
	r, clock := newTestRegistry(3)
	s := &stubStrategy{id: "s", priority: 50,
		result: Result{Success: false, NextAttemptDelay: 5 * time.Second}}
	r.Register(s)
	rec := netRec("offline")

	r.Attempt(context.Background(), rec, nil)
	assert.Equal(t, int32(1), s.calls.Load())

	// Timer fires the deferred attempt, which fails again and schedules
	// another, until the cap stops the chain.
	clock.Advance(5 * time.Second)
	assert.Equal(t, int32(2), s.calls.Load())
	clock.Advance(5 * time.Second)
	assert.Equal(t, int32(3), s.calls.Load())
	clock.Advance(time.Minute)
	assert.Equal(t, int32(3), s.calls.Load(), "cap bounds deferred re-attempts")
}

func TestNoApplicableStrategyConsumesNoBudget(t *testing.T) {
	r, _ := newTestRegistry(3)
	mem := &stubStrategy{id: "mem", priority: 50,
		accepts: func(rec *taxonomy.Record) bool { return rec.Kind == taxonomy.KindMemory }}
	r.Register(mem)
	rec := netRec("x")

	res := r.Attempt(context.Background(), rec, nil)
	assert.False(t, res.Success)
	assert.Equal(t, 0, r.AttemptCount(rec))
}

func TestStrategyErrorCountsAsFailure(t *testing.T) {
	r, _ := newTestRegistry(3)
	broken := &stubStrategy{id: "b", priority: 50, err: errors.New("strategy crashed")}
	r.Register(broken)

	res := r.Attempt(context.Background(), netRec("x"), nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "strategy crashed")
}

func TestReloadRequiredStrategy(t *testing.T) {
	s := NewReloadRequired()
	assert.False(t, s.CanRecover(netRec("x")))

	critical := taxonomy.NewRecord(taxonomy.KindMemory, taxonomy.SeverityCritical, "oom")
	fatal := taxonomy.NewRecord(taxonomy.KindUnknown, taxonomy.SeverityFatal, "dead")
	require.True(t, s.CanRecover(critical))
	require.True(t, s.CanRecover(fatal))

	res, err := s.Recover(context.Background(), critical, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.RequiresUserAction)
}

func TestTriggerStrategies(t *testing.T) {
	fired := make(map[string]map[string]any)
	trigger := TriggerFunc(func(_ context.Context, action string, params map[string]any) (bool, error) {
		fired[action] = params
		return true, nil
	})

	t.Run("memory cleanup", func(t *testing.T) {
		s := NewMemoryCleanup(trigger)
		rec := taxonomy.NewRecord(taxonomy.KindMemory, taxonomy.SeverityCritical, "heap")
		res, err := s.Recover(context.Background(), rec, nil)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Contains(t, fired, "cache.evict_all")
	})

	t.Run("storage cleanup passes age", func(t *testing.T) {
		s := NewStorageCleanup(trigger)
		rec := taxonomy.NewRecord(taxonomy.KindStorage, taxonomy.SeverityError, "quota")
		_, err := s.Recover(context.Background(), rec, nil)
		require.NoError(t, err)
		assert.Equal(t, int(storageEvictionAge.Seconds()), fired["storage.evict_older_than"]["age_seconds"])
	})

	t.Run("clipboard accepts clipboard-flavored permission errors", func(t *testing.T) {
		s := NewClipboardRequery(trigger)
		assert.True(t, s.CanRecover(taxonomy.NewRecord(taxonomy.KindClipboard, taxonomy.SeverityError, "x")))
		assert.True(t, s.CanRecover(taxonomy.NewRecord(taxonomy.KindPermission, taxonomy.SeverityWarning, "clipboard permission denied")))
		assert.False(t, s.CanRecover(taxonomy.NewRecord(taxonomy.KindPermission, taxonomy.SeverityWarning, "camera permission denied")))
	})

	t.Run("unwired trigger fails softly", func(t *testing.T) {
		s := NewMemoryCleanup(nil)
		rec := taxonomy.NewRecord(taxonomy.KindMemory, taxonomy.SeverityCritical, "heap")
		res, err := s.Recover(context.Background(), rec, nil)
		require.NoError(t, err)
		assert.False(t, res.Success)
	})
}

func TestDOMRequeryLoosensSelectors(t *testing.T) {
	var tried []string
	trigger := TriggerFunc(func(_ context.Context, action string, params map[string]any) (bool, error) {
		sel := params["selector"].(string)
		tried = append(tried, sel)
		return sel == "article", nil // only the bare tag matches
	})

	s := NewDOMRequery(trigger)
	rec := taxonomy.NewRecord(taxonomy.KindDOM, taxonomy.SeverityError, "element not found")
	rec.Context = map[string]any{"selector": `article.tweet[data-testid="tweet"]:nth-child(2)`}

	res, err := s.Recover(context.Background(), rec, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "article", res.Data)
	assert.Greater(t, len(tried), 1, "looser candidates were attempted in order")
}

func TestLoosenSelector(t *testing.T) {
	got := LoosenSelector(`div.media.preview[role="img"]:hover`)
	assert.Equal(t, `div.media.preview[role="img"]:hover`, got[0])
	assert.Contains(t, got, `div.media.preview[role="img"]`)
	assert.Contains(t, got, "div.media.preview")
	assert.Contains(t, got, "div.media")
	assert.Contains(t, got, "div")

	assert.NotEmpty(t, LoosenSelector(""), "empty selector still yields generic candidates")
}
