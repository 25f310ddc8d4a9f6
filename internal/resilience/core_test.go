package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/capturekit/resilience/internal/notify"
	"github.com/capturekit/resilience/internal/recovery"
	"github.com/capturekit/resilience/internal/rules"
	"github.com/capturekit/resilience/internal/sched"
	"github.com/capturekit/resilience/internal/taxonomy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestCore(t *testing.T) (*Core, *sched.Fake) {
	t.Helper()
	clock := sched.NewFake(time.Unix(0, 0))
	c := New(Options{Clock: clock})
	return c, clock
}

// captureSink records flushed notifications.
type captureSink struct {
	mu   sync.Mutex
	seen []*notify.Notification
}

func (s *captureSink) Deliver(n *notify.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, n)
}

func (s *captureSink) all() []*notify.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*notify.Notification(nil), s.seen...)
}

func TestHandleNormalizesAndCounts(t *testing.T) {
	c, _ := newTestCore(t)

	out := c.Handle(context.Background(), errors.New("fetch failed: connection refused"), nil)
	require.NotNil(t, out.Record)
	assert.Equal(t, taxonomy.KindNetwork, out.Record.Kind)
	assert.False(t, out.Suppressed)
	assert.Equal(t, "retry", out.Action, "default network rule signals retry")
	assert.NoError(t, out.Err)

	s := c.Stats()
	assert.Equal(t, int64(1), s.Total)
	assert.Equal(t, int64(1), s.ByKind["network"])
}

func TestHandleNilError(t *testing.T) {
	c, _ := newTestCore(t)
	out := c.Handle(context.Background(), nil, nil)
	assert.Nil(t, out.Record)
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	c, clock := newTestCore(t)
	fail := func() Outcome {
		return c.Handle(context.Background(), errors.New("fetch failed: connection refused"), nil)
	}

	// Network tolerates 3 occurrences in 30s; the third escalates but is
	// itself not suppressed.
	for i := 0; i < 3; i++ {
		assert.False(t, fail().Suppressed, "occurrence %d", i+1)
		clock.Advance(2 * time.Second)
	}

	out := fail()
	assert.True(t, out.Suppressed)
	assert.Empty(t, out.Action, "no rule dispatch while suppressed")

	// Suppressed errors still count in stats.
	assert.Equal(t, int64(4), c.Stats().Total)
}

func TestListeners(t *testing.T) {
	c, _ := newTestCore(t)

	var mu sync.Mutex
	var events []Event
	id := c.AddListener(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	c.Handle(context.Background(), errors.New("parse error: unexpected token"), nil)

	mu.Lock()
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, taxonomy.KindParsing, events[0].Record.Kind)
	mu.Unlock()

	c.RemoveListener(id)
	c.Handle(context.Background(), errors.New("parse error: unexpected token again"), nil)

	mu.Lock()
	assert.Len(t, events, 1, "removed listener sees nothing")
	mu.Unlock()
}

func TestFatalRethrows(t *testing.T) {
	c, _ := newTestCore(t)

	rec := taxonomy.NewRecord(taxonomy.KindUnknown, taxonomy.SeverityFatal, "unrecoverable state")
	rec.Recoverable = false

	out := c.Handle(context.Background(), rec, nil)
	assert.Equal(t, "throw", out.Action)
	require.Error(t, out.Err)
	assert.Same(t, rec, out.Record, "normalization is idempotent on records")
}

func TestCriticalAlwaysNotifies(t *testing.T) {
	c, _ := newTestCore(t)
	sink := &captureSink{}
	c.Notifications().AddSink(sink)

	out := c.Handle(context.Background(), errors.New("out of memory: heap exhausted"), nil)
	assert.Equal(t, taxonomy.SeverityCritical, out.Record.Severity)
	assert.True(t, out.Notified)

	c.Notifications().Flush()
	seen := sink.all()
	require.Len(t, seen, 1)
	assert.True(t, seen[0].Persistent)
}

func TestBackgroundRecovery(t *testing.T) {
	clock := sched.NewFake(time.Unix(0, 0))
	c := New(Options{Clock: clock})

	recovered := &stubStrategy{id: "stub-net", priority: 200,
		accepts: func(rec *taxonomy.Record) bool { return rec.Kind == taxonomy.KindNetwork },
		result:  recovery.Result{Success: true, Message: "Connection restored"}}
	c.AddStrategy(recovered)

	sink := &captureSink{}
	c.Notifications().AddSink(sink)

	var mu sync.Mutex
	var recoveredEvents int
	c.AddListener(func(ev Event) {
		if ev.Type == EventRecovered {
			mu.Lock()
			recoveredEvents++
			mu.Unlock()
		}
	})

	c.Handle(context.Background(), errors.New("fetch failed: connection refused"), nil)
	assert.Equal(t, int32(0), recovered.calls.Load(), "recovery is deferred")

	// Past the settle delay the attempt fires.
	clock.Advance(200 * time.Millisecond)
	assert.Equal(t, int32(1), recovered.calls.Load())

	mu.Lock()
	assert.Equal(t, 1, recoveredEvents)
	mu.Unlock()

	c.Notifications().Flush()
	seen := sink.all()
	require.Len(t, seen, 1)
	assert.Equal(t, "Connection restored", seen[0].Message)
	assert.Equal(t, taxonomy.SeverityInfo, seen[0].Severity)
}

func TestRetryErrorDispatchesEvent(t *testing.T) {
	c, _ := newTestCore(t)

	var mu sync.Mutex
	var retried []string
	c.AddListener(func(ev Event) {
		if ev.Type == EventRetry {
			mu.Lock()
			retried = append(retried, ev.Record.ID)
			mu.Unlock()
		}
	})

	out := c.Handle(context.Background(), errors.New("fetch failed: connection refused"), nil)
	c.RetryError(out.Record.ID)
	c.RetryError("no-such-id")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{out.Record.ID}, retried)
}

func TestShowSuccessAndWarning(t *testing.T) {
	c, _ := newTestCore(t)
	sink := &captureSink{}
	c.Notifications().AddSink(sink)

	c.ShowSuccess("Captured 12 posts")
	c.ShowWarning("Clipboard unavailable, copied to downloads instead")
	c.Notifications().Flush()

	seen := sink.all()
	require.Len(t, seen, 2)
	assert.Equal(t, taxonomy.SeverityInfo, seen[0].Severity)
	assert.Equal(t, taxonomy.SeverityWarning, seen[1].Severity)
}

func TestDiagnostics(t *testing.T) {
	c, _ := newTestCore(t)

	out := c.Handle(context.Background(), errors.New("storage quota exceeded"), nil)
	b, err := c.Diagnostics(out.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Record.ID, b.Record.ID)
	assert.NotEmpty(t, b.Recent)

	_, err = c.Diagnostics("missing")
	assert.Error(t, err)
}

func TestStartStopLifecycle(t *testing.T) {
	clock := sched.NewFake(time.Unix(0, 0))
	c := New(Options{Clock: clock})
	sink := &captureSink{}
	c.Notifications().AddSink(sink)

	c.Start()
	c.Start() // idempotent

	// Permission errors notify by default rule.
	c.Handle(context.Background(), errors.New("permission denied for clipboard access"), nil)

	// The flush task drains the queue on its 2s tick.
	clock.Advance(2 * time.Second)
	waitFor(t, func() bool { return len(sink.all()) == 1 })

	c.Stop()
	c.Stop() // idempotent
}

func TestStopDrainsQueue(t *testing.T) {
	clock := sched.NewFake(time.Unix(0, 0))
	c := New(Options{Clock: clock})
	sink := &captureSink{}
	c.Notifications().AddSink(sink)

	c.Start()
	c.ShowSuccess("done")
	c.Stop()

	assert.Len(t, sink.all(), 1, "pending notifications flush on shutdown")
}

func TestCustomRulePrecedence(t *testing.T) {
	c, _ := newTestCore(t)
	c.AddRule(newIgnoreRule(t, taxonomy.KindScreenshot))

	out := c.Handle(context.Background(), errors.New("screenshot canvas tainted"), nil)
	assert.Equal(t, "ignore", out.Action)
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// stubStrategy mirrors the recovery package's test stub for core-level
// recovery assertions.
type stubStrategy struct {
	id       string
	priority int
	accepts  func(*taxonomy.Record) bool
	result   recovery.Result
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

func (s *stubStrategy) Recover(context.Context, *taxonomy.Record, map[string]any) (recovery.Result, error) {
	s.calls.Add(1)
	return s.result, nil
}

func newIgnoreRule(t *testing.T, kind taxonomy.Kind) rules.Rule {
	t.Helper()
	k := kind
	return rules.Rule{Name: fmt.Sprintf("ignore-%s", kind), Kind: &k, Action: rules.ActionIgnore}
}
