package sched

import (
	"sort"
	"sync"
	"time"
)

// Clock abstracts time for the pipeline's periodic work.
type Clock interface {
	Now() time.Time
	// NewTicker returns a ticker delivering on Chan every interval.
	NewTicker(interval time.Duration) Ticker
	// AfterFunc runs fn once after delay. The returned stop function
	// cancels the pending call; it reports whether cancellation happened
	// before fn ran.
	AfterFunc(delay time.Duration, fn func()) (stop func() bool)
}

// Ticker mirrors time.Ticker behind an interface.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// realClock delegates to the time package.
type realClock struct{}

// Real returns the wall-clock implementation.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(interval time.Duration) Ticker {
	return realTicker{time.NewTicker(interval)}
}

func (realClock) AfterFunc(delay time.Duration, fn func()) func() bool {
	t := time.AfterFunc(delay, fn)
	return t.Stop
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) Chan() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()                  { r.t.Stop() }

// Fake is a manually advanced clock for tests. Advance moves virtual time
// forward, firing due tickers and timers synchronously on the calling
// goroutine.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	timers  []*fakeTimer
}

// NewFake creates a fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTicker(interval time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{
		clock:    f,
		interval: interval,
		next:     f.now.Add(interval),
		ch:       make(chan time.Time, 1),
	}
	f.tickers = append(f.tickers, t)
	return t
}

func (f *Fake) AfterFunc(delay time.Duration, fn func()) func() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{at: f.now.Add(delay), fn: fn}
	f.timers = append(f.timers, t)
	return func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if t.fired || t.stopped {
			return false
		}
		t.stopped = true
		return true
	}
}

// Advance moves the clock forward by d, firing timers and tickers in
// timestamp order. Timer callbacks run synchronously, so tests observe
// their effects as soon as Advance returns.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)

	for {
		var due *fakeTimer
		for _, t := range f.timers {
			if t.fired || t.stopped || t.at.After(target) {
				continue
			}
			if due == nil || t.at.Before(due.at) {
				due = t
			}
		}
		var dueTick *fakeTicker
		for _, t := range f.tickers {
			if t.stopped || t.next.After(target) {
				continue
			}
			if dueTick == nil || t.next.Before(dueTick.next) {
				dueTick = t
			}
		}

		if due == nil && dueTick == nil {
			break
		}
		if due != nil && (dueTick == nil || !dueTick.next.Before(due.at)) {
			due.fired = true
			f.now = due.at
			fn := due.fn
			f.mu.Unlock()
			fn()
			f.mu.Lock()
			continue
		}
		f.now = dueTick.next
		dueTick.next = dueTick.next.Add(dueTick.interval)
		select {
		case dueTick.ch <- f.now:
		default:
		}
	}

	f.now = target
	f.prune()
	f.mu.Unlock()
}

func (f *Fake) prune() {
	live := f.timers[:0]
	for _, t := range f.timers {
		if !t.fired && !t.stopped {
			live = append(live, t)
		}
	}
	f.timers = live
	sort.Slice(f.tickers, func(i, j int) bool { return f.tickers[i].next.Before(f.tickers[j].next) })
}

type fakeTicker struct {
	clock    *Fake
	interval time.Duration
	next     time.Time
	ch       chan time.Time
	stopped  bool
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	t.stopped = true
	t.clock.mu.Unlock()
}

type fakeTimer struct {
	at      time.Time
	fn      func()
	fired   bool
	stopped bool
}
