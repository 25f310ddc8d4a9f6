package sched

import (
	"sync"
	"time"
)

// Scheduler owns a set of named periodic tasks. Tasks are idempotent
// sweeps; overlapping or missed runs are harmless, so no catch-up is
// attempted.
type Scheduler struct {
	clock Clock

	mu      sync.Mutex
	cancels map[string]chan struct{}
	wg      sync.WaitGroup
	stopped bool
}

// NewScheduler creates a scheduler driven by clock.
func NewScheduler(clock Clock) *Scheduler {
	return &Scheduler{
		clock:   clock,
		cancels: make(map[string]chan struct{}),
	}
}

// Clock exposes the scheduler's clock so components share one time source.
func (s *Scheduler) Clock() Clock { return s.clock }

// Every runs fn on a fixed interval until cancelled or the scheduler stops.
// Registering a task under an existing name cancels the previous one.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if prev, ok := s.cancels[name]; ok {
		close(prev)
	}
	done := make(chan struct{})
	s.cancels[name] = done
	s.wg.Add(1)
	s.mu.Unlock()

	// Create the ticker before spawning the goroutine so the tick epoch is
	// anchored to the Every call itself, not to goroutine startup.
	ticker := s.clock.NewTicker(interval)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.Chan():
				// Recheck cancellation; a tick may already be buffered
				// when the task is cancelled.
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()
}

// Cancel stops a single named task.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if done, ok := s.cancels[name]; ok {
		close(done)
		delete(s.cancels, name)
	}
}

// Stop cancels every task and waits for their goroutines to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for name, done := range s.cancels {
		close(done)
		delete(s.cancels, name)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
