package dispatch

import (
	"sync"
	"time"
)

// RetryScheduler tracks pending retry timers so shutdown can cancel them.
// A bare time.AfterFunc would leak a firing retry past engine stop; every
// timer here is held until it fires or is cancelled.
type RetryScheduler struct {
	mu      sync.Mutex
	timers  map[int]*time.Timer
	nextID  int
	stopped bool
}

// NewRetryScheduler returns an empty scheduler.
func NewRetryScheduler() *RetryScheduler {
	return &RetryScheduler{timers: make(map[int]*time.Timer)}
}

// After runs fn once delay elapses, unless the scheduler is shut down first.
// After a Shutdown, fn is dropped silently.
func (s *RetryScheduler) After(delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	id := s.nextID
	s.nextID++
	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, live := s.timers[id]
		delete(s.timers, id)
		stopped := s.stopped
		s.mu.Unlock()
		if live && !stopped {
			fn()
		}
	})
}

// Pending returns the number of retries not yet fired.
func (s *RetryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Shutdown cancels every pending retry. Scheduled functions that have not
// fired are discarded; no retry fires after Shutdown returns.
func (s *RetryScheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
