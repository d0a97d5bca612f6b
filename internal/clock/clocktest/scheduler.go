// Package clocktest provides a manually driven Scheduler for tests.
package clocktest

import (
	"sync"
	"time"

	"groupwatch/internal/clock"
)

// Timer is a timer registered with a Scheduler.
type Timer struct {
	Delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
	s       *Scheduler
}

// Stop cancels the timer. It reports whether the timer was still pending.
func (t *Timer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Pending reports whether the timer has neither fired nor been stopped.
func (t *Timer) Pending() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return !t.stopped && !t.fired
}

// Fire runs the callback synchronously if the timer is still pending.
func (t *Timer) Fire() bool {
	t.s.mu.Lock()
	if t.stopped || t.fired {
		t.s.mu.Unlock()
		return false
	}
	t.fired = true
	t.s.mu.Unlock()
	t.fn()
	return true
}

// Scheduler records every AfterFunc call instead of waiting.
type Scheduler struct {
	mu     sync.Mutex
	timers []*Timer
}

var _ clock.Scheduler = (*Scheduler)(nil)

func New() *Scheduler {
	return &Scheduler{}
}

func (s *Scheduler) AfterFunc(d time.Duration, f func()) clock.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Timer{Delay: d, fn: f, s: s}
	s.timers = append(s.timers, t)
	return t
}

// All returns every timer ever scheduled, in order.
func (s *Scheduler) All() []*Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Timer, len(s.timers))
	copy(out, s.timers)
	return out
}

// Pending returns the timers that are still waiting.
func (s *Scheduler) Pending() []*Timer {
	var out []*Timer
	for _, t := range s.All() {
		if t.Pending() {
			out = append(out, t)
		}
	}
	return out
}

// Last returns the most recently scheduled timer, or nil.
func (s *Scheduler) Last() *Timer {
	all := s.All()
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// FireAll fires every pending timer once, oldest first, and returns how
// many ran. Timers scheduled by the callbacks are left pending.
func (s *Scheduler) FireAll() int {
	n := 0
	for _, t := range s.Pending() {
		if t.Fire() {
			n++
		}
	}
	return n
}
