package playback

import (
	"time"

	"groupwatch/internal/clock"
	"groupwatch/internal/session"
)

// SettleDue is posted when a suppression window's settle delay ran out.
type SettleDue struct {
	gen uint64
}

// Suppressor owns the single suppression window of a session. Each Arm
// starts a new generation; a settle timer only clears the window of the
// generation it was scheduled for, so a late timer from an earlier remote
// command cannot reopen local emission in the middle of a newer one.
type Suppressor struct {
	state *session.State
	sched clock.Scheduler
	post  func(ev any)
	timer clock.Timer
}

func NewSuppressor(state *session.State, sched clock.Scheduler, post func(ev any)) *Suppressor {
	return &Suppressor{state: state, sched: sched, post: post}
}

// Arm opens a new window, replacing any settle timer still pending.
func (s *Suppressor) Arm() uint64 {
	s.stopTimer()
	s.state.SuppressionGen++
	s.state.Suppressed = true
	return s.state.SuppressionGen
}

// ClearAfter schedules the current window to close after d.
func (s *Suppressor) ClearAfter(d time.Duration) {
	s.stopTimer()
	gen := s.state.SuppressionGen
	s.timer = s.sched.AfterFunc(d, func() {
		s.post(SettleDue{gen: gen})
	})
}

// ClearNow closes the window immediately.
func (s *Suppressor) ClearNow() {
	s.stopTimer()
	s.state.Suppressed = false
}

// HandleSettle closes the window if ev belongs to the current generation.
func (s *Suppressor) HandleSettle(ev SettleDue) bool {
	if ev.gen != s.state.SuppressionGen {
		return false
	}
	s.timer = nil
	s.state.Suppressed = false
	return true
}

func (s *Suppressor) Active() bool {
	return s.state.Suppressed
}

func (s *Suppressor) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
