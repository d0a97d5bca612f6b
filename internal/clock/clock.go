package clock

import (
	"time"

	bclock "github.com/benbjohnson/clock"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler runs callbacks after a delay. Callbacks run on their own
// goroutine and must hand their work back to the event loop.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type scheduler struct {
	clk bclock.Clock
}

// New returns a Scheduler backed by the wall clock.
func New() Scheduler {
	return FromClock(bclock.New())
}

// FromClock adapts a benbjohnson clock (real or mock).
func FromClock(c bclock.Clock) Scheduler {
	return &scheduler{clk: c}
}

func (s *scheduler) AfterFunc(d time.Duration, f func()) Timer {
	return s.clk.AfterFunc(d, f)
}
