// Package player provides a headless video element for terminals and
// tests. It keeps a clock-driven position and reports its own transitions
// the way a browser media element fires events.
package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RanFeng/ilog"
	bclock "github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"

	"groupwatch/internal/clock"
	"groupwatch/internal/playback"
)

const DefaultMetadataDelay = 200 * time.Millisecond

var ErrAutoplayBlocked = errors.New("playback was prevented by the autoplay policy")

type Config struct {
	// MetadataDelay is how long a load takes to learn duration and size.
	MetadataDelay time.Duration
	// BlockAutoplay refuses Play until the user has started playback once.
	BlockAutoplay bool
}

type Option func(*Sim)

// WithClock drives position and metadata timers from c.
func WithClock(c bclock.Clock) Option {
	return func(s *Sim) {
		s.clk = c
		s.sched = clock.FromClock(c)
	}
}

func WithMetadataDelay(d time.Duration) Option {
	return func(s *Sim) {
		s.cfg.MetadataDelay = d
	}
}

// WithAutoplayBlocked makes programmatic Play fail until UserPlay.
func WithAutoplayBlocked() Option {
	return func(s *Sim) {
		s.cfg.BlockAutoplay = true
	}
}

// Status is a point-in-time view of the player.
type Status struct {
	Source      string
	Playing     bool
	Position    float64
	HasMetadata bool
}

// Sim implements playback.Player.
type Sim struct {
	cfg   Config
	clk   bclock.Clock
	sched clock.Scheduler

	mu          sync.Mutex
	source      string
	loadGen     uint64
	hasMetadata bool
	playing     bool
	position    float64
	anchor      time.Time
	gestured    bool
	metaTimer   clock.Timer

	events chan any
	done   chan struct{}
	once   sync.Once
}

// New returns a player that posts its Transition and MetadataReady events
// through post, in order and never from the caller's goroutine.
func New(post func(ev any), opts ...Option) *Sim {
	s := &Sim{
		cfg:    Config{MetadataDelay: DefaultMetadataDelay},
		clk:    bclock.New(),
		events: make(chan any, 256),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sched == nil {
		s.sched = clock.FromClock(s.clk)
	}
	go s.deliver(post)
	return s
}

var _ playback.Player = (*Sim)(nil)

func (s *Sim) SetSource(locator string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = locator
	s.playing = false
	s.position = 0
	s.hasMetadata = false
	s.loadGen++
	s.stopMetaTimer()
}

func (s *Sim) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasMetadata = false
	s.loadGen++
	s.stopMetaTimer()
	if s.source == "" {
		return
	}
	gen := s.loadGen
	s.metaTimer = s.sched.AfterFunc(s.cfg.MetadataDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.loadGen {
			return
		}
		s.hasMetadata = true
		s.emit(playback.MetadataReady{})
	})
}

func (s *Sim) Seek(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seekLocked(seconds)
}

// Play starts playback unless the autoplay policy refuses it.
func (s *Sim) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.BlockAutoplay && !s.gestured {
		return ErrAutoplayBlocked
	}
	s.playLocked()
	return nil
}

func (s *Sim) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseLocked()
}

func (s *Sim) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

func (s *Sim) HasMetadata() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMetadata
}

// UserPlay is playback started by the local user. It also satisfies the
// autoplay policy for later programmatic starts.
func (s *Sim) UserPlay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gestured = true
	s.playLocked()
}

func (s *Sim) UserPause() {
	s.Pause()
}

func (s *Sim) UserSeek(seconds float64) {
	s.Seek(seconds)
}

func (s *Sim) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Source:      s.source,
		Playing:     s.playing,
		Position:    s.positionLocked(),
		HasMetadata: s.hasMetadata,
	}
}

// Close stops event delivery. Events still queued are discarded.
func (s *Sim) Close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.stopMetaTimer()
		s.mu.Unlock()
	})
}

func (s *Sim) playLocked() {
	if s.playing {
		return
	}
	s.position = s.positionLocked()
	s.anchor = s.clk.Now()
	s.playing = true
	s.emit(playback.Transition{Kind: playback.Played, At: s.position})
}

func (s *Sim) pauseLocked() {
	if !s.playing {
		return
	}
	s.position = s.positionLocked()
	s.playing = false
	s.emit(playback.Transition{Kind: playback.Paused, At: s.position})
}

func (s *Sim) seekLocked(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	s.position = seconds
	s.anchor = s.clk.Now()
	s.emit(playback.Transition{Kind: playback.Seeked, At: seconds})
}

func (s *Sim) positionLocked() float64 {
	if !s.playing {
		return s.position
	}
	return s.position + s.clk.Since(s.anchor).Seconds()
}

func (s *Sim) stopMetaTimer() {
	if s.metaTimer != nil {
		s.metaTimer.Stop()
		s.metaTimer = nil
	}
}

// emit queues ev. The queue is drained by deliver so the caller, which may
// be the event loop itself, never blocks on post. Callers hold s.mu, so a
// full queue drops the event instead of waiting.
func (s *Sim) emit(ev any) {
	select {
	case s.events <- ev:
	case <-s.done:
	default:
		ilog.EventInfo(context.Background(), "PlayerEventDropped", "event", fmt.Sprintf("%T", ev), "source", s.source)
	}
}

func (s *Sim) deliver(post func(ev any)) {
	for {
		select {
		case ev := <-s.events:
			post(ev)
		case <-s.done:
			return
		}
	}
}
