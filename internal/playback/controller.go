package playback

import (
	"context"
	"time"

	"github.com/RanFeng/ilog"
	"github.com/cockroachdb/errors"

	"groupwatch/internal/clock"
	"groupwatch/internal/metrics"
	"groupwatch/internal/notice"
	"groupwatch/internal/protocol"
	"groupwatch/internal/session"
)

const (
	DefaultControlSettle = 500 * time.Millisecond
	DefaultSyncSettle    = time.Second
	DefaultReadyTimeout  = 3 * time.Second
)

// ReadyTimeout is posted when a sync has waited too long for metadata.
type ReadyTimeout struct {
	gen uint64
}

type Config struct {
	// Identity is the local member; video controls from it are echoes.
	Identity   string
	StreamBase string
	// ControlSettle is how long play/pause/seek/change_video suppress
	// local emission.
	ControlSettle time.Duration
	// SyncSettle is the longer window after a sync, which may include an
	// asynchronous playback start.
	SyncSettle time.Duration
	// ReadyTimeout forces a pending sync through when metadata never comes.
	ReadyTimeout time.Duration
}

type Deps struct {
	Player     Player
	Suppressor *Suppressor
	Scheduler  clock.Scheduler
	Post       func(ev any)
	Notifier   notice.Notifier
	Metrics    *metrics.Metrics
}

type pendingSync struct {
	gen     uint64
	at      float64
	playing bool
}

// Controller applies remote playback commands to the local player.
type Controller struct {
	cfg   Config
	state *session.State
	deps  Deps

	phase      Phase
	pending    *pendingSync
	readyTimer clock.Timer
}

func NewController(state *session.State, cfg Config, deps Deps) *Controller {
	if cfg.ControlSettle <= 0 {
		cfg.ControlSettle = DefaultControlSettle
	}
	if cfg.SyncSettle <= 0 {
		cfg.SyncSettle = DefaultSyncSettle
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if deps.Notifier == nil {
		deps.Notifier = notice.Discard
	}
	return &Controller{cfg: cfg, state: state, deps: deps}
}

func (c *Controller) Phase() Phase {
	return c.phase
}

// ApplyControl applies a video_control relayed from another member.
func (c *Controller) ApplyControl(ctx context.Context, vc protocol.VideoControl) {
	if vc.User == c.cfg.Identity {
		ilog.EventInfo(ctx, "VideoControlEcho", "action", vc.Action)
		return
	}
	if vc.Action == protocol.ActionChangeVideo && protocol.String(vc.Name) == "" {
		ilog.EventInfo(ctx, "VideoControlDropped", "action", vc.Action, "user", vc.User, "reason", "missing video_name")
		return
	}

	c.deps.Suppressor.Arm()
	ilog.EventInfo(ctx, "VideoControlApply", "action", vc.Action, "user", vc.User, "time", vc.Time)

	switch vc.Action {
	case protocol.ActionPlay:
		if vc.Time != nil {
			c.seek(*vc.Time)
		}
		c.play(ctx)
	case protocol.ActionPause:
		if vc.Time != nil {
			c.seek(*vc.Time)
		}
		c.pause()
	case protocol.ActionSeek:
		if vc.Time != nil {
			c.seek(*vc.Time)
		}
	case protocol.ActionChangeVideo:
		c.load(*vc.Name)
		if vc.Time != nil {
			c.seek(*vc.Time)
		}
	}

	c.deps.Suppressor.ClearAfter(c.cfg.ControlSettle)
}

// ApplySync brings a newly connected member to the group's video state.
func (c *Controller) ApplySync(ctx context.Context, vs protocol.VideoSync) {
	name := protocol.String(vs.Name)
	if name == "" {
		c.cancelPending()
		c.deps.Suppressor.ClearNow()
		return
	}

	gen := c.deps.Suppressor.Arm()
	c.load(name)
	c.pending = &pendingSync{gen: gen, at: vs.Time, playing: vs.IsPlaying}
	ilog.EventInfo(ctx, "VideoSyncStart", "video", name, "time", vs.Time, "playing", vs.IsPlaying)

	if c.deps.Player.HasMetadata() {
		c.applyPending(ctx)
		return
	}
	c.readyTimer = c.deps.Scheduler.AfterFunc(c.cfg.ReadyTimeout, func() {
		c.deps.Post(ReadyTimeout{gen: gen})
	})
}

// HandleMetadataReady completes a pending sync, if any.
func (c *Controller) HandleMetadataReady(ctx context.Context) {
	if c.pending != nil {
		c.applyPending(ctx)
		return
	}
	if c.phase == Loading {
		c.phase = Ready
	}
}

// HandleReadyTimeout forces a pending sync through without metadata.
func (c *Controller) HandleReadyTimeout(ctx context.Context, ev ReadyTimeout) {
	if c.pending == nil || c.pending.gen != ev.gen {
		return
	}
	c.deps.Metrics.ReadinessTimeout()
	ilog.EventInfo(ctx, "VideoSyncReadyTimeout", "video", c.state.Video.Name)
	c.applyPending(ctx)
}

// Observe records a local player transition in the tracked video state,
// whatever its origin.
func (c *Controller) Observe(t Transition) {
	c.state.Video.CurrentTime = t.At
	switch t.Kind {
	case Played:
		c.state.Video.IsPlaying = true
		c.phase = Playing
	case Paused:
		c.state.Video.IsPlaying = false
		c.phase = PausedPhase
	}
}

// LoadLocal switches video on behalf of the local user and starts playback.
// Any sync still waiting for metadata is abandoned.
func (c *Controller) LoadLocal(ctx context.Context, name string) error {
	if name == "" {
		return ErrNoVideo
	}
	c.load(name)
	c.play(ctx)
	return nil
}

func (c *Controller) applyPending(ctx context.Context) {
	p := c.pending
	c.cancelPending()
	// A control handled while waiting may have closed the window already.
	c.deps.Suppressor.Arm()
	c.phase = Ready
	c.seek(p.at)
	if p.playing {
		c.play(ctx)
	} else {
		c.pause()
	}
	ilog.EventInfo(ctx, "VideoSyncApplied", "video", c.state.Video.Name, "time", p.at, "playing", c.state.Video.IsPlaying)
	c.deps.Suppressor.ClearAfter(c.cfg.SyncSettle)
}

func (c *Controller) cancelPending() {
	c.pending = nil
	if c.readyTimer != nil {
		c.readyTimer.Stop()
		c.readyTimer = nil
	}
}

func (c *Controller) load(name string) {
	c.cancelPending()
	c.state.Video = session.VideoState{Name: name}
	c.deps.Player.SetSource(c.state.Video.SourceLocator(c.cfg.StreamBase))
	c.deps.Player.Load()
	c.phase = Loading
}

func (c *Controller) seek(at float64) {
	c.deps.Player.Seek(at)
	c.state.Video.CurrentTime = at
}

func (c *Controller) play(ctx context.Context) {
	if err := c.deps.Player.Play(); err != nil {
		c.state.Video.IsPlaying = false
		c.deps.Metrics.PlaybackError()
		perr := newPlaybackError(err)
		ilog.EventInfo(ctx, "PlaybackRefused", "video", c.state.Video.Name, "err", err)
		c.deps.Notifier.Notify(notice.Notice{
			Level: notice.Warning,
			Text:  perr.Error(),
			Hint:  errors.FlattenHints(perr),
		})
		return
	}
	c.state.Video.IsPlaying = true
	c.phase = Playing
}

func (c *Controller) pause() {
	c.deps.Player.Pause()
	c.state.Video.IsPlaying = false
	c.phase = PausedPhase
}
