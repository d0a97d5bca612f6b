package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/RanFeng/ilog"
	"github.com/cockroachdb/errors"

	"groupwatch/internal/clock"
	"groupwatch/internal/conn"
	"groupwatch/internal/dispatch"
	"groupwatch/internal/metrics"
	"groupwatch/internal/notice"
	"groupwatch/internal/playback"
	"groupwatch/internal/protocol"
	"groupwatch/internal/session"
)

// ErrClosed is returned by requests made after the loop stopped.
var ErrClosed = errors.New("client closed")

// Display is everything the session shows to the user.
type Display interface {
	dispatch.Display
	notice.Notifier
	ConnectionStatus(state session.ConnectionState)
}

type Deps struct {
	Display Display
	// NewPlayer builds the local player. Post delivers the player's
	// Transition and MetadataReady events to the loop.
	NewPlayer func(post func(ev any)) playback.Player
	Dialer    conn.Dialer
	Scheduler clock.Scheduler
	Metrics   *metrics.Metrics
}

// Snapshot is a copy of the session state taken inside the loop.
type Snapshot struct {
	Conn       session.ConnectionState
	Reconnects int
	Video      session.VideoState
	Suppressed bool
	Phase      playback.Phase
}

type (
	sendChat        struct{ text string }
	changeVideo     struct{ name string }
	disconnect      struct{}
	snapshotRequest struct{ reply chan Snapshot }
)

// Client runs one session. Every state change happens on the goroutine
// executing Run; other goroutines only post events.
type Client struct {
	sess  session.Session
	cfg   Config
	state session.State

	events chan any
	done   chan struct{}

	display    Display
	player     playback.Player
	metrics    *metrics.Metrics
	mgr        *conn.Manager
	sup        *playback.Suppressor
	ctrl       *playback.Controller
	emitter    *playback.Emitter
	dispatcher *dispatch.Dispatcher
}

func New(sess session.Session, deps Deps, opts ...Option) (*Client, error) {
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	if deps.Display == nil {
		return nil, errors.New("client: display is required")
	}
	if deps.NewPlayer == nil {
		return nil, errors.New("client: player is required")
	}
	if deps.Scheduler == nil {
		deps.Scheduler = clock.New()
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Client{
		sess:    sess,
		cfg:     cfg,
		events:  make(chan any, 64),
		done:    make(chan struct{}),
		display: deps.Display,
		metrics: deps.Metrics,
	}
	c.player = deps.NewPlayer(c.Post)

	c.mgr = conn.NewManager(sess, &c.state, conn.Config{
		Endpoint:    cfg.Endpoint,
		MaxAttempts: cfg.MaxReconnects,
		BaseDelay:   cfg.BaseDelay,
	}, conn.Deps{
		Dialer:    deps.Dialer,
		Scheduler: deps.Scheduler,
		Post:      c.Post,
		Notifier:  deps.Display,
		OnStatus:  deps.Display.ConnectionStatus,
		Metrics:   deps.Metrics,
	})
	c.sup = playback.NewSuppressor(&c.state, deps.Scheduler, c.Post)
	c.ctrl = playback.NewController(&c.state, playback.Config{
		Identity:      sess.Identity,
		StreamBase:    cfg.StreamBase,
		ControlSettle: cfg.ControlSettle,
		SyncSettle:    cfg.SyncSettle,
		ReadyTimeout:  cfg.ReadyTimeout,
	}, playback.Deps{
		Player:     c.player,
		Suppressor: c.sup,
		Scheduler:  deps.Scheduler,
		Post:       c.Post,
		Notifier:   deps.Display,
		Metrics:    deps.Metrics,
	})
	c.emitter = playback.NewEmitter(sess.GroupID, &c.state, playback.EmitterDeps{
		Player:     c.player,
		Controller: c.ctrl,
		Suppressor: c.sup,
		Sender:     c.mgr,
		Notifier:   deps.Display,
		Metrics:    deps.Metrics,
	})
	c.dispatcher = dispatch.New(deps.Display, c.ctrl, deps.Metrics)
	return c, nil
}

// Run connects and processes events until ctx is cancelled or Disconnect
// is called. It returns an error only when the connection could not even
// be attempted.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.done)
	if err := c.mgr.Connect(ctx); err != nil {
		c.display.Notify(notice.Notice{Level: notice.Fatal, Text: err.Error()})
		return err
	}
	for {
		select {
		case <-ctx.Done():
			c.mgr.Disconnect(context.WithoutCancel(ctx))
			return nil
		case ev := <-c.events:
			if stop := c.handle(ctx, ev); stop {
				return nil
			}
		}
	}
}

// Post hands an event to the loop. It drops the event once the loop has
// stopped.
func (c *Client) Post(ev any) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Done is closed when Run returns.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) SendChat(text string) {
	c.Post(sendChat{text: text})
}

// ChangeVideo switches the group to another video.
func (c *Client) ChangeVideo(name string) {
	c.Post(changeVideo{name: name})
}

// Disconnect leaves the group and stops the loop.
func (c *Client) Disconnect() {
	c.Post(disconnect{})
}

func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case c.events <- snapshotRequest{reply: reply}:
	case <-c.done:
		return Snapshot{}, ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-c.done:
		return Snapshot{}, ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// handle routes one event by its type. It reports whether the loop should
// stop.
func (c *Client) handle(ctx context.Context, ev any) bool {
	switch e := ev.(type) {
	case conn.Dialed:
		c.mgr.HandleDialed(ctx, e)
	case conn.FrameReceived:
		if data, ok := c.mgr.Accept(e); ok {
			c.dispatcher.Handle(ctx, data)
		}
	case conn.Closed:
		c.mgr.HandleClosed(ctx, e)
	case conn.RetryDue:
		c.mgr.HandleRetryDue(ctx, e)
	case playback.Transition:
		c.ctrl.Observe(e)
		c.emitter.OnTransition(ctx, e)
	case playback.MetadataReady:
		c.ctrl.HandleMetadataReady(ctx)
	case playback.SettleDue:
		c.sup.HandleSettle(e)
	case playback.ReadyTimeout:
		c.ctrl.HandleReadyTimeout(ctx, e)
	case sendChat:
		c.sendChat(ctx, e.text)
	case changeVideo:
		if err := c.emitter.RequestVideoChange(ctx, e.name); err != nil {
			c.display.Notify(notice.Notice{Level: notice.Warning, Text: err.Error()})
		}
	case snapshotRequest:
		e.reply <- c.snapshot()
	case disconnect:
		c.mgr.Disconnect(ctx)
		return true
	default:
		ilog.EventInfo(ctx, "UnknownEvent", "type", fmt.Sprintf("%T", ev))
	}
	return false
}

func (c *Client) sendChat(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	err := c.mgr.Send(protocol.ChatSend{Text: text, GroupID: c.sess.GroupID})
	if err == nil {
		return
	}
	ilog.EventInfo(ctx, "ChatDropped", "err", err)
	if errors.Is(err, conn.ErrNotConnected) {
		c.display.Notify(notice.Notice{Level: notice.Warning, Text: "not connected, message not sent"})
		return
	}
	c.display.Notify(notice.Notice{Level: notice.Warning, Text: "message not sent: " + err.Error()})
}

func (c *Client) snapshot() Snapshot {
	return Snapshot{
		Conn:       c.state.Conn,
		Reconnects: c.state.Reconnects,
		Video:      c.state.Video,
		Suppressed: c.state.Suppressed,
		Phase:      c.ctrl.Phase(),
	}
}
