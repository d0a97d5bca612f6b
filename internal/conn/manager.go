package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RanFeng/ilog"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	"groupwatch/internal/clock"
	"groupwatch/internal/metrics"
	"groupwatch/internal/notice"
	"groupwatch/internal/session"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrAccessDenied = errors.New("access denied by server")
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 3 * time.Second
)

// Events posted back to the event loop. The epoch ties each event to the
// connection attempt that produced it so late events from a torn down
// connection are ignored.
type (
	Dialed struct {
		epoch uint64
		conn  Conn
		err   error
	}
	FrameReceived struct {
		epoch uint64
		Data  []byte
	}
	Closed struct {
		epoch uint64
		Err   error
	}
	RetryDue struct {
		epoch uint64
	}
)

type Config struct {
	Endpoint    string
	MaxAttempts int
	BaseDelay   time.Duration
}

// Deps are the collaborators of a Manager. Post must deliver the event to
// the loop that owns the session state.
type Deps struct {
	Dialer    Dialer
	Scheduler clock.Scheduler
	Post      func(ev any)
	Notifier  notice.Notifier
	OnStatus  func(state session.ConnectionState)
	Metrics   *metrics.Metrics
}

// Manager owns the single transport connection of a session and its
// reconnection policy. All methods must be called from the event loop.
type Manager struct {
	sess  session.Session
	state *session.State
	cfg   Config
	deps  Deps

	conn       Conn
	epoch      uint64
	dialCancel context.CancelFunc
	retry      clock.Timer
	// stopped is set by Disconnect and cleared by Connect.
	stopped bool
	// exhausted is set once the retry ceiling is hit.
	exhausted bool
}

func NewManager(sess session.Session, state *session.State, cfg Config, deps Deps) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if deps.Dialer == nil {
		deps.Dialer = WebsocketDialer{}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = clock.New()
	}
	if deps.Notifier == nil {
		deps.Notifier = notice.Discard
	}
	return &Manager{sess: sess, state: state, cfg: cfg, deps: deps}
}

// Connect starts a fresh connection attempt, tearing down any prior
// connection first. It fails only when the URL cannot be built; dial
// failures arrive later as a Dialed event.
func (m *Manager) Connect(ctx context.Context) error {
	m.stopped = false
	m.exhausted = false
	m.state.Reconnects = 0
	return m.open(ctx)
}

func (m *Manager) open(ctx context.Context) error {
	target, err := GroupURL(m.cfg.Endpoint, m.sess.GroupID, m.sess.Token)
	if err != nil {
		ilog.EventInfo(ctx, "ConnectFailed", "groupID", m.sess.GroupID, "err", err)
		return err
	}
	m.teardown()
	m.setState(session.Connecting)

	m.epoch++
	epoch := m.epoch
	dialCtx, cancel := context.WithCancel(ctx)
	m.dialCancel = cancel
	ilog.EventInfo(ctx, "Connecting", "groupID", m.sess.GroupID, "attempt", m.state.Reconnects)
	go func() {
		c, err := m.deps.Dialer.Dial(dialCtx, target)
		m.deps.Post(Dialed{epoch: epoch, conn: c, err: err})
	}()
	return nil
}

// HandleDialed completes a connection attempt.
func (m *Manager) HandleDialed(ctx context.Context, ev Dialed) {
	if ev.epoch != m.epoch || m.stopped {
		if ev.conn != nil {
			_ = ev.conn.Close()
		}
		return
	}
	// The dial context only scopes the handshake.
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	if ev.err != nil {
		m.unplannedClose(ctx, &TransportError{Op: "dial", Err: ev.err})
		return
	}
	m.conn = ev.conn
	m.state.Reconnects = 0
	m.setState(session.Connected)
	ilog.EventInfo(ctx, "Connected", "groupID", m.sess.GroupID)
	go m.readLoop(ev.epoch, ev.conn)
}

// Accept returns the frame payload when it belongs to the live connection.
func (m *Manager) Accept(ev FrameReceived) ([]byte, bool) {
	if ev.epoch != m.epoch || m.conn == nil {
		return nil, false
	}
	return ev.Data, true
}

// HandleClosed reacts to the read side of the live connection ending.
func (m *Manager) HandleClosed(ctx context.Context, ev Closed) {
	if ev.epoch != m.epoch || m.conn == nil {
		return
	}
	_ = m.conn.Close()
	m.conn = nil
	if m.stopped {
		m.setState(session.Disconnected)
		return
	}
	if websocket.IsCloseError(ev.Err, websocket.ClosePolicyViolation) {
		m.deny(ctx, ev.Err)
		return
	}
	m.unplannedClose(ctx, &TransportError{Op: "read", Err: ev.Err})
}

// HandleRetryDue runs a scheduled reconnect.
func (m *Manager) HandleRetryDue(ctx context.Context, ev RetryDue) {
	if ev.epoch != m.epoch || m.stopped || m.exhausted {
		return
	}
	m.retry = nil
	if err := m.open(ctx); err != nil {
		m.deps.Notifier.Notify(notice.Notice{Level: notice.Fatal, Text: "could not reconnect: " + err.Error()})
		m.exhausted = true
	}
}

func (m *Manager) unplannedClose(ctx context.Context, cause error) {
	m.setState(session.Disconnected)
	if m.state.Reconnects >= m.cfg.MaxAttempts {
		m.exhausted = true
		m.deps.Metrics.ReconnectExhausted()
		ilog.EventInfo(ctx, "ReconnectExhausted", "groupID", m.sess.GroupID, "attempts", m.state.Reconnects, "err", cause)
		m.deps.Notifier.Notify(notice.Notice{
			Level: notice.Fatal,
			Text:  "could not reconnect",
			Hint:  "reload to rejoin the group",
		})
		return
	}
	m.state.Reconnects++
	delay := m.cfg.BaseDelay * time.Duration(m.state.Reconnects)
	epoch := m.epoch
	m.retry = m.deps.Scheduler.AfterFunc(delay, func() {
		m.deps.Post(RetryDue{epoch: epoch})
	})
	m.deps.Metrics.ReconnectScheduled()
	ilog.EventInfo(ctx, "ReconnectScheduled", "groupID", m.sess.GroupID, "attempt", m.state.Reconnects, "delay", delay.String(), "err", cause)
	m.deps.Notifier.Notify(notice.Notice{
		Level: notice.Warning,
		Text:  fmt.Sprintf("reconnecting (%d/%d)", m.state.Reconnects, m.cfg.MaxAttempts),
	})
}

// deny handles a server that rejected our credentials. Retrying with the
// same token cannot succeed.
func (m *Manager) deny(ctx context.Context, cause error) {
	m.exhausted = true
	m.setState(session.Disconnected)
	ilog.EventInfo(ctx, "AccessDenied", "groupID", m.sess.GroupID, "err", cause)
	m.deps.Notifier.Notify(notice.Notice{
		Level: notice.Fatal,
		Text:  errors.Wrap(ErrAccessDenied, closeReason(cause)).Error(),
		Hint:  "sign in again",
	})
}

// Disconnect closes the connection and cancels any pending reconnect.
// Calling it more than once is harmless.
func (m *Manager) Disconnect(ctx context.Context) {
	if m.stopped {
		return
	}
	m.stopped = true
	m.teardown()
	m.epoch++
	m.setState(session.Disconnected)
	ilog.EventInfo(ctx, "Disconnected", "groupID", m.sess.GroupID)
}

// Send encodes v as one text frame on the live connection.
func (m *Manager) Send(v any) error {
	if m.conn == nil || m.state.Conn != session.Connected {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}
	if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// Exhausted reports whether the manager gave up reconnecting.
func (m *Manager) Exhausted() bool {
	return m.exhausted
}

func (m *Manager) teardown() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
}

func (m *Manager) setState(s session.ConnectionState) {
	if m.state.Conn == s {
		return
	}
	m.state.Conn = s
	m.deps.Metrics.SetConnState(int(s))
	if m.deps.OnStatus != nil {
		m.deps.OnStatus(s)
	}
}

func (m *Manager) readLoop(epoch uint64, c Conn) {
	for {
		msgType, data, err := c.ReadMessage()
		if err != nil {
			m.deps.Post(Closed{epoch: epoch, Err: err})
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		m.deps.Post(FrameReceived{epoch: epoch, Data: data})
	}
}

func closeReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Text != "" {
		return ce.Text
	}
	return "policy violation"
}
