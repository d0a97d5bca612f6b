package playback

import (
	"context"

	"github.com/RanFeng/ilog"
	"github.com/cockroachdb/errors"

	"groupwatch/internal/conn"
	"groupwatch/internal/metrics"
	"groupwatch/internal/notice"
	"groupwatch/internal/protocol"
	"groupwatch/internal/session"
)

// Sender transmits one outbound frame.
type Sender interface {
	Send(v any) error
}

type EmitterDeps struct {
	Player     Player
	Controller *Controller
	Suppressor *Suppressor
	Sender     Sender
	Notifier   notice.Notifier
	Metrics    *metrics.Metrics
}

// Emitter broadcasts local player transitions to the group.
type Emitter struct {
	groupID int64
	state   *session.State
	deps    EmitterDeps
}

func NewEmitter(groupID int64, state *session.State, deps EmitterDeps) *Emitter {
	if deps.Notifier == nil {
		deps.Notifier = notice.Discard
	}
	return &Emitter{groupID: groupID, state: state, deps: deps}
}

// OnTransition sends a local transition unless it was caused by a remote
// command being applied.
func (e *Emitter) OnTransition(ctx context.Context, t Transition) {
	if e.deps.Suppressor.Active() {
		e.deps.Metrics.ActionSuppressed()
		return
	}
	frame := protocol.NewVideoControlSend(e.groupID, t.Kind.Action(), e.deps.Player.CurrentTime(), e.state.Video.Name)
	e.send(ctx, frame)
}

// RequestVideoChange is the user picking a video. It is always local, so
// it bypasses suppression.
func (e *Emitter) RequestVideoChange(ctx context.Context, name string) error {
	if err := e.deps.Controller.LoadLocal(ctx, name); err != nil {
		return err
	}
	e.send(ctx, protocol.NewVideoControlSend(e.groupID, protocol.ActionChangeVideo, 0, name))
	return nil
}

func (e *Emitter) send(ctx context.Context, frame protocol.VideoControlSend) {
	err := e.deps.Sender.Send(frame)
	if err == nil {
		e.deps.Metrics.ActionSent(string(frame.Action))
		ilog.EventInfo(ctx, "VideoControlSent", "action", frame.Action, "time", frame.Time)
		return
	}
	e.deps.Metrics.ActionDropped()
	ilog.EventInfo(ctx, "VideoControlDropped", "action", frame.Action, "err", err)
	text := "could not send " + string(frame.Action) + ": " + err.Error()
	if errors.Is(err, conn.ErrNotConnected) {
		text = "not connected, " + string(frame.Action) + " was not shared with the group"
	}
	e.deps.Notifier.Notify(notice.Notice{Level: notice.Warning, Text: text})
}
