package dispatch

import (
	"context"

	"github.com/RanFeng/ilog"
	"github.com/cockroachdb/errors"

	"groupwatch/internal/metrics"
	"groupwatch/internal/protocol"
)

// Display renders chat and system frames. It is an external collaborator.
type Display interface {
	ShowChat(m protocol.ChatMessage)
	ShowMembership(m protocol.MembershipMessage)
	ShowUserLeft(m protocol.UserLeftMessage)
}

// VideoHandler receives playback frames.
type VideoHandler interface {
	ApplyControl(ctx context.Context, vc protocol.VideoControl)
	ApplySync(ctx context.Context, vs protocol.VideoSync)
}

// Dispatcher decodes inbound frames and routes each to exactly one handler.
type Dispatcher struct {
	display Display
	video   VideoHandler
	metrics *metrics.Metrics
}

func New(display Display, video VideoHandler, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{display: display, video: video, metrics: m}
}

// Handle never fails: frames that cannot be decoded are logged and dropped,
// frames of an unknown type are skipped.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			d.metrics.FrameDropped("unknown_type")
			return
		}
		d.metrics.FrameDropped("malformed")
		ilog.EventInfo(ctx, "FrameDropped", "err", err, "size", len(raw))
		return
	}

	switch m := msg.(type) {
	case protocol.ChatMessage:
		d.metrics.FrameReceived(protocol.TypeMessage)
		d.display.ShowChat(m)
	case protocol.MembershipMessage:
		d.metrics.FrameReceived(m.Type)
		d.display.ShowMembership(m)
	case protocol.UserLeftMessage:
		d.metrics.FrameReceived(protocol.TypeUserLeft)
		d.display.ShowUserLeft(m)
	case protocol.VideoControl:
		d.metrics.FrameReceived(protocol.TypeVideoControl)
		d.video.ApplyControl(ctx, m)
	case protocol.VideoSync:
		d.metrics.FrameReceived(protocol.TypeVideoSync)
		d.video.ApplySync(ctx, m)
	}
}
