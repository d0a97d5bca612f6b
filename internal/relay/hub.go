package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/RanFeng/ilog"
	bclock "github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	"groupwatch/internal/protocol"
)

var (
	ErrMissingToken = errors.New("authentication token required")
	ErrUnknownKind  = errors.New("announcement type must be add or leave")
)

// Hub owns every live group. Groups appear with their first member and
// disappear with their last.
type Hub struct {
	mu     sync.RWMutex
	groups map[int64]*Group
	dir    *Directory
	clock  bclock.Clock
}

type HubOption func(*Hub)

// WithClock sets the clock used to stamp frames.
func WithClock(c bclock.Clock) HubOption {
	return func(h *Hub) {
		h.clock = c
	}
}

func NewHub(dir *Directory, opts ...HubOption) *Hub {
	h := &Hub{
		groups: make(map[int64]*Group),
		dir:    dir,
		clock:  bclock.New(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Directory() *Directory {
	return h.dir
}

// Authenticate checks a connecting member. Failures should be reported to
// the peer with Reject.
func (h *Hub) Authenticate(token string, groupID int64) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	return h.dir.Verify(token, groupID)
}

// Reject closes an upgraded connection with a policy violation.
func Reject(conn Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
	_ = conn.Close()
}

// Serve attaches an authenticated connection to its group and relays its
// frames until the connection fails.
func (h *Hub) Serve(ctx context.Context, groupID int64, identity Identity, conn Conn) {
	g, m := h.join(groupID, identity, conn)
	go m.SendLoop()
	ilog.EventInfo(ctx, "MemberJoined", "group", groupID, "user", identity.Email)

	if sync, ok := g.SyncFrame(); ok {
		m.Send(sync)
		ilog.EventInfo(ctx, "VideoSyncSent", "group", groupID, "user", identity.Email,
			"video", protocol.String(sync.Name), "time", sync.Time, "playing", sync.IsPlaying)
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			ilog.EventInfo(ctx, "MemberReadFailed", "group", groupID, "user", identity.Email, "err", err)
			break
		}
		if kind != websocket.TextMessage {
			continue
		}
		h.HandleFrame(ctx, g, m, data)
	}

	remaining := g.Detach(m)
	if remaining > 0 {
		g.Broadcast(protocol.UserLeftMessage{
			Type:    protocol.TypeUserLeft,
			Message: fmt.Sprintf("User disconnected from group %d", groupID),
		})
	} else {
		h.cleanup(g)
	}
	ilog.EventInfo(ctx, "MemberLeft", "group", groupID, "user", identity.Email, "remaining", remaining)
}

// HandleFrame relays one member frame. The sender identity always comes
// from authentication, never from the frame.
func (h *Hub) HandleFrame(ctx context.Context, g *Group, m *Member, data []byte) {
	frame, err := protocol.DecodeClient(data)
	if err != nil {
		ilog.EventInfo(ctx, "FrameRejected", "group", g.ID(), "user", m.Identity.Email, "err", err)
		return
	}
	now := h.clock.Now()

	if frame.Type == protocol.TypeVideoControl {
		g.ApplyControl(frame.Action, frame.Name, frame.Time, now)
		g.Broadcast(protocol.VideoControl{
			Type:      protocol.TypeVideoControl,
			Action:    frame.Action,
			Time:      frame.Time,
			Name:      frame.Name,
			User:      m.Identity.Email,
			GroupID:   g.ID(),
			Timestamp: protocol.Timestamp(now),
		})
		ilog.EventInfo(ctx, "VideoControlRelayed", "group", g.ID(), "user", m.Identity.Email, "action", frame.Action)
		return
	}

	text := strings.TrimSpace(frame.Text)
	if text == "" {
		return
	}
	groupID := frame.GroupID
	if groupID == 0 {
		groupID = g.ID()
	}
	g.Broadcast(protocol.ChatMessage{
		Type:      protocol.TypeMessage,
		Text:      text,
		User:      m.Identity.Email,
		GroupID:   groupID,
		CreatedAt: protocol.Timestamp(now),
	})
}

// Announce records a membership change and tells the group about it.
func (h *Hub) Announce(ctx context.Context, groupID int64, kind, email, text string) error {
	if kind != protocol.TypeAdd && kind != protocol.TypeLeave {
		return ErrUnknownKind
	}
	if email != "" {
		if err := h.dir.SetMembership(email, groupID, kind == protocol.TypeAdd); err != nil {
			return err
		}
	}
	if text == "" {
		verb := "joined"
		if kind == protocol.TypeLeave {
			verb = "left"
		}
		text = fmt.Sprintf("%s %s the group", email, verb)
	}

	h.mu.RLock()
	g, ok := h.groups[groupID]
	h.mu.RUnlock()
	if ok {
		g.Broadcast(protocol.MembershipMessage{
			Type:      kind,
			Text:      text,
			User:      protocol.SystemUser,
			GroupID:   groupID,
			UserEmail: email,
			CreatedAt: protocol.Timestamp(h.clock.Now()),
		})
	}
	ilog.EventInfo(ctx, "MembershipAnnounced", "group", groupID, "type", kind, "email", email, "live", ok)
	return nil
}

// Sync returns the catch-up frame a member joining groupID would receive.
func (h *Hub) Sync(groupID int64) (protocol.VideoSync, bool) {
	h.mu.RLock()
	g, ok := h.groups[groupID]
	h.mu.RUnlock()
	if !ok {
		return protocol.VideoSync{}, false
	}
	return g.SyncFrame()
}

func (h *Hub) join(groupID int64, identity Identity, conn Conn) (*Group, *Member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[groupID]
	if !ok {
		g = NewGroup(groupID)
		h.groups[groupID] = g
	}
	return g, g.Attach(identity, conn)
}

func (h *Hub) cleanup(g *Group) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if g.MemberCount() > 0 {
		return
	}
	if current, ok := h.groups[g.ID()]; ok && current == g {
		delete(h.groups, g.ID())
	}
}

// RejectReason is the close reason reported to a member that failed
// authentication.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "Authentication token required"
	case errors.Is(err, ErrNotMember):
		return "You are not a member of this group"
	default:
		return "Authentication failed"
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
