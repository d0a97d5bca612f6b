package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"groupwatch/internal/protocol"
)

// Conn is the server side of a member's websocket.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type videoState struct {
	name      string
	at        float64
	isPlaying bool
	updatedAt time.Time
}

// Group is one chat group with its connected members and shared video.
type Group struct {
	id      int64
	members map[*Member]struct{}
	video   *videoState
	mu      sync.RWMutex
}

// Member is one connected websocket.
type Member struct {
	Identity Identity
	conn     Conn
	send     chan []byte
	once     sync.Once
}

func NewGroup(id int64) *Group {
	return &Group{
		id:      id,
		members: make(map[*Member]struct{}),
	}
}

func (g *Group) ID() int64 {
	return g.id
}

func (g *Group) Attach(identity Identity, conn Conn) *Member {
	m := &Member{
		Identity: identity,
		conn:     conn,
		send:     make(chan []byte, 32),
	}
	g.mu.Lock()
	g.members[m] = struct{}{}
	g.mu.Unlock()
	return m
}

// Detach removes m and reports how many members remain. The shared video
// state is forgotten with the last member.
func (g *Group) Detach(m *Member) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.members[m]; ok {
		delete(g.members, m)
		close(m.send)
	}
	if len(g.members) == 0 {
		g.video = nil
	}
	return len(g.members)
}

func (g *Group) MemberCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

func (g *Group) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for m := range g.members {
		select {
		case m.send <- data:
		default:
		}
	}
}

// ApplyControl folds a video action into the shared state.
func (g *Group) ApplyControl(action protocol.Action, name *string, at *float64, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.video == nil {
		g.video = &videoState{}
	}
	v := g.video
	switch action {
	case protocol.ActionPlay:
		v.isPlaying = true
		if at != nil {
			v.at = *at
		}
		if n := protocol.String(name); n != "" {
			v.name = n
		}
	case protocol.ActionPause:
		v.isPlaying = false
		if at != nil {
			v.at = *at
		}
	case protocol.ActionSeek:
		if at != nil {
			v.at = *at
		}
	case protocol.ActionChangeVideo:
		v.name = protocol.String(name)
		v.at = 0
		if at != nil {
			v.at = *at
		}
	}
	v.updatedAt = now
}

// SyncFrame describes the shared video for a member that just joined. It
// reports false when no video has been chosen yet.
func (g *Group) SyncFrame() (protocol.VideoSync, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.video == nil || g.video.name == "" {
		return protocol.VideoSync{}, false
	}
	name := g.video.name
	return protocol.VideoSync{
		Type:      protocol.TypeVideoSync,
		Name:      &name,
		Time:      g.video.at,
		IsPlaying: g.video.isPlaying,
		Message:   "Syncing with current video playback",
	}, true
}

// Send queues v for this member only. It must not be called after Detach.
func (m *Member) Send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case m.send <- data:
	default:
	}
}

func (m *Member) SendLoop() {
	defer m.Close()
	for msg := range m.send {
		if err := m.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
}

func (m *Member) Close() {
	m.once.Do(func() {
		_ = m.conn.Close()
	})
}
