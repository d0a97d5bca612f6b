package ws

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/RanFeng/ilog"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	"groupwatch/internal/relay"
)

type Handler struct {
	hub      *relay.Hub
	upgrader websocket.Upgrader
}

func NewHandler(hub *relay.Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP upgrades /ws/group/{id}. Authentication failures are reported
// after the upgrade as a policy-violation close so the client can tell a
// refusal from a network failure.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID, err := extractGroupID(r.URL.Path)
	if err != nil {
		ilog.EventInfo(ctx, "WebSocketBadPath", "path", r.URL.Path)
		http.Error(w, "invalid group path", http.StatusBadRequest)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = relay.BearerToken(r.Header.Get("Authorization"))
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the request.
		ilog.EventInfo(ctx, "WebSocketUpgradeFailed", "group", groupID, "err", err)
		return
	}

	identity, err := h.hub.Authenticate(token, groupID)
	if err != nil {
		ilog.EventInfo(ctx, "WebSocketRejected", "group", groupID, "err", err)
		relay.Reject(conn, relay.RejectReason(err))
		return
	}
	h.hub.Serve(ctx, groupID, identity, conn)
}

func extractGroupID(path string) (int64, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "ws" || parts[1] != "group" {
		return 0, errors.New("invalid path")
	}
	return ParseGroupID(parts[2])
}

// ParseGroupID parses a positive group id path segment.
func ParseGroupID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Newf("invalid group id %q", s)
	}
	return id, nil
}
