package hertzws

import (
	"context"
	"strconv"

	"github.com/RanFeng/ilog"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/websocket"

	"groupwatch/internal/relay"
)

// Handler WebSocket处理器
type Handler struct {
	hub      *relay.Hub
	upgrader websocket.HertzUpgrader
}

// NewHandler 创建新的WebSocket处理器
func NewHandler(hub *relay.Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.HertzUpgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(ctx *app.RequestContext) bool {
				return true
			},
		},
	}
}

// HandleWebSocket 处理 /ws/group/:groupId 连接，鉴权失败时以 1008 关闭
func (h *Handler) HandleWebSocket(c context.Context, ctx *app.RequestContext) {
	groupID, err := strconv.ParseInt(ctx.Param("groupId"), 10, 64)
	if err != nil || groupID <= 0 {
		ctx.String(consts.StatusBadRequest, "invalid group path")
		return
	}

	token := ctx.Query("token")
	if token == "" {
		token = relay.BearerToken(string(ctx.GetHeader("Authorization")))
	}

	err = h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		// 升级后再鉴权，客户端才能区分拒绝和网络错误
		identity, err := h.hub.Authenticate(token, groupID)
		if err != nil {
			ilog.EventInfo(c, "WebSocketRejected", "group", groupID, "err", err)
			relay.Reject(conn, relay.RejectReason(err))
			return
		}
		h.hub.Serve(c, groupID, identity, conn)
	})
	if err != nil {
		ilog.EventInfo(c, "WebSocketUpgradeFailed", "group", groupID, "err", err)
	}
}
