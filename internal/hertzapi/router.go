package hertzapi

import (
	"context"
	"strconv"

	"github.com/RanFeng/ilog"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cockroachdb/errors"

	"groupwatch/internal/hertzws"
	"groupwatch/internal/relay"
)

// NewRouter 初始化Hertz路由
func NewRouter(h *server.Hertz, hub *relay.Hub, library *relay.Library) *server.Hertz {
	wsHandler := hertzws.NewHandler(hub)

	// 注册中间件
	h.Use(recoveryMiddleware())
	h.Use(loggerMiddleware())

	// 健康检查接口
	h.GET("/healthz", func(c context.Context, ctx *app.RequestContext) {
		ctx.String(consts.StatusOK, "ok")
	})

	h.GET("/verify-group-access/:groupId", handleVerify(hub))

	// API路由组
	api := h.Group("/api")
	{
		api.POST("/groups/:groupId/announce", handleAnnounce(hub))
		api.GET("/videos", handleListVideos(library))
		api.GET("/stream/:name", handleStream(library))
	}

	// WebSocket路由
	h.GET("/ws/group/:groupId", wsHandler.HandleWebSocket)

	return h
}

// recoveryMiddleware 恢复中间件
func recoveryMiddleware() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		defer func() {
			if err := recover(); err != nil {
				ilog.EventInfo(c, "HandlerPanic", "path", string(ctx.Path()), "err", err)
				ctx.String(consts.StatusInternalServerError, "Internal Server Error")
			}
		}()
		ctx.Next(c)
	}
}

// loggerMiddleware 日志中间件
func loggerMiddleware() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		ctx.Next(c)
		ilog.EventInfo(c, "Request", "method", string(ctx.Method()), "path", string(ctx.Path()),
			"status", ctx.Response.StatusCode())
	}
}

// handleVerify 校验令牌与群组成员关系
func handleVerify(hub *relay.Hub) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		groupID, ok := groupParam(ctx)
		if !ok {
			respondError(ctx, consts.StatusNotFound, "Group not found")
			return
		}
		token := relay.BearerToken(string(ctx.GetHeader("Authorization")))
		if token == "" {
			respondError(ctx, consts.StatusUnauthorized, "Not authenticated")
			return
		}
		identity, err := hub.Directory().Verify(token, groupID)
		if err != nil {
			switch {
			case errors.Is(err, relay.ErrNotMember):
				respondError(ctx, consts.StatusForbidden, "You are not a member of this group")
			case errors.Is(err, relay.ErrGroupNotFound):
				respondError(ctx, consts.StatusNotFound, "Group not found")
			default:
				respondError(ctx, consts.StatusUnauthorized, "Could not validate credentials")
			}
			return
		}
		ctx.JSON(consts.StatusOK, map[string]interface{}{
			"valid":    true,
			"user":     identity.Email,
			"name":     identity.Name,
			"group_id": groupID,
		})
	}
}

// handleAnnounce 成员变更通知
func handleAnnounce(hub *relay.Hub) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		groupID, ok := groupParam(ctx)
		if !ok {
			respondError(ctx, consts.StatusNotFound, "Group not found")
			return
		}
		var payload announceRequest
		if err := ctx.Bind(&payload); err != nil {
			respondError(ctx, consts.StatusBadRequest, "invalid request body")
			return
		}
		if err := hub.Announce(c, groupID, payload.Type, payload.Email, payload.Text); err != nil {
			if errors.Is(err, relay.ErrGroupNotFound) {
				respondError(ctx, consts.StatusNotFound, "Group not found")
				return
			}
			respondError(ctx, consts.StatusBadRequest, err.Error())
			return
		}
		ctx.SetStatusCode(consts.StatusAccepted)
	}
}

// handleListVideos 视频列表
func handleListVideos(library *relay.Library) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		videos, err := library.List()
		if err != nil {
			ilog.EventInfo(c, "ListVideosFailed", "err", err)
			respondError(ctx, consts.StatusInternalServerError, "Failed to list videos")
			return
		}
		ctx.JSON(consts.StatusOK, map[string]interface{}{"videos": videos})
	}
}

// handleStream 视频流，支持 Range 请求
func handleStream(library *relay.Library) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		name := ctx.Param("name")
		path, err := library.Resolve(name)
		if err != nil {
			if errors.Is(err, relay.ErrVideoNotFound) {
				respondError(ctx, consts.StatusNotFound, "Video not found")
				return
			}
			respondError(ctx, consts.StatusInternalServerError, "Streaming failed")
			return
		}
		ctx.Response.Header.Set("Content-Disposition", "inline; filename="+name)
		ctx.File(path)
	}
}

func groupParam(ctx *app.RequestContext) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Param("groupId"), 10, 64)
	return id, err == nil && id > 0
}

// 请求结构体定义
type announceRequest struct {
	Type  string `json:"type"`
	Email string `json:"email"`
	Text  string `json:"text"`
}

// respondError 返回错误响应
func respondError(ctx *app.RequestContext, status int, message string) {
	ctx.JSON(status, map[string]string{"detail": message})
}
