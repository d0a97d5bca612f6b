package httpapi

import (
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"groupwatch/internal/relay"
	"groupwatch/internal/ws"
)

// Server is the development backend: chat relay, access verification and
// the video library behind one echo router.
type Server struct {
	hub     *relay.Hub
	library *relay.Library
	ws      *ws.Handler
	router  *echo.Echo
}

type announceRequest struct {
	Type  string `json:"type"`
	Email string `json:"email"`
	Text  string `json:"text"`
}

type accessResponse struct {
	Valid   bool   `json:"valid"`
	User    string `json:"user"`
	Name    string `json:"name"`
	GroupID int64  `json:"group_id"`
}

type detail struct {
	Detail string `json:"detail"`
}

func NewServer(hub *relay.Hub, library *relay.Library) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	server := &Server{
		hub:     hub,
		library: library,
		ws:      ws.NewHandler(hub),
		router:  e,
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.GET("/verify-group-access/:groupId", server.handleVerify)
	e.POST("/api/groups/:groupId/announce", server.handleAnnounce)
	e.GET("/api/videos", server.handleListVideos)
	e.GET("/api/stream/:name", server.handleStream)
	e.GET("/ws/group/:groupId", server.handleWebSocket)

	return server
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleVerify(c echo.Context) error {
	groupID, err := ws.ParseGroupID(c.Param("groupId"))
	if err != nil {
		return respondError(c, http.StatusNotFound, "Group not found")
	}
	token := relay.BearerToken(c.Request().Header.Get("Authorization"))
	if token == "" {
		return respondError(c, http.StatusUnauthorized, "Not authenticated")
	}
	identity, err := s.hub.Directory().Verify(token, groupID)
	if err != nil {
		status, message := accessStatus(err)
		return respondError(c, status, message)
	}
	return c.JSON(http.StatusOK, accessResponse{
		Valid:   true,
		User:    identity.Email,
		Name:    identity.Name,
		GroupID: groupID,
	})
}

func (s *Server) handleAnnounce(c echo.Context) error {
	groupID, err := ws.ParseGroupID(c.Param("groupId"))
	if err != nil {
		return respondError(c, http.StatusNotFound, "Group not found")
	}
	var payload announceRequest
	if err := c.Bind(&payload); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid request body")
	}
	if err := s.hub.Announce(c.Request().Context(), groupID, payload.Type, payload.Email, payload.Text); err != nil {
		switch {
		case errors.Is(err, relay.ErrUnknownKind):
			return respondError(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, relay.ErrGroupNotFound):
			return respondError(c, http.StatusNotFound, "Group not found")
		default:
			return respondError(c, http.StatusBadRequest, err.Error())
		}
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleListVideos(c echo.Context) error {
	videos, err := s.library.List()
	if err != nil {
		return respondError(c, http.StatusInternalServerError, "Failed to list videos")
	}
	return c.JSON(http.StatusOK, map[string][]relay.Video{"videos": videos})
}

func (s *Server) handleStream(c echo.Context) error {
	name := c.Param("name")
	f, info, err := s.library.Open(name)
	if err != nil {
		if errors.Is(err, relay.ErrVideoNotFound) {
			return respondError(c, http.StatusNotFound, "Video not found")
		}
		return respondError(c, http.StatusInternalServerError, "Streaming failed")
	}
	defer f.Close()
	c.Response().Header().Set("Accept-Ranges", "bytes")
	c.Response().Header().Set("Content-Disposition", "inline; filename="+name)
	// ServeContent answers Range requests with 206.
	http.ServeContent(c.Response(), c.Request(), name, info.ModTime(), f)
	return nil
}

func (s *Server) handleWebSocket(c echo.Context) error {
	// The ws handler parses the group from the path and takes over the
	// connection; nothing may be written after it returns.
	c.Request().URL.Path = "/ws/group/" + c.Param("groupId")
	s.ws.ServeHTTP(c.Response(), c.Request())
	return nil
}

// accessStatus maps a verification failure to the auth service's status
// codes.
func accessStatus(err error) (int, string) {
	switch {
	case errors.Is(err, relay.ErrNotMember):
		return http.StatusForbidden, "You are not a member of this group"
	case errors.Is(err, relay.ErrGroupNotFound):
		return http.StatusNotFound, "Group not found"
	default:
		return http.StatusUnauthorized, "Could not validate credentials"
	}
}

func respondError(c echo.Context, status int, message string) error {
	return c.JSON(status, detail{Detail: strings.TrimSpace(message)})
}
