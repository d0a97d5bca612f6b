package conn

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
)

// Conn is the part of a websocket connection the manager uses. Both
// gorilla and hertz-contrib connections satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a transport connection to a fully built URL.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	c, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "handshake status %d", resp.StatusCode)
		}
		return nil, err
	}
	return c, nil
}

// TransportError reports a connection that could not be built, opened or
// kept open.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// GroupURL builds <endpoint>/ws/group/{groupId}?token={token}. http and
// https endpoints are mapped to ws and wss.
func GroupURL(endpoint string, groupID int64, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", &TransportError{Op: "build url", Err: err}
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", &TransportError{Op: "build url", Err: errors.Newf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return "", &TransportError{Op: "build url", Err: errors.New("missing host")}
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/group/" + strconv.FormatInt(groupID, 10)
	u.RawQuery = url.Values{"token": {token}}.Encode()
	u.Fragment = ""
	return u.String(), nil
}
