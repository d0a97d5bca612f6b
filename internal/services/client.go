// Package services talks to the HTTP side of the backend: the auth
// service's group access check and the stream service's video list.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/RanFeng/ilog"
	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cockroachdb/errors"
)

const DefaultTimeout = 5 * time.Second

// ErrUnavailable means the service could not be reached or answered with
// something other than a verdict.
var ErrUnavailable = errors.New("service unavailable")

type AuthCause int

const (
	InvalidToken AuthCause = iota
	NotMember
	GroupNotFound
)

func (c AuthCause) String() string {
	switch c {
	case InvalidToken:
		return "invalid token"
	case NotMember:
		return "not a member"
	case GroupNotFound:
		return "group not found"
	default:
		return "unknown"
	}
}

// AuthError is a definite refusal from the auth service.
type AuthError struct {
	Cause  AuthCause
	Detail string
}

func (e *AuthError) Error() string {
	if e.Detail == "" {
		return e.Cause.String()
	}
	return fmt.Sprintf("%s: %s", e.Cause, e.Detail)
}

// Access is a successful verification.
type Access struct {
	Valid   bool   `json:"valid"`
	User    string `json:"user"`
	Name    string `json:"name"`
	GroupID int64  `json:"group_id"`
}

type Video struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type Client struct {
	hc         *client.Client
	authBase   string
	streamBase string
	timeout    time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func New(authBase, streamBase string, opts ...Option) (*Client, error) {
	c := &Client{
		authBase:   strings.TrimRight(authBase, "/"),
		streamBase: strings.TrimRight(streamBase, "/"),
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	hc, err := client.NewClient(client.WithDialTimeout(c.timeout))
	if err != nil {
		return nil, errors.Wrap(err, "create http client")
	}
	c.hc = hc
	return c, nil
}

// VerifyGroupAccess asks the auth service whether token may join groupID.
// Refusals are *AuthError; transport failures wrap ErrUnavailable.
func (c *Client) VerifyGroupAccess(ctx context.Context, token string, groupID int64) (Access, error) {
	url := fmt.Sprintf("%s/verify-group-access/%d", c.authBase, groupID)
	status, body, err := c.get(ctx, url, token)
	if err != nil {
		return Access{}, err
	}

	switch status {
	case consts.StatusOK:
		var access Access
		if err := json.Unmarshal(body, &access); err != nil {
			return Access{}, errors.Mark(errors.Wrap(err, "decode access response"), ErrUnavailable)
		}
		ilog.EventInfo(ctx, "GroupAccessVerified", "group", groupID, "user", access.User)
		return access, nil
	case consts.StatusUnauthorized:
		return Access{}, &AuthError{Cause: InvalidToken, Detail: detail(body)}
	case consts.StatusForbidden:
		return Access{}, &AuthError{Cause: NotMember, Detail: detail(body)}
	case consts.StatusNotFound:
		return Access{}, &AuthError{Cause: GroupNotFound, Detail: detail(body)}
	default:
		return Access{}, errors.Wrapf(ErrUnavailable, "verify group access: status %d", status)
	}
}

// ListVideos returns the stream service's library.
func (c *Client) ListVideos(ctx context.Context) ([]Video, error) {
	status, body, err := c.get(ctx, c.streamBase+"/api/videos", "")
	if err != nil {
		return nil, err
	}
	if status != consts.StatusOK {
		return nil, errors.Wrapf(ErrUnavailable, "list videos: status %d: %s", status, detail(body))
	}
	var payload struct {
		Videos []Video `json:"videos"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode video list"), ErrUnavailable)
	}
	return payload.Videos, nil
}

func (c *Client) get(ctx context.Context, url, token string) (int, []byte, error) {
	req, resp := protocol.AcquireRequest(), protocol.AcquireResponse()
	defer protocol.ReleaseRequest(req)
	defer protocol.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.SetMethod(consts.MethodGet)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if err := c.hc.DoTimeout(ctx, req, resp, c.timeout); err != nil {
		ilog.EventInfo(ctx, "ServiceRequestFailed", "url", url, "err", err)
		return 0, nil, errors.Mark(errors.Wrapf(err, "GET %s", url), ErrUnavailable)
	}
	body := append([]byte(nil), resp.Body()...)
	return resp.StatusCode(), body, nil
}

func detail(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Detail != "" {
		return payload.Detail
	}
	return strings.TrimSpace(string(body))
}
