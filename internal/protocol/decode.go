package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrUnknownType marks a well-formed frame whose discriminant this client
// does not understand. Such frames are skipped without complaint.
var ErrUnknownType = errors.New("unknown frame type")

// ProtocolError describes an inbound frame that could not be decoded.
type ProtocolError struct {
	Type string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("malformed frame: %v", e.Err)
	}
	return fmt.Sprintf("malformed %s frame: %v", e.Type, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// InboundEnvelope reads only the discriminant.
type InboundEnvelope struct {
	Type string `json:"type"`
}

// Decode parses a server frame into one of ChatMessage, MembershipMessage,
// UserLeftMessage, VideoControl or VideoSync.
func Decode(raw []byte) (any, error) {
	var env InboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ProtocolError{Err: err}
	}
	kind := env.Type
	if kind == "" {
		kind = TypeMessage
	}

	switch kind {
	case TypeMessage:
		var m ChatMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &ProtocolError{Type: kind, Err: err}
		}
		m.Type = TypeMessage
		return m, nil
	case TypeAdd, TypeLeave:
		var m MembershipMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &ProtocolError{Type: kind, Err: err}
		}
		return m, nil
	case TypeUserLeft:
		var m UserLeftMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &ProtocolError{Type: kind, Err: err}
		}
		return m, nil
	case TypeVideoControl:
		var m VideoControl
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &ProtocolError{Type: kind, Err: err}
		}
		if !m.Action.Valid() {
			return nil, &ProtocolError{Type: kind, Err: errors.Newf("unsupported video_action %q", m.Action)}
		}
		return m, nil
	case TypeVideoSync:
		var m VideoSync
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &ProtocolError{Type: kind, Err: err}
		}
		return m, nil
	default:
		return nil, errors.Wrapf(ErrUnknownType, "type %q", kind)
	}
}

// ClientFrame is what a member sends to the relay; chat and video control
// share one shape and are told apart by Type.
type ClientFrame struct {
	Type    string   `json:"type"`
	Text    string   `json:"text"`
	GroupID int64    `json:"group_id"`
	Action  Action   `json:"video_action"`
	Time    *float64 `json:"video_time"`
	Name    *string  `json:"video_name"`
}

// DecodeClient parses a member frame. A missing type means chat.
func DecodeClient(raw []byte) (ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return ClientFrame{}, &ProtocolError{Err: err}
	}
	if f.Type == "" {
		f.Type = TypeMessage
	}
	if f.Type == TypeVideoControl && !f.Action.Valid() {
		return ClientFrame{}, &ProtocolError{Type: f.Type, Err: errors.Newf("unsupported video_action %q", f.Action)}
	}
	return f, nil
}
