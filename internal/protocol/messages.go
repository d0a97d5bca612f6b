package protocol

import (
	"time"
)

// Frame discriminants carried in the "type" field.
const (
	TypeMessage      = "message"
	TypeAdd          = "add"
	TypeLeave        = "leave"
	TypeUserLeft     = "user_left"
	TypeVideoControl = "video_control"
	TypeVideoSync    = "video_sync"
)

// SystemUser is the sender of membership notifications.
const SystemUser = "system"

type Action string

const (
	ActionPlay        Action = "play"
	ActionPause       Action = "pause"
	ActionSeek        Action = "seek"
	ActionChangeVideo Action = "change_video"
)

func (a Action) Valid() bool {
	switch a {
	case ActionPlay, ActionPause, ActionSeek, ActionChangeVideo:
		return true
	}
	return false
}

// ChatMessage is a persisted chat line relayed to every member.
type ChatMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	User      string `json:"user"`
	GroupID   int64  `json:"group_id"`
	CreatedAt string `json:"created_at"`
}

// Time parses CreatedAt. Offsets are optional; a naive timestamp is UTC.
func (m ChatMessage) Time() (time.Time, bool) {
	return ParseTimestamp(m.CreatedAt)
}

// MembershipMessage announces a member added to or removed from the group.
type MembershipMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	User      string `json:"user"`
	GroupID   int64  `json:"group_id"`
	UserEmail string `json:"user_email,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Added reports whether this is an "add" rather than a "leave".
func (m MembershipMessage) Added() bool {
	return m.Type == TypeAdd
}

type UserLeftMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// VideoControl is a playback command relayed from one member to all.
type VideoControl struct {
	Type      string   `json:"type"`
	Action    Action   `json:"video_action"`
	Time      *float64 `json:"video_time"`
	Name      *string  `json:"video_name"`
	User      string   `json:"user"`
	GroupID   int64    `json:"group_id,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// VideoSync is the catch-up frame sent to a member that just connected.
type VideoSync struct {
	Type      string  `json:"type"`
	Name      *string `json:"video_name"`
	Time      float64 `json:"video_time"`
	IsPlaying bool    `json:"is_playing"`
	Message   string  `json:"message,omitempty"`
}

// ChatSend is the outbound chat frame.
type ChatSend struct {
	Text    string `json:"text"`
	GroupID int64  `json:"group_id"`
}

// VideoControlSend is the outbound playback command.
type VideoControlSend struct {
	Type    string  `json:"type"`
	Action  Action  `json:"video_action"`
	Time    float64 `json:"video_time"`
	Name    *string `json:"video_name"`
	GroupID int64   `json:"group_id"`
}

// NewVideoControlSend builds an outbound command. An empty name is sent as null.
func NewVideoControlSend(groupID int64, action Action, at float64, name string) VideoControlSend {
	return VideoControlSend{
		Type:    TypeVideoControl,
		Action:  action,
		Time:    at,
		Name:    optional(name),
		GroupID: groupID,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// String returns the pointed-to value or "".
func String(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Timestamp formats t the way the backend stamps frames.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
