package session

import (
	"net/url"
	"strings"
)

// ConnectionState is the lifecycle of the transport connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// VideoState is the locally tracked transport state of the player.
// An empty Name means no video is loaded.
type VideoState struct {
	Name        string  `json:"videoName"`
	CurrentTime float64 `json:"currentTime"`
	IsPlaying   bool    `json:"isPlaying"`
}

func (v VideoState) Loaded() bool {
	return v.Name != ""
}

// SourceLocator derives the stream URL for the current video from the
// stream service base URL. It is never stored so it cannot drift from Name.
func (v VideoState) SourceLocator(streamBase string) string {
	if v.Name == "" {
		return ""
	}
	return StreamURL(streamBase, v.Name)
}

// StreamURL is the range-capable streaming endpoint for a video name.
func StreamURL(streamBase, name string) string {
	return strings.TrimRight(streamBase, "/") + "/api/stream/" + url.PathEscape(name)
}

// State is the mutable half of a session. A single event loop owns it and
// hands it by pointer to each component; nothing else touches it.
type State struct {
	Conn       ConnectionState
	Reconnects int
	Video      VideoState

	// Suppressed is set while locally observed player transitions are
	// attributed to a just-applied remote command.
	Suppressed bool
	// SuppressionGen increases every time a suppression window is armed.
	SuppressionGen uint64
}
