package playback

import (
	"groupwatch/internal/protocol"
)

// Player is the local video element. Implementations report their own
// transitions and metadata readiness by posting Transition and
// MetadataReady events to the event loop; they must not call back into the
// controller directly.
type Player interface {
	// SetSource assigns a new media locator. Metadata is unknown until the
	// next Load completes.
	SetSource(locator string)
	Load()
	Seek(seconds float64)
	// Play requests playback start. It may be refused, e.g. by an autoplay
	// policy.
	Play() error
	Pause()
	CurrentTime() float64
	// HasMetadata reports whether duration and dimensions are known, i.e.
	// seeking is meaningful.
	HasMetadata() bool
}

type TransitionKind int

const (
	Played TransitionKind = iota
	Paused
	Seeked
)

func (k TransitionKind) String() string {
	return string(k.Action())
}

// Action is the wire action a local transition is broadcast as.
func (k TransitionKind) Action() protocol.Action {
	switch k {
	case Played:
		return protocol.ActionPlay
	case Paused:
		return protocol.ActionPause
	default:
		return protocol.ActionSeek
	}
}

// Transition is a state change observed on the local player. At is the
// player position when it happened.
type Transition struct {
	Kind TransitionKind
	At   float64
}

// MetadataReady is posted by the player when a load finished far enough
// to seek.
type MetadataReady struct{}

// Phase is where the controller is in the load/play cycle.
type Phase int

const (
	Idle Phase = iota
	Loading
	Ready
	Playing
	PausedPhase
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Playing:
		return "playing"
	case PausedPhase:
		return "paused"
	default:
		return "unknown"
	}
}
