package playback

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var ErrNoVideo = errors.New("no video name given")

// PlaybackError is a programmatic play request refused by the player.
type PlaybackError struct {
	Err error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback refused: %v", e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}

func newPlaybackError(cause error) error {
	return errors.WithHint(&PlaybackError{Err: cause}, "click to start playback")
}
