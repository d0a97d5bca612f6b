package console

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

var ErrUnknownCommand = errors.New("unknown command")

type CommandKind int

const (
	Chat CommandKind = iota
	Play
	Pause
	Seek
	Video
	Videos
	State
	Help
	Quit
)

// Command is one line of user input.
type Command struct {
	Kind    CommandKind
	Text    string
	Seconds float64
	Name    string
}

const Usage = `commands:
  <text>        send a chat message
  /play         start playback
  /pause        pause playback
  /seek N       jump to N seconds
  /video NAME   switch the group to another video
  /videos       list available videos
  /state        show connection and playback state
  /help         show this help
  /quit         leave the group`

// ParseCommand reads a line typed by the user. Lines not starting with a
// slash are chat; "//" escapes a leading slash.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "//") {
		return Command{Kind: Chat, Text: line[1:]}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return Command{Kind: Chat, Text: line}, nil
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "play":
		return Command{Kind: Play}, nil
	case "pause":
		return Command{Kind: Pause}, nil
	case "seek":
		secs, err := strconv.ParseFloat(arg, 64)
		if err != nil || secs < 0 {
			return Command{}, errors.Newf("/seek needs a position in seconds, got %q", arg)
		}
		return Command{Kind: Seek, Seconds: secs}, nil
	case "video":
		if arg == "" {
			return Command{}, errors.New("/video needs a video name")
		}
		return Command{Kind: Video, Name: arg}, nil
	case "videos":
		return Command{Kind: Videos}, nil
	case "state":
		return Command{Kind: State}, nil
	case "help", "?":
		return Command{Kind: Help}, nil
	case "quit", "exit":
		return Command{Kind: Quit}, nil
	default:
		return Command{}, errors.Wrapf(ErrUnknownCommand, "/%s", name)
	}
}
