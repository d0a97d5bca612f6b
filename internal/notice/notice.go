package notice

// Level tells the display how severe a notice is.
type Level int

const (
	Info Level = iota
	Warning
	// Fatal notices end the session; the user has to reload or rejoin.
	Fatal
)

func (l Level) String() string {
	switch l {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Notice is a user-visible status line.
type Notice struct {
	Level Level
	Text  string
	// Hint is an optional action the user can take, e.g. "click to start playback".
	Hint string
}

type Notifier interface {
	Notify(n Notice)
}

// Func adapts a plain function to a Notifier.
type Func func(n Notice)

func (f Func) Notify(n Notice) {
	f(n)
}

// Discard drops every notice.
var Discard Notifier = Func(func(Notice) {})
