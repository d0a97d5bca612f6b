// Package console renders a group session on a terminal.
package console

import (
	"fmt"
	"html"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"groupwatch/internal/notice"
	"groupwatch/internal/protocol"
	"groupwatch/internal/session"
)

// textPolicy strips all markup. Chat is rendered as plain text.
var textPolicy = bluemonday.StrictPolicy()

// Sanitize removes markup from untrusted text. Entities are decoded again
// since the result goes to a terminal, not a page.
func Sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

// Console prints chat lines to out and status events through a zerolog
// console logger on the same writer.
type Console struct {
	mu   sync.Mutex
	out  io.Writer
	log  zerolog.Logger
	self string
	loc  *time.Location
}

type Option func(*Console)

// WithLocation sets the zone chat timestamps are shown in.
func WithLocation(loc *time.Location) Option {
	return func(c *Console) {
		c.loc = loc
	}
}

// New returns a console for the member self.
func New(out io.Writer, self string, opts ...Option) *Console {
	c := &Console{
		out:  out,
		self: self,
		loc:  time.Local,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = zerolog.New(zerolog.ConsoleWriter{Out: &lockedWriter{c: c}, NoColor: true, PartsExclude: []string{zerolog.TimestampFieldName}})
	return c
}

func (c *Console) ShowChat(m protocol.ChatMessage) {
	who := Sanitize(m.User)
	if m.User == c.self {
		who = "you"
	}
	stamp := "--:--"
	if t, ok := m.Time(); ok {
		stamp = t.In(c.loc).Format("15:04")
	}
	c.printf("[%s] %s: %s\n", stamp, who, Sanitize(m.Text))
}

func (c *Console) ShowMembership(m protocol.MembershipMessage) {
	c.printf("* %s\n", Sanitize(m.Text))
}

func (c *Console) ShowUserLeft(m protocol.UserLeftMessage) {
	c.printf("* %s\n", Sanitize(m.Message))
}

// Notify logs a notice at the matching level.
func (c *Console) Notify(n notice.Notice) {
	var ev *zerolog.Event
	switch n.Level {
	case notice.Fatal:
		ev = c.log.Error()
	case notice.Warning:
		ev = c.log.Warn()
	default:
		ev = c.log.Info()
	}
	if n.Hint != "" {
		ev = ev.Str("hint", n.Hint)
	}
	ev.Msg(n.Text)
}

func (c *Console) ConnectionStatus(state session.ConnectionState) {
	c.log.Info().Str("connection", state.String()).Msg("status")
}

// Printf writes a free-form line, e.g. command output.
func (c *Console) Printf(format string, args ...any) {
	c.printf(format, args...)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// lockedWriter serializes log lines with chat lines.
type lockedWriter struct {
	c *Console
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.c.out.Write(p)
}
