package session

import (
	"github.com/cockroachdb/errors"
)

// ErrNotAuthenticated is returned when the identity needed to open a
// session is incomplete.
var ErrNotAuthenticated = errors.New("not authenticated")

// Session is the identity bound to one group membership. It does not change
// for the lifetime of a chat view.
type Session struct {
	GroupID     int64  `json:"groupId"`
	Token       string `json:"token"`
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName,omitempty"`
}

// New validates the identity. The display name is optional.
func New(groupID int64, token, identity, displayName string) (Session, error) {
	s := Session{
		GroupID:     groupID,
		Token:       token,
		Identity:    identity,
		DisplayName: displayName,
	}
	if err := s.Validate(); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (s Session) Validate() error {
	switch {
	case s.GroupID <= 0:
		return errors.Wrap(ErrNotAuthenticated, "missing group id")
	case s.Token == "":
		return errors.Wrap(ErrNotAuthenticated, "missing token")
	case s.Identity == "":
		return errors.Wrap(ErrNotAuthenticated, "missing identity")
	}
	return nil
}

// Name returns the display name, falling back to the identity.
func (s Session) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Identity
}
