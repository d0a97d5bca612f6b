package relay

import (
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrGroupNotFound = errors.New("group not found")
	ErrNotMember     = errors.New("you are not a member of this group")
)

// Identity is what the relay knows about an authenticated member.
type Identity struct {
	Email string `json:"user"`
	Name  string `json:"name"`
}

type account struct {
	Identity
	groups map[int64]bool
}

// Directory is a static token table standing in for the auth service.
type Directory struct {
	mu       sync.RWMutex
	byToken  map[string]*account
	byEmail  map[string]*account
	groupIDs map[int64]bool
}

func NewDirectory() *Directory {
	return &Directory{
		byToken:  make(map[string]*account),
		byEmail:  make(map[string]*account),
		groupIDs: make(map[int64]bool),
	}
}

func (d *Directory) AddGroup(groupID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groupIDs[groupID] = true
}

// AddAccount registers a token and makes it a member of groups, creating
// the groups as needed.
func (d *Directory) AddAccount(token, email, name string, groups ...int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	acc, ok := d.byEmail[email]
	if !ok {
		acc = &account{Identity: Identity{Email: email, Name: name}, groups: make(map[int64]bool)}
		d.byEmail[email] = acc
	}
	d.byToken[token] = acc
	for _, g := range groups {
		d.groupIDs[g] = true
		acc.groups[g] = true
	}
}

// ParseAccount reads "token=email[:name[:group,group...]]".
func (d *Directory) ParseAccount(line string) error {
	token, rest, ok := strings.Cut(line, "=")
	if !ok || token == "" || rest == "" {
		return errors.Newf("account %q: expected token=email[:name[:groups]]", line)
	}
	parts := strings.SplitN(rest, ":", 3)
	email, name := parts[0], ""
	if len(parts) > 1 {
		name = parts[1]
	}
	if name == "" {
		name = email
	}
	var groups []int64
	if len(parts) == 3 && parts[2] != "" {
		for _, g := range strings.Split(parts[2], ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(g), 10, 64)
			if err != nil {
				return errors.Wrapf(err, "account %q: group %q", line, g)
			}
			groups = append(groups, id)
		}
	}
	d.AddAccount(token, email, name, groups...)
	return nil
}

// Verify answers the question the auth service answers for the chat
// service: who holds this token and may they enter this group.
func (d *Directory) Verify(token string, groupID int64) (Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	acc, ok := d.byToken[token]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	if !d.groupIDs[groupID] {
		return Identity{}, ErrGroupNotFound
	}
	if !acc.groups[groupID] {
		return Identity{}, ErrNotMember
	}
	return acc.Identity, nil
}

// SetMembership grants or revokes membership by email.
func (d *Directory) SetMembership(email string, groupID int64, member bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	acc, ok := d.byEmail[email]
	if !ok {
		return errors.Newf("unknown user %q", email)
	}
	if !d.groupIDs[groupID] {
		return ErrGroupNotFound
	}
	if member {
		acc.groups[groupID] = true
	} else {
		delete(acc.groups, groupID)
	}
	return nil
}
