// Package store keeps authenticated sessions on disk so a later run can
// rejoin a group without asking for the token again.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/v2"

	"groupwatch/internal/session"
)

const (
	keySessionPrefix = "session/"
	keyLast          = "last"
)

type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "create store directory %s", dir)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open store %s", dir)
	}
	return &Store{db: db}, nil
}

func sessionKey(groupID int64) []byte {
	return []byte(keySessionPrefix + strconv.FormatInt(groupID, 10))
}

// Save records s as the session for its group and as the most recent one.
func (s *Store) Save(sess session.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	val, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(sessionKey(sess.GroupID), val, nil); err != nil {
		return err
	}
	if err := b.Set([]byte(keyLast), []byte(strconv.FormatInt(sess.GroupID, 10)), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// Load returns the saved session for groupID. A missing session is
// session.ErrNotAuthenticated.
func (s *Store) Load(groupID int64) (session.Session, error) {
	val, closer, err := s.db.Get(sessionKey(groupID))
	if err == pebble.ErrNotFound {
		return session.Session{}, errors.Wrapf(session.ErrNotAuthenticated, "no saved session for group %d", groupID)
	}
	if err != nil {
		return session.Session{}, errors.Wrap(err, "read session")
	}
	defer closer.Close()

	var sess session.Session
	if err := json.Unmarshal(val, &sess); err != nil {
		return session.Session{}, errors.Wrap(err, "decode session")
	}
	return sess, sess.Validate()
}

// Last returns the most recently saved session.
func (s *Store) Last() (session.Session, error) {
	val, closer, err := s.db.Get([]byte(keyLast))
	if err == pebble.ErrNotFound {
		return session.Session{}, errors.Wrap(session.ErrNotAuthenticated, "no saved session")
	}
	if err != nil {
		return session.Session{}, errors.Wrap(err, "read last session")
	}
	groupID, perr := strconv.ParseInt(string(val), 10, 64)
	closer.Close()
	if perr != nil {
		return session.Session{}, errors.Wrap(perr, "decode last session")
	}
	return s.Load(groupID)
}

// List returns every saved session ordered by group id bytes.
func (s *Store) List() ([]session.Session, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keySessionPrefix),
		UpperBound: []byte("session0"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []session.Session
	for ok := iter.First(); ok; ok = iter.Next() {
		var sess session.Session
		if err := json.Unmarshal(iter.Value(), &sess); err != nil {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

// Delete forgets the session for groupID. Deleting a missing session is
// not an error.
func (s *Store) Delete(groupID int64) error {
	if err := s.db.Delete(sessionKey(groupID), pebble.Sync); err != nil && err != pebble.ErrNotFound {
		return err
	}
	val, closer, err := s.db.Get([]byte(keyLast))
	if err != nil {
		return nil
	}
	last := string(val)
	closer.Close()
	if last == strconv.FormatInt(groupID, 10) {
		return s.db.Delete([]byte(keyLast), pebble.Sync)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
