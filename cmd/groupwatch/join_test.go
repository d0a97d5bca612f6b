package main

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"

	"groupwatch/internal/httpapi"
	"groupwatch/internal/relay"
	"groupwatch/internal/services"
	"groupwatch/internal/session"
	"groupwatch/internal/store"
)

func newTestServices(t *testing.T) *services.Client {
	t.Helper()
	dir := relay.NewDirectory()
	dir.AddAccount("tok-a", "alice@example.com", "Alice", 1)
	dir.AddGroup(2)
	srv := httptest.NewServer(httpapi.NewServer(relay.NewHub(dir), relay.NewLibrary("")).Router())
	t.Cleanup(srv.Close)
	svc, err := services.New(srv.URL, srv.URL)
	if err != nil {
		t.Fatalf("services.New failed: %v", err)
	}
	return svc
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestResolveSessionFirstJoin(t *testing.T) {
	svc := newTestServices(t)
	st := openTestStore(t)

	sess, err := resolveSession(context.Background(), st, svc, 1, "tok-a", "", false)
	if err != nil {
		t.Fatalf("resolveSession failed: %v", err)
	}
	want := session.Session{GroupID: 1, Token: "tok-a", Identity: "alice@example.com", DisplayName: "Alice"}
	if sess != want {
		t.Errorf("expected %+v, got %+v", want, sess)
	}
}

func TestResolveSessionUsesSavedToken(t *testing.T) {
	svc := newTestServices(t)
	st := openTestStore(t)
	saved := session.Session{GroupID: 1, Token: "tok-a", Identity: "alice@example.com", DisplayName: "Al"}
	if err := st.Save(saved); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	sess, err := resolveSession(context.Background(), st, svc, 0, "", "", false)
	if err != nil {
		t.Fatalf("resolveSession failed: %v", err)
	}
	if sess != saved {
		t.Errorf("expected the saved session %+v, got %+v", saved, sess)
	}
}

func TestResolveSessionWithoutAnything(t *testing.T) {
	svc := newTestServices(t)
	st := openTestStore(t)

	_, err := resolveSession(context.Background(), st, svc, 1, "", "", false)
	if !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if errors.FlattenHints(err) == "" {
		t.Error("expected a hint on how to join")
	}
}

func TestResolveSessionInvalidTokenForgetsSession(t *testing.T) {
	svc := newTestServices(t)
	st := openTestStore(t)
	if err := st.Save(session.Session{GroupID: 1, Token: "stale", Identity: "alice@example.com"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	_, err := resolveSession(context.Background(), st, svc, 1, "", "", false)
	if !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if _, err := st.Load(1); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Errorf("stale session should be forgotten, got %v", err)
	}
}

func TestResolveSessionNotMember(t *testing.T) {
	svc := newTestServices(t)
	st := openTestStore(t)

	_, err := resolveSession(context.Background(), st, svc, 2, "tok-a", "", false)
	var authErr *services.AuthError
	if !errors.As(err, &authErr) || authErr.Cause != services.NotMember {
		t.Fatalf("expected a not-member AuthError, got %v", err)
	}
}

func TestResolveSessionFallsBackWhenAuthIsDown(t *testing.T) {
	srv := httptest.NewServer(nil)
	srv.Close()
	svc, err := services.New(srv.URL, srv.URL)
	if err != nil {
		t.Fatalf("services.New failed: %v", err)
	}
	st := openTestStore(t)

	if _, err := resolveSession(context.Background(), st, svc, 1, "tok-a", "", false); !errors.Is(err, services.ErrUnavailable) {
		t.Fatalf("without a saved identity the outage is fatal, got %v", err)
	}

	saved := session.Session{GroupID: 1, Token: "tok-a", Identity: "alice@example.com"}
	if err := st.Save(saved); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	sess, err := resolveSession(context.Background(), st, svc, 1, "", "", false)
	if err != nil {
		t.Fatalf("resolveSession failed: %v", err)
	}
	if sess != saved {
		t.Errorf("expected %+v, got %+v", saved, sess)
	}
}

func TestResolveSessionSkipVerify(t *testing.T) {
	st := openTestStore(t)
	if _, err := resolveSession(context.Background(), st, nil, 1, "tok-a", "", true); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Errorf("an unverified new token has no identity, got %v", err)
	}
}
