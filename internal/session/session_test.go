package session

import (
	"testing"

	"github.com/cockroachdb/errors"
)

func TestNewSession(t *testing.T) {
	s, err := New(4, "tok", "ann@example.com", "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.Name() != "ann@example.com" {
		t.Errorf("Name should fall back to identity, got %s", s.Name())
	}
}

func TestNewSessionMissingValues(t *testing.T) {
	cases := []struct {
		group    int64
		token    string
		identity string
	}{
		{0, "tok", "ann"},
		{1, "", "ann"},
		{1, "tok", ""},
	}
	for _, c := range cases {
		_, err := New(c.group, c.token, c.identity, "Ann")
		if !errors.Is(err, ErrNotAuthenticated) {
			t.Errorf("%+v: expected ErrNotAuthenticated, got %v", c, err)
		}
	}
}

func TestSourceLocatorDerivedFromName(t *testing.T) {
	v := VideoState{}
	if v.SourceLocator("http://stream") != "" {
		t.Error("no video should have no locator")
	}
	v.Name = "my clip.mp4"
	want := "http://stream/api/stream/my%20clip.mp4"
	if got := v.SourceLocator("http://stream/"); got != want {
		t.Errorf("locator mismatch: expected %s, got %s", want, got)
	}
}

func TestConnectionStateString(t *testing.T) {
	if Connected.String() != "connected" || Disconnected.String() != "disconnected" {
		t.Error("unexpected state names")
	}
}
