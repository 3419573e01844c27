package session

import (
	"testing"
	"time"

	"github.com/nexusbot/nexusbot/internal/config"
	"github.com/nexusbot/nexusbot/internal/types"
)

func TestSnapshotReturnsIndependentCopy(t *testing.T) {
	m := &Manager{}
	m.snapshot = types.SessionSnapshot{
		Cookies:         []types.Cookie{{Name: "session", Value: "abc"}},
		CookieHeader:    "session=abc",
		CSRFToken:       "tok",
		AuthenticatedAt: time.Now(),
	}

	snap := m.Snapshot()
	snap.Cookies[0].Value = "mutated"

	if m.snapshot.Cookies[0].Value != "abc" {
		t.Error("Mutating a returned snapshot must not affect the manager's copy")
	}
}

func TestAuthenticatedTracksSnapshotValidity(t *testing.T) {
	m := &Manager{}
	if m.Authenticated() {
		t.Error("Expected unauthenticated before any snapshot")
	}

	m.snapshot = types.SessionSnapshot{CookieHeader: "a=b", CSRFToken: "tok"}
	if !m.Authenticated() {
		t.Error("Expected authenticated with a valid snapshot")
	}

	m.Invalidate()
	if m.Authenticated() {
		t.Error("Expected unauthenticated after Invalidate")
	}
}

func TestSnapshotPersistsAcrossManagers(t *testing.T) {
	cfg := &config.Config{
		BaseURL: "https://www.ivasms.com",
		DataDir: t.TempDir(),
	}

	m := NewManager(cfg, nil, nil)
	m.persistSnapshot(types.SessionSnapshot{
		Cookies:         []types.Cookie{{Name: "cf_clearance", Value: "abc", Domain: ".ivasms.com"}},
		CookieHeader:    "cf_clearance=abc",
		CSRFToken:       "tok",
		AuthenticatedAt: time.Now(),
	})

	// A new manager in the same data dir sees the previous process's session.
	reloaded := NewManager(cfg, nil, nil)
	snap, ok := reloaded.loadPersistedSnapshot()
	if !ok {
		t.Fatal("Expected a persisted snapshot after restart")
	}
	if len(snap.Cookies) != 1 || snap.Cookies[0].Name != "cf_clearance" {
		t.Errorf("Unexpected restored cookies: %+v", snap.Cookies)
	}
	if snap.CookieHeader != "cf_clearance=abc" || snap.CSRFToken != "tok" {
		t.Errorf("Restored snapshot mismatch: %+v", snap)
	}
}

func TestLoadPersistedSnapshotEmptyStore(t *testing.T) {
	cfg := &config.Config{
		BaseURL: "https://www.ivasms.com",
		DataDir: t.TempDir(),
	}

	m := NewManager(cfg, nil, nil)
	if _, ok := m.loadPersistedSnapshot(); ok {
		t.Error("Expected no snapshot from an empty data dir")
	}
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.ivasms.com", "www.ivasms.com"},
		{"https://www.ivasms.com/portal", "www.ivasms.com"},
		{"http://example.com/a/b", "example.com"},
		{"example.com", "example.com"},
	}
	for _, tt := range tests {
		if got := hostOf(tt.in); got != tt.want {
			t.Errorf("hostOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
