package state_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ilxomkh/survey/internal/state"
)

func openStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	if tok, err := s.Token(ctx); err != nil || tok != "" {
		t.Fatalf("Token on fresh store = (%q, %v), want empty", tok, err)
	}
	if err := s.SetToken(ctx, "jwt-abc"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if err := s.SetRole(ctx, "agent"); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	tok, err := s.Token(ctx)
	if err != nil || tok != "jwt-abc" {
		t.Errorf("Token = (%q, %v), want jwt-abc", tok, err)
	}
	role, err := s.Role(ctx)
	if err != nil || role != "agent" {
		t.Errorf("Role = (%q, %v), want agent", role, err)
	}

	// Overwrite, then clear.
	if err := s.SetToken(ctx, "jwt-renewed"); err != nil {
		t.Fatalf("SetToken overwrite: %v", err)
	}
	if tok, _ := s.Token(ctx); tok != "jwt-renewed" {
		t.Errorf("Token after overwrite = %q, want jwt-renewed", tok)
	}
	if err := s.ClearAuth(ctx); err != nil {
		t.Fatalf("ClearAuth: %v", err)
	}
	if tok, _ := s.Token(ctx); tok != "" {
		t.Errorf("Token after ClearAuth = %q, want empty", tok)
	}
	if role, _ := s.Role(ctx); role != "" {
		t.Errorf("Role after ClearAuth = %q, want empty", role)
	}
}

func TestSessionIDSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := state.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SetSessionID(ctx, "sess-orphan"); err != nil {
		t.Fatalf("SetSessionID: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = state.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	id, err := s.SessionID(ctx)
	if err != nil || id != "sess-orphan" {
		t.Fatalf("SessionID after reopen = (%q, %v), want sess-orphan", id, err)
	}
	if err := s.ClearSessionID(ctx); err != nil {
		t.Fatalf("ClearSessionID: %v", err)
	}
	if id, _ := s.SessionID(ctx); id != "" {
		t.Errorf("SessionID after clear = %q, want empty", id)
	}
}
