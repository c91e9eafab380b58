package session

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fae.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndList(t *testing.T) {
	s := openTestStore(t)
	if err := s.Append("user", "hello"); err != nil {
		t.Fatal(err)
	}
	if err := s.Append("assistant", "hi there"); err != nil {
		t.Fatal(err)
	}

	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].Role != "user" || entries[0].Content != "hello" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Role != "assistant" {
		t.Errorf("entries[1] = %+v", entries[1])
	}
}

func TestReset(t *testing.T) {
	s := openTestStore(t)
	s.Append("user", "x")
	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("entries after reset = %d", len(entries))
	}
}

func TestSessionsAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fae.db")

	first, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	first.Append("user", "from first session")
	firstID := first.SessionID()
	first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	ids, err := second.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("sessions = %v", ids)
	}

	old, err := second.ListSession(firstID)
	if err != nil {
		t.Fatal(err)
	}
	if len(old) != 1 || old[0].Content != "from first session" {
		t.Errorf("old entries = %+v", old)
	}
}

func TestHealthy(t *testing.T) {
	s := openTestStore(t)
	if err := s.Healthy(); err != nil {
		t.Errorf("healthy = %v", err)
	}
}
