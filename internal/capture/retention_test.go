package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestIsReady(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, "opus", 10)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if s.IsReady("abc") {
		t.Error("expected not ready before file exists")
	}

	path := s.PathFor("abc")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if s.IsReady("abc") {
		t.Error("expected not ready while file is zero-sized")
	}

	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !s.IsReady("abc") {
		t.Error("expected ready once file is nonzero-sized")
	}
}

func TestRemoveIfEmpty(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir, "opus", 10)

	emptyPath := s.PathFor("empty")
	os.WriteFile(emptyPath, nil, 0o644)
	s.RemoveIfEmpty("empty")
	if _, err := os.Stat(emptyPath); !os.IsNotExist(err) {
		t.Error("expected empty capture file to be removed")
	}

	nonEmptyPath := s.PathFor("full")
	os.WriteFile(nonEmptyPath, []byte("x"), 0o644)
	s.RemoveIfEmpty("full")
	if _, err := os.Stat(nonEmptyPath); err != nil {
		t.Error("expected nonempty capture file to survive RemoveIfEmpty")
	}
}

func TestEnforceRetentionDeletesOldestPastN(t *testing.T) {
	dir := t.TempDir()
	const n = 3
	s, _ := NewStore(dir, "opus", n)

	// Create n+1 files with strictly increasing mtimes.
	paths := make([]string, n+1)
	base := time.Now().Add(-time.Hour)
	for i := 0; i <= n; i++ {
		p := filepath.Join(dir, string(rune('a'+i))+".opus")
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		mt := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(p, mt, mt); err != nil {
			t.Fatal(err)
		}
		paths[i] = p
	}

	s.EnforceRetention()

	// The oldest file (index 0) should be gone; the rest should remain.
	if _, err := os.Stat(paths[0]); !os.IsNotExist(err) {
		t.Error("expected oldest file to be deleted")
	}
	for i := 1; i <= n; i++ {
		if _, err := os.Stat(paths[i]); err != nil {
			t.Errorf("expected file %d to survive retention: %v", i, err)
		}
	}
}

func TestEnforceRetentionNoOpUnderLimit(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir, "opus", 10)
	os.WriteFile(filepath.Join(dir, "a.opus"), []byte("x"), 0o644)

	s.EnforceRetention()

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected file to survive, got %d entries", len(entries))
	}
}
