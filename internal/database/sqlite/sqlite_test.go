package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/camflow/internal/database"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "camflow.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "settings/last_model", []byte("gemini")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "settings/last_model", []byte("ollama")); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := s.Get(ctx, "settings/last_model")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "ollama" {
		t.Errorf("expected ollama, got %q", got)
	}
}

func TestStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, k := range []string{"session/2", "session/1", "task/1"} {
		if err := s.Set(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	entries, err := s.List(ctx, "session/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Key != "session/1" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	deleted, err := s.Delete(ctx, "session/1")
	if err != nil || !deleted {
		t.Fatalf("expected delete, got %v %v", deleted, err)
	}
	deleted, err = s.Delete(ctx, "session/1")
	if err != nil || deleted {
		t.Fatalf("expected no-op delete, got %v %v", deleted, err)
	}
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "camflow.db")

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Set(ctx, "person_groups", []byte(`[]`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s.Close()

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	if _, err := s.Get(ctx, "person_groups"); err != nil {
		t.Errorf("expected document after reopen, got %v", err)
	}
}
