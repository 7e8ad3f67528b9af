package agent

import (
	"testing"
	"time"

	"github.com/neurovisor/neurovisor/internal/ollama"
)

func TestSessionStore_SaveLoadRoundTrip(t *testing.T) {
	store, err := NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}

	s := NewSession("write a fibonacci function", "llama3")
	s.AddMessage(ollama.UserMessage("write a fibonacci function"))
	s.IncrementIterations()

	if err := store.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(s.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != s.ID || loaded.Task != s.Task || loaded.Model != s.Model {
		t.Errorf("loaded = %+v, want matching %+v", loaded, s)
	}
	if loaded.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", loaded.Iterations)
	}
	if len(loaded.Messages) != 1 || loaded.Messages[0].Content != "write a fibonacci function" {
		t.Errorf("Messages = %+v", loaded.Messages)
	}
}

func TestSessionStore_LoadMissingSessionErrors(t *testing.T) {
	store, err := NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}

	if _, err := store.Load("does-not-exist"); err == nil {
		t.Fatal("expected an error loading a nonexistent session")
	}
}

func TestSessionStore_Delete(t *testing.T) {
	store, err := NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}

	s := NewSession("task", "model")
	if err := store.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load(s.ID); err == nil {
		t.Fatal("expected Load to fail after Delete")
	}
}

// TestSessionStore_ListOrdersNewestFirst covers List's documented
// newest-first ordering.
func TestSessionStore_ListOrdersNewestFirst(t *testing.T) {
	store, err := NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	oldest := NewSession("oldest task", "model")
	oldest.CreatedAt = base
	middle := NewSession("middle task", "model")
	middle.CreatedAt = base.Add(time.Hour)
	newest := NewSession("newest task", "model")
	newest.CreatedAt = base.Add(2 * time.Hour)

	for _, s := range []*Session{oldest, middle, newest} {
		if err := store.Save(s); err != nil {
			t.Fatalf("Save(%s): %v", s.ID, err)
		}
	}

	summaries, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("got %d summaries, want 3", len(summaries))
	}
	if summaries[0].ID != newest.ID || summaries[1].ID != middle.ID || summaries[2].ID != oldest.ID {
		t.Errorf("order = [%s %s %s], want newest, middle, oldest",
			summaries[0].Task, summaries[1].Task, summaries[2].Task)
	}
}

func TestSessionStore_ListTruncatesLongTaskNames(t *testing.T) {
	store, err := NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}

	longTask := "this is a very long task description that goes on for quite a while past fifty characters"
	s := NewSession(longTask, "model")
	if err := store.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	summaries, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries, want 1", len(summaries))
	}
	if len(summaries[0].Task) != 50 {
		t.Errorf("truncated task length = %d, want 50", len(summaries[0].Task))
	}
}

func TestDefaultSessionStore_UsesHomeDirSessionsPath(t *testing.T) {
	store, err := DefaultSessionStore()
	if err != nil {
		t.Fatalf("DefaultSessionStore: %v", err)
	}
	if store.baseDir == "" {
		t.Error("baseDir is empty")
	}
}
