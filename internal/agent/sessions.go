package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/neurovisor/neurovisor/internal/ollama"
)

// Session is a persisted agent conversation, one JSON file per session.
type Session struct {
	ID         string               `json:"id"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
	Task       string               `json:"task"`
	Model      string               `json:"model"`
	Messages   []ollama.ChatMessage `json:"messages"`
	Iterations int                  `json:"iterations"`
	Complete   bool                 `json:"complete"`
}

// NewSession starts a fresh, unpersisted session for task.
func NewSession(task, model string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Task:      task,
		Model:     model,
	}
}

func (s *Session) AddMessage(m ollama.ChatMessage) {
	s.Messages = append(s.Messages, m)
	s.UpdatedAt = time.Now().UTC()
}

func (s *Session) MarkComplete() {
	s.Complete = true
	s.UpdatedAt = time.Now().UTC()
}

func (s *Session) IncrementIterations() {
	s.Iterations++
	s.UpdatedAt = time.Now().UTC()
}

// SessionSummary is the listing-view projection of a Session.
type SessionSummary struct {
	ID         string    `json:"id"`
	Task       string    `json:"task"`
	CreatedAt  time.Time `json:"created_at"`
	Iterations int       `json:"iterations"`
	Complete   bool      `json:"complete"`
}

// SessionStore persists sessions as one JSON file per session under a
// base directory.
type SessionStore struct {
	baseDir string
}

func NewSessionStore(baseDir string) (*SessionStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	return &SessionStore{baseDir: baseDir}, nil
}

// DefaultSessionStore uses ~/.neurovisor/sessions.
func DefaultSessionStore() (*SessionStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return NewSessionStore(filepath.Join(home, ".neurovisor", "sessions"))
}

func (s *SessionStore) sessionPath(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

func (s *SessionStore) Save(session *Session) error {
	body, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.sessionPath(session.ID), body, 0o644)
}

func (s *SessionStore) Load(id string) (*Session, error) {
	body, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		return nil, err
	}
	var session Session
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("parsing session %s: %w", id, err)
	}
	return &session, nil
}

func (s *SessionStore) Delete(id string) error {
	return os.Remove(s.sessionPath(id))
}

// List returns summaries of every stored session, newest first.
func (s *SessionStore) List() ([]SessionSummary, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}

	var summaries []SessionSummary
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := entry.Name()[:len(entry.Name())-len(".json")]
		session, err := s.Load(id)
		if err != nil {
			continue
		}
		summaries = append(summaries, SessionSummary{
			ID:         session.ID,
			Task:       truncate(session.Task, 50),
			CreatedAt:  session.CreatedAt,
			Iterations: session.Iterations,
			Complete:   session.Complete,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
