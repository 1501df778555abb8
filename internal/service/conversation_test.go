package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/domain"
	"github.com/GGUFloader/agentcore/internal/domain/conversation"
	"github.com/GGUFloader/agentcore/internal/port/snapshot"
)

// memSessionStore implements snapshot.SessionStore for testing.
type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]conversation.Session
	pruned   time.Time
}

var _ snapshot.SessionStore = (*memSessionStore)(nil)

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: map[string]conversation.Session{}}
}

func (s *memSessionStore) LoadSession(_ context.Context, id string) (*conversation.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &sess, nil
}

func (s *memSessionStore) SaveSession(_ context.Context, sess *conversation.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *memSessionStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *memSessionStore) PruneSessions(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruned = cutoff
	return 0, nil
}

func TestContextManager_SlidingWindowKeepsSystemMessages(t *testing.T) {
	m := NewContextManager(config.Context{WindowSize: 3, MaxTokens: 10_000}, nil, nil)
	ctx := context.Background()
	m.Create("s", "/ws", nil)

	_ = m.AddMessage(ctx, "s", conversation.RoleSystem, "rules", nil)
	for _, c := range []string{"m1", "m2", "m3", "m4", "m5"} {
		if err := m.AddMessage(ctx, "s", conversation.RoleUser, c, nil); err != nil {
			t.Fatal(err)
		}
	}

	s, _ := m.Session("s")
	var got []string
	for _, msg := range s.Messages {
		got = append(got, msg.Content)
	}
	if strings.Join(got, ",") != "rules,m3,m4,m5" {
		t.Errorf("window = %v, want [rules m3 m4 m5]", got)
	}
	if s.TotalTokens != 4 {
		t.Errorf("total tokens = %d, want 4", s.TotalTokens)
	}
}

func TestContextManager_TokenBudgetTrimsOldest(t *testing.T) {
	m := NewContextManager(config.Context{WindowSize: 10, MaxTokens: 10}, nil, nil)
	ctx := context.Background()
	m.Create("s", "/ws", nil)

	_ = m.AddMessage(ctx, "s", conversation.RoleUser, strings.Repeat("a", 24), nil)      // 6 tokens
	_ = m.AddMessage(ctx, "s", conversation.RoleAssistant, strings.Repeat("b", 24), nil) // 6 tokens

	s, _ := m.Session("s")
	if len(s.Messages) != 1 || s.Messages[0].Role != conversation.RoleAssistant {
		t.Fatalf("expected only the newest message to survive, got %+v", s.Messages)
	}

	// A single message over budget is kept.
	_ = m.AddMessage(ctx, "s", conversation.RoleUser, strings.Repeat("c", 80), nil)
	s, _ = m.Session("s")
	if len(s.Messages) != 1 || s.TotalTokens != 20 {
		t.Errorf("unexpected session after oversized message: %d messages, %d tokens", len(s.Messages), s.TotalTokens)
	}
}

func TestContextManager_ContextForGeneration(t *testing.T) {
	m := NewContextManager(config.Context{WindowSize: 10, MaxTokens: 4096}, nil, nil)
	ctx := context.Background()
	m.Create("s", "/ws", nil)
	_ = m.AddMessage(ctx, "s", conversation.RoleUser, "hello there", nil)
	_ = m.AddMessage(ctx, "s", conversation.RoleAssistant, "hi, how can I help", nil)
	_ = m.AddMessage(ctx, "s", conversation.RoleTool, "ok", nil)

	got := m.ContextForGeneration("s", 0)
	want := "User: hello there\n\nAssistant: hi, how can I help\n\nTool Result: ok"
	if got != want {
		t.Errorf("context = %q, want %q", got, want)
	}

	// Budget of 5 tokens fits the newest two messages (1 + 4).
	if got := m.ContextForGeneration("s", 5); got != "Assistant: hi, how can I help\n\nTool Result: ok" {
		t.Errorf("budgeted context = %q", got)
	}
	if m.ContextForGeneration("missing", 0) != "" {
		t.Error("unknown session should produce empty context")
	}
}

func TestContextManager_AddMessageUnknownSession(t *testing.T) {
	m := NewContextManager(config.Context{}, nil, nil)
	err := m.AddMessage(context.Background(), "nope", conversation.RoleUser, "x", nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestContextManager_PersistenceAndEnsure(t *testing.T) {
	store := newMemSessionStore()
	ctx := context.Background()

	m := NewContextManager(config.Context{}, store, nil)
	m.Ensure(ctx, "s", "/ws")
	_ = m.AddMessage(ctx, "s", conversation.RoleUser, "remember me", nil)

	fresh := NewContextManager(config.Context{}, store, nil)
	s := fresh.Ensure(ctx, "s", "/other")
	if len(s.Messages) != 1 || s.Messages[0].Content != "remember me" || s.WorkspacePath != "/ws" {
		t.Errorf("session not restored from store: %+v", s)
	}

	if err := fresh.Delete(ctx, "s"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LoadSession(ctx, "s"); !errors.Is(err, domain.ErrNotFound) {
		t.Error("Delete should remove the stored session")
	}
}

func TestContextManager_Cleanup(t *testing.T) {
	store := newMemSessionStore()
	m := NewContextManager(config.Context{MaxAge: time.Hour}, store, nil)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.Create("old", "/ws", nil)
	now = now.Add(90 * time.Minute)
	m.Create("new", "/ws", nil)

	if n := m.Cleanup(context.Background()); n != 1 {
		t.Fatalf("cleanup removed %d, want 1", n)
	}
	if got := m.Sessions(); len(got) != 1 || got[0] != "new" {
		t.Errorf("remaining sessions = %v", got)
	}
	if !store.pruned.Equal(now.Add(-time.Hour)) {
		t.Errorf("store pruned with cutoff %v", store.pruned)
	}

	st, ok := m.Stats("new")
	if !ok || st.TotalMessages != 0 || st.WorkspacePath != "/ws" {
		t.Errorf("unexpected stats: %+v", st)
	}
}
