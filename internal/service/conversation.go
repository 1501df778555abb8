package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/domain"
	"github.com/GGUFloader/agentcore/internal/domain/conversation"
	"github.com/GGUFloader/agentcore/internal/domain/event"
	"github.com/GGUFloader/agentcore/internal/port/snapshot"
)

// ContextManager keeps per-session conversation history inside a sliding
// window and renders it as generation context.
type ContextManager struct {
	cfg    config.Context
	store  snapshot.SessionStore
	events Emitter

	mu       sync.Mutex
	sessions map[string]*conversation.Session

	now func() time.Time
}

// NewContextManager creates a manager. store and events may be nil.
func NewContextManager(cfg config.Context, store snapshot.SessionStore, events Emitter) *ContextManager {
	if cfg.WindowSize < 1 {
		cfg.WindowSize = 10
	}
	if cfg.MaxTokens < 1 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	return &ContextManager{
		cfg:      cfg,
		store:    store,
		events:   events,
		sessions: make(map[string]*conversation.Session),
		now:      time.Now,
	}
}

// Create starts a new empty session, replacing any session with the same id.
func (m *ContextManager) Create(id, workspace string, metadata map[string]any) conversation.Session {
	now := m.now()
	s := &conversation.Session{
		ID:            id,
		Messages:      []conversation.Message{},
		CreatedAt:     now,
		LastUpdated:   now,
		WorkspacePath: workspace,
		Metadata:      maps.Clone(metadata),
	}
	m.mu.Lock()
	m.sessions[id] = s
	out := copySession(s)
	m.mu.Unlock()

	slog.Info("conversation session created", "session_id", id)
	m.emit(id, "created")
	return out
}

// Ensure returns the session, loading it from the store or creating it when
// it is not held in memory.
func (m *ContextManager) Ensure(ctx context.Context, id, workspace string) conversation.Session {
	if s, ok := m.Session(id); ok {
		return s
	}
	if err := m.Load(ctx, id); err == nil {
		s, _ := m.Session(id)
		return s
	} else if !errors.Is(err, domain.ErrNotFound) {
		slog.Warn("load session failed, starting fresh", "session_id", id, "error", err)
	}
	return m.Create(id, workspace, nil)
}

// Session returns a copy of a session held in memory.
func (m *ContextManager) Session(id string) (conversation.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return conversation.Session{}, false
	}
	return copySession(s), true
}

// AddMessage appends a message and applies the sliding window. The session
// is persisted when a store is configured.
func (m *ContextManager) AddMessage(ctx context.Context, id string, role conversation.Role, content string, metadata map[string]any) error {
	now := m.now()
	msg := conversation.Message{
		Role:       role,
		Content:    content,
		Timestamp:  now,
		Metadata:   maps.Clone(metadata),
		TokenCount: conversation.EstimateTokens(content),
	}

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	s.Messages = append(s.Messages, msg)
	s.TotalTokens += msg.TokenCount
	s.LastUpdated = now
	m.applyWindowLocked(s)
	snap := copySession(s)
	m.mu.Unlock()

	slog.Debug("message added", "session_id", id, "role", string(role), "tokens", msg.TokenCount)
	m.emit(id, "message_added")
	m.persist(ctx, &snap)
	return nil
}

// applyWindowLocked keeps system messages plus the most recent WindowSize
// other messages, then drops the oldest non-system messages until the
// token budget holds. The newest message is always kept.
func (m *ContextManager) applyWindowLocked(s *conversation.Session) {
	nonSystem := 0
	for _, msg := range s.Messages {
		if msg.Role != conversation.RoleSystem {
			nonSystem++
		}
	}
	if nonSystem <= m.cfg.WindowSize && s.TotalTokens <= m.cfg.MaxTokens {
		return
	}

	before, beforeTokens := len(s.Messages), s.TotalTokens
	drop := nonSystem - m.cfg.WindowSize
	kept := make([]conversation.Message, 0, len(s.Messages))
	for _, msg := range s.Messages {
		if msg.Role != conversation.RoleSystem && drop > 0 {
			drop--
			continue
		}
		kept = append(kept, msg)
	}

	total := 0
	for _, msg := range kept {
		total += msg.TokenCount
	}
	for total > m.cfg.MaxTokens {
		i := slices.IndexFunc(kept, func(msg conversation.Message) bool { return msg.Role != conversation.RoleSystem })
		if i < 0 || i == len(kept)-1 {
			break
		}
		total -= kept[i].TokenCount
		kept = slices.Delete(kept, i, i+1)
	}

	s.Messages = kept
	s.TotalTokens = total
	slog.Info("applied sliding window",
		"session_id", s.ID,
		"removed_messages", before-len(kept),
		"removed_tokens", beforeTokens-total,
	)
}

// ContextForGeneration renders the most recent messages that fit within
// maxTokens, in chronological order, separated by blank lines. A
// non-positive maxTokens uses the configured budget.
func (m *ContextManager) ContextForGeneration(id string, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = m.cfg.MaxTokens
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ""
	}

	var parts []string
	used := 0
	for i := len(s.Messages) - 1; i >= 0; i-- {
		msg := &s.Messages[i]
		if used+msg.TokenCount > maxTokens {
			break
		}
		parts = append(parts, msg.Format())
		used += msg.TokenCount
	}
	slices.Reverse(parts)
	return strings.Join(parts, "\n\n")
}

// Save persists a session.
func (m *ContextManager) Save(ctx context.Context, id string) error {
	if m.store == nil {
		return nil
	}
	s, ok := m.Session(id)
	if !ok {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	if err := m.store.SaveSession(ctx, &s); err != nil {
		return fmt.Errorf("%w: save session %s: %v", domain.ErrPersistence, id, err)
	}
	return nil
}

// Load reads a session from the store into memory.
func (m *ContextManager) Load(ctx context.Context, id string) error {
	if m.store == nil {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	s, err := m.store.LoadSession(ctx, id)
	if err != nil {
		return fmt.Errorf("load session %s: %w", id, err)
	}
	if s.Messages == nil {
		s.Messages = []conversation.Message{}
	}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	slog.Info("conversation session loaded", "session_id", id, "messages", len(s.Messages))
	m.emit(id, "loaded")
	return nil
}

// Delete removes a session from memory and the store.
func (m *ContextManager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.DeleteSession(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: delete session %s: %v", domain.ErrPersistence, id, err)
		}
	}
	slog.Info("conversation session deleted", "session_id", id)
	m.emit(id, "deleted")
	return nil
}

// Cleanup removes sessions idle for longer than the configured maximum age
// and returns how many were removed from memory.
func (m *ContextManager) Cleanup(ctx context.Context) int {
	cutoff := m.now().Add(-m.cfg.MaxAge)

	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		if s.LastUpdated.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if m.store != nil {
		if n, err := m.store.PruneSessions(ctx, cutoff); err != nil {
			slog.Warn("prune stored sessions failed", "error", err)
		} else if n > 0 {
			slog.Info("pruned stored sessions", "count", n)
		}
	}
	if len(stale) > 0 {
		slog.Info("cleaned up idle sessions", "count", len(stale))
	}
	return len(stale)
}

// Run cleans up idle sessions every interval until ctx is done.
func (m *ContextManager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cleanup(ctx)
		}
	}
}

// Stats summarises a session.
func (m *ContextManager) Stats(id string) (conversation.Stats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return conversation.Stats{}, false
	}
	counts := make(map[conversation.Role]int)
	for _, msg := range s.Messages {
		counts[msg.Role]++
	}
	return conversation.Stats{
		SessionID:     s.ID,
		TotalMessages: len(s.Messages),
		TotalTokens:   s.TotalTokens,
		MessageCounts: counts,
		CreatedAt:     s.CreatedAt,
		LastUpdated:   s.LastUpdated,
		WorkspacePath: s.WorkspacePath,
	}, true
}

// Sessions returns the ids of sessions held in memory, sorted.
func (m *ContextManager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.sessions))
}

func (m *ContextManager) persist(ctx context.Context, s *conversation.Session) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveSession(ctx, s); err != nil {
		slog.Warn("persist session failed", "session_id", s.ID, "error", err)
	}
}

func (m *ContextManager) emit(id, action string) {
	if m.events == nil {
		return
	}
	m.events.Emit(event.ContextUpdated, "context_manager", map[string]any{
		"session_id": id,
		"action":     action,
	}, EmitOptions{Priority: event.PriorityLow})
}

func copySession(s *conversation.Session) conversation.Session {
	out := *s
	out.Messages = slices.Clone(s.Messages)
	out.Metadata = maps.Clone(s.Metadata)
	return out
}
