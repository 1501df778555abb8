// Package snapshot defines persistence ports for memory snapshots and
// conversation sessions.
package snapshot

import (
	"context"
	"time"

	"github.com/GGUFloader/agentcore/internal/domain/conversation"
	"github.com/GGUFloader/agentcore/internal/domain/memory"
)

// Store persists the whole memory store as one document.
type Store interface {
	// Load returns the stored snapshot, or an empty one when none exists.
	Load(ctx context.Context) (*memory.Snapshot, error)
	// Save replaces the stored snapshot.
	Save(ctx context.Context, s *memory.Snapshot) error
}

// SessionStore persists conversation sessions.
type SessionStore interface {
	// LoadSession returns domain.ErrNotFound when the session is absent.
	LoadSession(ctx context.Context, id string) (*conversation.Session, error)
	SaveSession(ctx context.Context, s *conversation.Session) error
	DeleteSession(ctx context.Context, id string) error
	// PruneSessions removes sessions last written before cutoff.
	PruneSessions(ctx context.Context, cutoff time.Time) (int, error)
}
