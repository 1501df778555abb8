package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GGUFloader/agentcore/internal/domain"
	"github.com/GGUFloader/agentcore/internal/domain/conversation"
	"github.com/GGUFloader/agentcore/internal/domain/memory"
	"github.com/GGUFloader/agentcore/internal/port/snapshot"
)

var (
	_ snapshot.Store        = (*SnapshotStore)(nil)
	_ snapshot.SessionStore = (*SessionStore)(nil)
)

// SnapshotStore keeps the memory snapshot as one JSONB row per workspace.
type SnapshotStore struct {
	pool      *pgxpool.Pool
	workspace string
	now       func() time.Time
}

// NewSnapshotStore creates a store for the given workspace key.
func NewSnapshotStore(pool *pgxpool.Pool, workspace string) *SnapshotStore {
	return &SnapshotStore{pool: pool, workspace: workspace, now: time.Now}
}

// Workspace returns the key rows are stored under.
func (s *SnapshotStore) Workspace() string { return s.workspace }

// Load returns the workspace snapshot, or an empty one when no row exists.
func (s *SnapshotStore) Load(ctx context.Context) (*memory.Snapshot, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM memory_snapshots WHERE workspace = $1`, s.workspace,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return memory.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load memory snapshot: %w", err)
	}

	snap := memory.NewSnapshot()
	if err := json.Unmarshal(doc, snap); err != nil {
		return nil, fmt.Errorf("decode memory snapshot: %w", err)
	}
	snap.Normalize()
	return snap, nil
}

// Save upserts the workspace snapshot.
func (s *SnapshotStore) Save(ctx context.Context, snap *memory.Snapshot) error {
	out := *snap
	out.SavedAt = s.now().UTC()
	doc, err := json.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshal memory snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO memory_snapshots (workspace, document, saved_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace) DO UPDATE SET document = EXCLUDED.document, saved_at = EXCLUDED.saved_at`,
		s.workspace, doc, out.SavedAt)
	if err != nil {
		return fmt.Errorf("save memory snapshot: %w", err)
	}
	return nil
}

// SessionStore keeps conversation sessions as JSONB documents.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a session store.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

func (s *SessionStore) LoadSession(ctx context.Context, id string) (*conversation.Session, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM conversation_sessions WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	var sess conversation.Session
	if err := json.Unmarshal(doc, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *SessionStore) SaveSession(ctx context.Context, sess *conversation.Session) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sess.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversation_sessions (id, workspace, document, last_updated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			workspace = EXCLUDED.workspace,
			document = EXCLUDED.document,
			last_updated = EXCLUDED.last_updated`,
		sess.ID, sess.WorkspacePath, doc, sess.LastUpdated)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversation_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *SessionStore) PruneSessions(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversation_sessions WHERE last_updated < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
