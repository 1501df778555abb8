package jsonfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/GGUFloader/agentcore/internal/domain"
	"github.com/GGUFloader/agentcore/internal/domain/conversation"
	"github.com/GGUFloader/agentcore/internal/port/snapshot"
)

var _ snapshot.SessionStore = (*SessionStore)(nil)

// SessionStore keeps one <id>.json document per session in a directory.
type SessionStore struct {
	dir string
}

// NewSessionStore creates a store rooted at dir.
func NewSessionStore(dir string) *SessionStore {
	return &SessionStore{dir: dir}
}

// sessionPath rejects ids that would escape the directory.
func (s *SessionStore) sessionPath(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("session id %q: %w", id, domain.ErrValidation)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *SessionStore) LoadSession(_ context.Context, id string) (*conversation.Session, error) {
	path, err := s.sessionPath(id)
	if err != nil {
		return nil, err
	}
	var sess conversation.Session
	if err := readJSON(path, &sess); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *SessionStore) SaveSession(_ context.Context, sess *conversation.Session) error {
	path, err := s.sessionPath(sess.ID)
	if err != nil {
		return err
	}
	if err := writeJSON(path, sess); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SessionStore) DeleteSession(_ context.Context, id string) error {
	path, err := s.sessionPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// PruneSessions removes session files whose last_updated is before cutoff.
// Unreadable files are skipped.
func (s *SessionStore) PruneSessions(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		id, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok {
			continue
		}
		sess, err := s.LoadSession(ctx, id)
		if err != nil {
			slog.Warn("skip unreadable session file", "file", e.Name(), "error", err)
			continue
		}
		if !sess.LastUpdated.Before(cutoff) {
			continue
		}
		if err := s.DeleteSession(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
