package jsonfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/GGUFloader/agentcore/internal/domain/memory"
	"github.com/GGUFloader/agentcore/internal/port/snapshot"
)

// MemoryFile is the snapshot document name inside the storage directory.
const MemoryFile = "memory.json"

var _ snapshot.Store = (*Store)(nil)

// Store keeps the memory snapshot in <dir>/memory.json.
type Store struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewStore creates a store rooted at dir. The directory is created on the
// first save.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, MemoryFile), now: time.Now}
}

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.path }

// Load reads the snapshot. A missing file yields an empty snapshot.
func (s *Store) Load(_ context.Context) (*memory.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := memory.NewSnapshot()
	if err := readJSON(s.path, snap); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return memory.NewSnapshot(), nil
		}
		return nil, fmt.Errorf("load memory snapshot: %w", err)
	}
	snap.Normalize()
	slog.Debug("memory snapshot loaded", "path", s.path, "tasks", len(snap.CompletedTasks))
	return snap, nil
}

// Save writes the snapshot, stamping SavedAt.
func (s *Store) Save(_ context.Context, snap *memory.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := *snap
	out.SavedAt = s.now().UTC()
	if err := writeJSON(s.path, &out); err != nil {
		return fmt.Errorf("save memory snapshot: %w", err)
	}
	return nil
}
