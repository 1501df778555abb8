package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/domain"
	"github.com/GGUFloader/agentcore/internal/domain/event"
	"github.com/GGUFloader/agentcore/internal/domain/memory"
	"github.com/GGUFloader/agentcore/internal/port/snapshot"
	"github.com/GGUFloader/agentcore/internal/port/toolexec"
)

var _ toolexec.ModificationRecorder = (*MemoryStore)(nil)

// MemoryStore records completed tasks for redundancy detection and keeps
// an append-only file modification log. Every mutation persists the whole
// store through the snapshot port.
type MemoryStore struct {
	cfg    config.Memory
	store  snapshot.Store
	events Emitter

	mu         sync.Mutex
	tasks      map[string]memory.CompletedTask
	signatures map[string]string
	mods       []memory.FileModification
	hashes     map[string]string
	persist    bool

	saveMu sync.Mutex

	now func() time.Time
}

// NewMemoryStore creates an empty store. store and events may be nil; a nil
// store disables persistence.
func NewMemoryStore(cfg config.Memory, store snapshot.Store, events Emitter) *MemoryStore {
	if cfg.MaxCompletedTasks < 1 {
		cfg.MaxCompletedTasks = 1000
	}
	if cfg.MaxFileModifications < 1 {
		cfg.MaxFileModifications = 5000
	}
	if cfg.RetentionDays < 0 {
		cfg.RetentionDays = 7
	}
	return &MemoryStore{
		cfg:        cfg,
		store:      store,
		events:     events,
		tasks:      make(map[string]memory.CompletedTask),
		signatures: make(map[string]string),
		hashes:     make(map[string]string),
		persist:    store != nil,
		now:        time.Now,
	}
}

// Load replaces the in-memory state with the persisted snapshot. A read
// failure disables persistence for the rest of the run.
func (m *MemoryStore) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	snap, err := m.store.Load(ctx)
	if err != nil {
		m.disablePersistence(err)
		return fmt.Errorf("%w: load memory: %v", domain.ErrPersistence, err)
	}
	snap.Normalize()

	m.mu.Lock()
	m.tasks = snap.CompletedTasks
	m.signatures = snap.TaskSignatures
	m.mods = snap.FileModifications
	m.hashes = snap.FileHashes
	m.mu.Unlock()

	slog.Info("memory loaded",
		"completed_tasks", len(snap.CompletedTasks),
		"file_modifications", len(snap.FileModifications),
	)
	return nil
}

// RecordTask stores a completed task and returns its id.
func (m *MemoryStore) RecordTask(ctx context.Context, description, workspace string, tools []string, summary, sessionID string, metadata map[string]any) string {
	sig := memory.Signature(description, workspace, tools)
	now := m.now()
	task := memory.CompletedTask{
		TaskID:        fmt.Sprintf("task_%d_%s", now.Unix(), sig),
		Description:   description,
		CompletedAt:   now,
		WorkspacePath: workspace,
		ToolCallsUsed: slices.Clone(tools),
		ResultSummary: summary,
		SessionID:     sessionID,
		Metadata:      maps.Clone(metadata),
	}
	if task.ToolCallsUsed == nil {
		task.ToolCallsUsed = []string{}
	}
	if task.Metadata == nil {
		task.Metadata = map[string]any{}
	}

	m.mu.Lock()
	// A re-recorded signature supersedes the earlier task.
	if old, ok := m.signatures[sig]; ok && old != task.TaskID {
		delete(m.tasks, old)
	}
	m.tasks[task.TaskID] = task
	m.signatures[sig] = task.TaskID
	m.evictTasksLocked()
	m.mu.Unlock()

	slog.Info("completed task recorded", "task_id", task.TaskID, "tools", len(tools))
	m.emit("task_recorded", map[string]any{
		"task_id":         task.TaskID,
		"description":     description,
		"tool_calls_used": task.ToolCallsUsed,
		"result_summary":  summary,
	})
	m.save(ctx)
	return task.TaskID
}

func (m *MemoryStore) evictTasksLocked() {
	over := len(m.tasks) - m.cfg.MaxCompletedTasks
	if over <= 0 {
		return
	}
	ordered := slices.SortedFunc(maps.Values(m.tasks), func(a, b memory.CompletedTask) int {
		return a.CompletedAt.Compare(b.CompletedAt)
	})
	for _, t := range ordered[:over] {
		delete(m.tasks, t.TaskID)
		if sig := t.Signature(); m.signatures[sig] == t.TaskID {
			delete(m.signatures, sig)
		}
	}
	slog.Info("evicted old completed tasks", "count", over)
}

// CheckRedundancy returns a copy of the previously completed task with the
// same signature, if it finished within the retention window. Age is
// compared in whole days.
func (m *MemoryStore) CheckRedundancy(description, workspace string, tools []string) *memory.CompletedTask {
	sig := memory.Signature(description, workspace, tools)

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.signatures[sig]
	if !ok {
		return nil
	}
	task, ok := m.tasks[id]
	if !ok {
		return nil
	}
	ageDays := int(m.now().Sub(task.CompletedAt) / (24 * time.Hour))
	if ageDays > m.cfg.RetentionDays {
		return nil
	}
	out := copyTask(task)
	return &out
}

// RecordFileModification appends a file change. content is hashed when
// given; otherwise the file is read from path. Deletions carry no hash.
func (m *MemoryStore) RecordFileModification(ctx context.Context, path string, modType memory.ModificationType, tool, sessionID string, content []byte, metadata map[string]any) {
	mod := memory.FileModification{
		FilePath:         path,
		ModificationType: modType,
		Timestamp:        m.now(),
		ToolUsed:         tool,
		SessionID:        sessionID,
		Metadata:         maps.Clone(metadata),
	}
	if mod.Metadata == nil {
		mod.Metadata = map[string]any{}
	}
	if modType != memory.ModDeleted {
		if content == nil {
			data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the sandboxed workspace
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				slog.Warn("hash file for memory failed", "path", path, "error", err)
			}
			content = data
		}
		if content != nil {
			size := int64(len(content))
			mod.ContentHash = memory.ContentHash(content)
			mod.SizeBytes = &size
		}
	}

	m.mu.Lock()
	m.mods = append(m.mods, mod)
	switch {
	case mod.ContentHash != "":
		m.hashes[path] = mod.ContentHash
	case modType == memory.ModDeleted:
		delete(m.hashes, path)
	}
	if over := len(m.mods) - m.cfg.MaxFileModifications; over > 0 {
		slices.SortStableFunc(m.mods, func(a, b memory.FileModification) int { return a.Timestamp.Compare(b.Timestamp) })
		m.mods = slices.Delete(m.mods, 0, over)
	}
	m.mu.Unlock()

	slog.Debug("file modification recorded", "path", path, "type", string(modType), "tool", tool)
	m.emit("file_modified", map[string]any{
		"file_path":         path,
		"modification_type": string(modType),
		"tool_used":         tool,
		"session_id":        sessionID,
	})
	m.save(ctx)
}

// FileHistory returns the modifications of path, newest first.
func (m *MemoryStore) FileHistory(path string) []memory.FileModification {
	return m.modsWhere(func(mod *memory.FileModification) bool { return mod.FilePath == path })
}

// RecentModifications returns modifications from the last hours, newest first.
func (m *MemoryStore) RecentModifications(hours int) []memory.FileModification {
	cutoff := m.now().Add(-time.Duration(hours) * time.Hour)
	return m.modsWhere(func(mod *memory.FileModification) bool { return !mod.Timestamp.Before(cutoff) })
}

func (m *MemoryStore) modsWhere(keep func(*memory.FileModification) bool) []memory.FileModification {
	m.mu.Lock()
	out := make([]memory.FileModification, 0)
	for i := range m.mods {
		if keep(&m.mods[i]) {
			mod := m.mods[i]
			mod.Metadata = maps.Clone(mod.Metadata)
			out = append(out, mod)
		}
	}
	m.mu.Unlock()

	slices.SortStableFunc(out, func(a, b memory.FileModification) int { return b.Timestamp.Compare(a.Timestamp) })
	return out
}

// CompletedTasks returns tasks, newest first, optionally restricted to a
// workspace and to the last hours (0 = no limit).
func (m *MemoryStore) CompletedTasks(workspace string, hours int) []memory.CompletedTask {
	var cutoff time.Time
	if hours > 0 {
		cutoff = m.now().Add(-time.Duration(hours) * time.Hour)
	}

	m.mu.Lock()
	out := make([]memory.CompletedTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		if workspace != "" && t.WorkspacePath != workspace {
			continue
		}
		if !cutoff.IsZero() && t.CompletedAt.Before(cutoff) {
			continue
		}
		out = append(out, copyTask(t))
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b memory.CompletedTask) int { return b.CompletedAt.Compare(a.CompletedAt) })
	return out
}

// Clear removes everything, or only the tasks and file modifications that
// belong to workspace.
func (m *MemoryStore) Clear(ctx context.Context, workspace string) {
	m.mu.Lock()
	if workspace == "" {
		m.tasks = make(map[string]memory.CompletedTask)
		m.signatures = make(map[string]string)
		m.mods = nil
		m.hashes = make(map[string]string)
	} else {
		for id, t := range m.tasks {
			if t.WorkspacePath != workspace {
				continue
			}
			delete(m.tasks, id)
			if sig := t.Signature(); m.signatures[sig] == id {
				delete(m.signatures, sig)
			}
		}
		m.mods = slices.DeleteFunc(m.mods, func(mod memory.FileModification) bool {
			return inWorkspace(mod.FilePath, workspace)
		})
		for p := range m.hashes {
			if inWorkspace(p, workspace) {
				delete(m.hashes, p)
			}
		}
	}
	m.mu.Unlock()

	slog.Info("memory cleared", "workspace", workspace)
	m.emit("cleared", map[string]any{"workspace": workspace})
	m.save(ctx)
}

// Stats returns memory usage.
func (m *MemoryStore) Stats() memory.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memory.Stats{
		CompletedTasks:       len(m.tasks),
		FileModifications:    len(m.mods),
		TaskSignatures:       len(m.signatures),
		FileHashes:           len(m.hashes),
		RetentionDays:        m.cfg.RetentionDays,
		MaxCompletedTasks:    m.cfg.MaxCompletedTasks,
		MaxFileModifications: m.cfg.MaxFileModifications,
		PersistenceEnabled:   m.persist,
	}
}

// Snapshot returns a deep copy of the current state.
func (m *MemoryStore) Snapshot() *memory.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := memory.NewSnapshot()
	for id, t := range m.tasks {
		s.CompletedTasks[id] = copyTask(t)
	}
	for _, mod := range m.mods {
		mod.Metadata = maps.Clone(mod.Metadata)
		s.FileModifications = append(s.FileModifications, mod)
	}
	maps.Copy(s.TaskSignatures, m.signatures)
	maps.Copy(s.FileHashes, m.hashes)
	s.SavedAt = m.now()
	return s
}

func (m *MemoryStore) save(ctx context.Context) {
	m.mu.Lock()
	enabled := m.persist
	m.mu.Unlock()
	if !enabled {
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	if err := m.store.Save(ctx, m.Snapshot()); err != nil {
		m.disablePersistence(err)
	}
}

func (m *MemoryStore) disablePersistence(err error) {
	m.mu.Lock()
	m.persist = false
	m.mu.Unlock()
	slog.Error("memory persistence disabled for this run", "error", err)
}

func (m *MemoryStore) emit(action string, data map[string]any) {
	if m.events == nil {
		return
	}
	data["action"] = action
	m.events.Emit(event.MemoryUpdated, "memory_store", data, EmitOptions{Priority: event.PriorityLow})
}

func inWorkspace(path, workspace string) bool {
	return path == workspace || strings.HasPrefix(path, strings.TrimSuffix(workspace, "/")+"/")
}

func copyTask(t memory.CompletedTask) memory.CompletedTask {
	t.ToolCallsUsed = slices.Clone(t.ToolCallsUsed)
	t.Metadata = maps.Clone(t.Metadata)
	return t
}
