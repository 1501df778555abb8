package service

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/domain/event"
	"github.com/GGUFloader/agentcore/internal/domain/progress"
)

// CompletionFunc is called once when an operation reaches a terminal state.
type CompletionFunc func(operationID string, status progress.Status, message string)

// ProgressStats summarises tracker state.
type ProgressStats struct {
	ActiveOperations int            `json:"active_operations"`
	RecentFinished   int            `json:"recent_finished"`
	MaxConcurrent    int            `json:"max_concurrent"`
	ByStatus         map[string]int `json:"by_status"`
	Started          int64          `json:"total_started"`
	Completed        int64          `json:"total_completed"`
	Cancelled        int64          `json:"total_cancelled"`
	Failed           int64          `json:"total_failed"`
}

type trackedOp struct {
	info        progress.Info
	onComplete  []CompletionFunc
	onInterrupt func()
}

// ProgressTracker tracks named long-running operations through
// not_started -> in_progress -> {completed | cancelled | failed}.
type ProgressTracker struct {
	cfg    config.Progress
	events Emitter

	mu       sync.Mutex
	active   map[string]*trackedOp
	finished map[string]progress.Info
	global   []CompletionFunc

	started, completed, cancelled, failed int64

	now func() time.Time
}

// NewProgressTracker creates a tracker. events may be nil.
func NewProgressTracker(cfg config.Progress, events Emitter) *ProgressTracker {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 10
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 5 * time.Minute
	}
	return &ProgressTracker{
		cfg:      cfg,
		events:   events,
		active:   make(map[string]*trackedOp),
		finished: make(map[string]progress.Info),
		now:      time.Now,
	}
}

// Start begins tracking an operation. It returns false when the id is
// already active or the concurrency limit is reached.
func (t *ProgressTracker) Start(id, name string, totalSteps int) bool {
	t.mu.Lock()
	if _, ok := t.active[id]; ok {
		t.mu.Unlock()
		slog.Warn("operation already active", "operation_id", id)
		return false
	}
	if len(t.active) >= t.cfg.MaxConcurrent {
		t.mu.Unlock()
		slog.Warn("maximum concurrent operations reached", "operation_id", id, "max", t.cfg.MaxConcurrent)
		return false
	}
	op := &trackedOp{info: progress.Info{
		OperationID:        id,
		OperationName:      name,
		Status:             progress.StatusInProgress,
		TotalSteps:         totalSteps,
		CurrentDescription: "Starting...",
		StartedAt:          t.now(),
		Metadata:           map[string]any{},
	}}
	t.active[id] = op
	delete(t.finished, id)
	t.started++
	info := op.info
	t.mu.Unlock()

	slog.Info("operation started", "operation_id", id, "operation_name", name, "total_steps", totalSteps)
	t.emit(info, "started")
	return true
}

// Update records progress on an active operation. An empty description
// keeps the previous one.
func (t *ProgressTracker) Update(id string, step int, description string) bool {
	t.mu.Lock()
	op, ok := t.active[id]
	if !ok {
		t.mu.Unlock()
		slog.Warn("operation not found", "operation_id", id)
		return false
	}
	op.info.CurrentStep = step
	if description != "" {
		op.info.CurrentDescription = description
	}
	op.info.EstimatedCompletion = progress.EstimateCompletion(op.info.StartedAt, t.now(), step, op.info.TotalSteps)
	info := op.info
	t.mu.Unlock()

	slog.Debug("operation progress", "operation_id", id, "step", step, "total_steps", info.TotalSteps)
	t.emit(info, "updated")
	return true
}

// OnComplete registers a callback for one operation's terminal transition.
func (t *ProgressTracker) OnComplete(id string, fn CompletionFunc) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.active[id]
	if !ok {
		return false
	}
	op.onComplete = append(op.onComplete, fn)
	return true
}

// OnAnyComplete registers a callback for every operation's terminal
// transition.
func (t *ProgressTracker) OnAnyComplete(fn CompletionFunc) {
	t.mu.Lock()
	t.global = append(t.global, fn)
	t.mu.Unlock()
}

// OnInterrupt registers the function run when the operation is cancelled.
func (t *ProgressTracker) OnInterrupt(id string, fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.active[id]
	if !ok {
		return false
	}
	op.onInterrupt = fn
	return true
}

// Complete marks an operation completed.
func (t *ProgressTracker) Complete(id, message string) bool {
	return t.finish(id, progress.StatusCompleted, message)
}

// Cancel marks an operation cancelled and runs its interruption callback.
func (t *ProgressTracker) Cancel(id, message string) bool {
	return t.finish(id, progress.StatusCancelled, message)
}

// Fail marks an operation failed.
func (t *ProgressTracker) Fail(id, message string) bool {
	return t.finish(id, progress.StatusFailed, message)
}

func (t *ProgressTracker) finish(id string, status progress.Status, message string) bool {
	t.mu.Lock()
	op, ok := t.active[id]
	if !ok {
		t.mu.Unlock()
		slog.Warn("operation not found", "operation_id", id, "status", string(status))
		return false
	}
	delete(t.active, id)

	now := t.now()
	op.info.Status = status
	op.info.FinishedAt = &now
	op.info.EstimatedCompletion = nil
	if status == progress.StatusCompleted {
		op.info.CurrentStep = op.info.TotalSteps
	}
	if message != "" {
		op.info.CurrentDescription = message
	}
	t.finished[id] = op.info

	switch status {
	case progress.StatusCompleted:
		t.completed++
	case progress.StatusCancelled:
		t.cancelled++
	case progress.StatusFailed:
		t.failed++
	}
	callbacks := append(slices.Clone(op.onComplete), t.global...)
	info := op.info
	t.mu.Unlock()

	if status == progress.StatusCancelled && op.onInterrupt != nil {
		if err := safeCall(func() error { op.onInterrupt(); return nil }); err != nil {
			slog.Warn("interruption callback failed", "operation_id", id, "error", err)
		}
	}
	for _, cb := range callbacks {
		if err := safeCall(func() error { cb(id, status, message); return nil }); err != nil {
			slog.Warn("completion callback failed", "operation_id", id, "error", err)
		}
	}

	slog.Info("operation finished", "operation_id", id, "status", string(status))
	t.emit(info, string(status))
	return true
}

// Info returns a copy of an active operation's state.
func (t *ProgressTracker) Info(id string) (progress.Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.active[id]
	if !ok {
		return progress.Info{}, false
	}
	return copyInfo(op.info), true
}

// Finished returns a recently finished operation, kept until the sweep
// removes it.
func (t *ProgressTracker) Finished(id string) (progress.Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.finished[id]
	return copyInfo(info), ok
}

// IsActive reports whether id is being tracked.
func (t *ProgressTracker) IsActive(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[id]
	return ok
}

// Active returns all active operations ordered by start time.
func (t *ProgressTracker) Active() []progress.Info {
	t.mu.Lock()
	out := make([]progress.Info, 0, len(t.active))
	for _, op := range t.active {
		out = append(out, copyInfo(op.info))
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b progress.Info) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// Stats returns tracker counters.
func (t *ProgressTracker) Stats() ProgressStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := ProgressStats{
		ActiveOperations: len(t.active),
		RecentFinished:   len(t.finished),
		MaxConcurrent:    t.cfg.MaxConcurrent,
		ByStatus:         map[string]int{},
		Started:          t.started,
		Completed:        t.completed,
		Cancelled:        t.cancelled,
		Failed:           t.failed,
	}
	for _, op := range t.active {
		s.ByStatus[string(op.info.Status)]++
	}
	return s
}

// Sweep removes finished operations older than the retention window and
// returns how many were removed.
func (t *ProgressTracker) Sweep() int {
	cutoff := t.now().Add(-t.cfg.Retention)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, info := range t.finished {
		if info.FinishedAt != nil && info.FinishedAt.Before(cutoff) {
			delete(t.finished, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("swept finished operations", "count", removed)
	}
	return removed
}

// Run sweeps on the configured interval until ctx is done.
func (t *ProgressTracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

func (t *ProgressTracker) emit(info progress.Info, phase string) {
	if t.events == nil {
		return
	}
	data := map[string]any{
		"operation_id":        info.OperationID,
		"operation_name":      info.OperationName,
		"status":              string(info.Status),
		"phase":               phase,
		"current_step":        info.CurrentStep,
		"total_steps":         info.TotalSteps,
		"current_description": info.CurrentDescription,
		"percent":             info.Percent(),
	}
	if info.EstimatedCompletion != nil {
		data["estimated_completion"] = info.EstimatedCompletion.Format(time.RFC3339Nano)
	}
	t.events.Emit(event.ProgressUpdated, "progress_tracker", data, EmitOptions{})
}

func copyInfo(i progress.Info) progress.Info {
	i.Metadata = maps.Clone(i.Metadata)
	return i
}
