// Package progress defines the state of long-running operations tracked by
// the progress tracker.
package progress

import "time"

// Status is the lifecycle state of a tracked operation.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
	StatusPaused     Status = "paused" // defined for API compatibility; never entered
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Info is a snapshot of one tracked operation.
type Info struct {
	OperationID         string         `json:"operation_id"`
	OperationName       string         `json:"operation_name"`
	Status              Status         `json:"status"`
	CurrentStep         int            `json:"current_step"`
	TotalSteps          int            `json:"total_steps"`
	CurrentDescription  string         `json:"current_description"`
	StartedAt           time.Time      `json:"started_at"`
	EstimatedCompletion *time.Time     `json:"estimated_completion,omitempty"`
	FinishedAt          *time.Time     `json:"finished_at,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// Percent returns completion as a value in [0, 100].
func (i *Info) Percent() float64 {
	if i.TotalSteps <= 0 {
		return 0
	}
	p := float64(i.CurrentStep) / float64(i.TotalSteps) * 100
	return min(max(p, 0), 100)
}

// EstimateCompletion extrapolates linearly from the time spent on the steps
// done so far. It returns nil when no step has completed or the total is
// unknown.
func EstimateCompletion(startedAt, now time.Time, step, total int) *time.Time {
	if step <= 0 || total <= 0 {
		return nil
	}
	remaining := total - step
	if remaining < 0 {
		remaining = 0
	}
	perStep := now.Sub(startedAt) / time.Duration(step)
	eta := now.Add(perStep * time.Duration(remaining))
	return &eta
}
