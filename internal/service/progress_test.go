package service

import (
	"sync"
	"testing"
	"time"

	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/domain/event"
	"github.com/GGUFloader/agentcore/internal/domain/progress"
)

// recordingEmitter implements Emitter for testing.
type recordingEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Type   event.Type
	Source string
	Data   map[string]any
	Opts   EmitOptions
}

var _ Emitter = (*recordingEmitter)(nil)

func (r *recordingEmitter) Emit(t event.Type, source string, data map[string]any, opts EmitOptions) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Type: t, Source: source, Data: data, Opts: opts})
	return "evt"
}

func (r *recordingEmitter) ofType(t event.Type) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func testProgressConfig() config.Progress {
	return config.Progress{MaxConcurrent: 2, SweepInterval: 10 * time.Millisecond, Retention: 5 * time.Minute}
}

func TestProgressTracker_Lifecycle(t *testing.T) {
	em := &recordingEmitter{}
	tr := NewProgressTracker(testProgressConfig(), em)

	var calls []progress.Status
	tr.OnAnyComplete(func(_ string, s progress.Status, _ string) { calls = append(calls, s) })

	if !tr.Start("op1", "Task", 3) {
		t.Fatal("Start should succeed")
	}
	if !tr.Update("op1", 1, "") || !tr.Update("op1", 2, "second") {
		t.Fatal("Update should succeed")
	}
	info, ok := tr.Info("op1")
	if !ok || info.CurrentStep != 2 || info.CurrentDescription != "second" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.EstimatedCompletion == nil {
		t.Error("expected an ETA after two steps")
	}

	if !tr.Complete("op1", "") {
		t.Fatal("Complete should succeed")
	}
	if tr.Complete("op1", "") {
		t.Error("second Complete should fail")
	}
	if _, ok := tr.Info("op1"); ok {
		t.Error("completed operation should no longer be active")
	}
	if len(calls) != 1 || calls[0] != progress.StatusCompleted {
		t.Errorf("completion callbacks = %v, want exactly one completed", calls)
	}

	fin, ok := tr.Finished("op1")
	if !ok || fin.Status != progress.StatusCompleted || fin.CurrentStep != 3 {
		t.Errorf("unexpected finished info: %+v", fin)
	}

	// started + 2 updates + completed
	if n := len(em.ofType(event.ProgressUpdated)); n != 4 {
		t.Errorf("expected 4 progress events, got %d", n)
	}
}

func TestProgressTracker_StartRejections(t *testing.T) {
	tr := NewProgressTracker(testProgressConfig(), nil)

	if !tr.Start("a", "A", 1) {
		t.Fatal("first start should succeed")
	}
	if tr.Start("a", "A again", 1) {
		t.Error("duplicate id should be rejected")
	}
	if !tr.Start("b", "B", 1) {
		t.Fatal("second distinct start should succeed")
	}
	if tr.Start("c", "C", 1) {
		t.Error("start beyond capacity should be rejected")
	}
	tr.Fail("a", "broken")
	if !tr.Start("c", "C", 1) {
		t.Error("start should succeed once capacity frees up")
	}
}

func TestProgressTracker_CancelRunsInterruptAndCallbacks(t *testing.T) {
	tr := NewProgressTracker(testProgressConfig(), nil)
	tr.Start("op", "Op", 4)

	var interrupted bool
	var got []string
	tr.OnInterrupt("op", func() { interrupted = true })
	tr.OnComplete("op", func(_ string, s progress.Status, msg string) {
		got = append(got, string(s)+":"+msg)
	})
	tr.OnComplete("op", func(string, progress.Status, string) { panic("bad callback") })

	if !tr.Cancel("op", "user stop") {
		t.Fatal("Cancel should succeed")
	}
	if !interrupted {
		t.Error("interruption callback should run on cancel")
	}
	if len(got) != 1 || got[0] != "cancelled:user stop" {
		t.Errorf("completion callbacks = %v", got)
	}
	if tr.IsActive("op") {
		t.Error("cancelled op should not be active")
	}
}

func TestProgressTracker_UpdateUnknown(t *testing.T) {
	tr := NewProgressTracker(testProgressConfig(), nil)
	if tr.Update("missing", 1, "x") {
		t.Error("Update of unknown op should fail")
	}
	if tr.OnComplete("missing", func(string, progress.Status, string) {}) {
		t.Error("OnComplete of unknown op should fail")
	}
}

func TestProgressTracker_SweepRemovesStaleFinished(t *testing.T) {
	tr := NewProgressTracker(testProgressConfig(), nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.Start("old", "Old", 1)
	tr.Complete("old", "")
	now = now.Add(4 * time.Minute)
	tr.Start("new", "New", 1)
	tr.Complete("new", "")

	now = now.Add(2 * time.Minute)
	if n := tr.Sweep(); n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}
	if _, ok := tr.Finished("old"); ok {
		t.Error("old operation should be swept")
	}
	if _, ok := tr.Finished("new"); !ok {
		t.Error("recent operation should be retained")
	}
}

func TestProgressTracker_StatsAndActive(t *testing.T) {
	tr := NewProgressTracker(testProgressConfig(), nil)
	tr.Start("x", "X", 2)
	tr.Start("y", "Y", 2)
	tr.Fail("y", "err")

	s := tr.Stats()
	if s.ActiveOperations != 1 || s.Started != 2 || s.Failed != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
	if act := tr.Active(); len(act) != 1 || act[0].OperationID != "x" {
		t.Errorf("unexpected active list: %+v", act)
	}
}
