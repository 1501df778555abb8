package service

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/domain/event"
)

// Callback handles a dispatched event. Returned errors and panics are
// recovered by the bus and reported through failure hooks.
type Callback func(ctx context.Context, e event.Event) error

// RegisterOptions configures a callback registration.
type RegisterOptions struct {
	ID       string // generated when empty
	Priority int
	Async    bool
}

// EmitOptions configures a single emission.
type EmitOptions struct {
	Metadata  map[string]any
	Priority  int
	Immediate bool
}

// Emitter publishes events. Components depend on this instead of *EventBus.
type Emitter interface {
	Emit(t event.Type, source string, data map[string]any, opts EmitOptions) string
}

// CallbackInfo describes a registered callback.
type CallbackInfo struct {
	ID             string     `json:"callback_id"`
	EventType      event.Type `json:"event_type"`
	Priority       int        `json:"priority"`
	Async          bool       `json:"async"`
	ExecutionCount int64      `json:"execution_count"`
	LastExecuted   *time.Time `json:"last_executed,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

// CallbackFailure reports a callback that returned an error or panicked.
type CallbackFailure struct {
	CallbackID string
	EventID    string
	EventType  event.Type
	Err        error
}

// EventBusStats summarises bus activity.
type EventBusStats struct {
	TotalEmitted        int64 `json:"total_emitted"`
	TotalDispatched     int64 `json:"total_dispatched"`
	Dropped             int64 `json:"dropped"`
	CallbackFailures    int64 `json:"callback_failures"`
	QueueSize           int   `json:"queue_size"`
	MaxQueueSize        int   `json:"max_queue_size"`
	HistorySize         int   `json:"history_size"`
	RegisteredCallbacks int   `json:"registered_callbacks"`
	AsyncEnabled        bool  `json:"async_enabled"`
	Running             bool  `json:"running"`
}

type registration struct {
	info CallbackInfo
	cb   Callback
	seq  uint64
}

type queued struct {
	ev  event.Event
	seq uint64
}

// EventBus is a typed publish/subscribe hub with priority-ordered callbacks,
// a bounded priority queue drained on a ticker, and an optional bounded
// worker pool for async callbacks.
type EventBus struct {
	cfg config.Events

	mu        sync.Mutex
	callbacks map[event.Type][]*registration
	byID      map[string]*registration
	queue     []queued // sorted: priority desc, timestamp desc
	history   []event.Event
	failHooks []func(CallbackFailure)
	seq       uint64

	emitted    atomic.Int64
	dispatched atomic.Int64
	dropped    atomic.Int64
	failures   atomic.Int64

	pool     errgroup.Group
	draining atomic.Bool

	runMu   sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	now func() time.Time
}

// NewEventBus creates an EventBus. Call Start to begin periodic draining.
func NewEventBus(cfg config.Events) *EventBus {
	if cfg.MaxQueueSize < 1 {
		cfg.MaxQueueSize = 1000
	}
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 100 * time.Millisecond
	}
	if cfg.DrainBatch < 1 {
		cfg.DrainBatch = 5
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 1000
	}
	b := &EventBus{
		cfg:       cfg,
		callbacks: make(map[event.Type][]*registration),
		byID:      make(map[string]*registration),
		baseCtx:   context.Background(),
		now:       time.Now,
	}
	b.pool.SetLimit(cfg.Workers)
	return b
}

// Register subscribes cb to events of type t and returns the callback id.
// Registering for event.AnyCustom receives every custom event.
func (b *EventBus) Register(t event.Type, cb Callback, opts RegisterOptions) string {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.byID[id]; ok {
		b.removeLocked(old)
	}

	b.seq++
	reg := &registration{
		info: CallbackInfo{ID: id, EventType: t, Priority: opts.Priority, Async: opts.Async},
		cb:   cb,
		seq:  b.seq,
	}
	list := append(b.callbacks[t], reg)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].info.Priority > list[j].info.Priority
	})
	b.callbacks[t] = list
	b.byID[id] = reg

	slog.Debug("event callback registered", "callback_id", id, "event_type", t.String(), "priority", opts.Priority)
	return id
}

// Unregister removes a callback by id.
func (b *EventBus) Unregister(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, ok := b.byID[id]
	if !ok {
		return false
	}
	b.removeLocked(reg)
	return true
}

func (b *EventBus) removeLocked(reg *registration) {
	t := reg.info.EventType
	b.callbacks[t] = slices.DeleteFunc(b.callbacks[t], func(r *registration) bool { return r == reg })
	if len(b.callbacks[t]) == 0 {
		delete(b.callbacks, t)
	}
	delete(b.byID, reg.info.ID)
}

// OnCallbackFailure adds a hook invoked whenever a callback fails.
func (b *EventBus) OnCallbackFailure(fn func(CallbackFailure)) {
	b.mu.Lock()
	b.failHooks = append(b.failHooks, fn)
	b.mu.Unlock()
}

// Emit creates an event and either dispatches it synchronously (Immediate)
// or inserts it into the priority queue. It returns the event id.
func (b *EventBus) Emit(t event.Type, source string, data map[string]any, opts EmitOptions) string {
	ev := event.Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: b.now(),
		Source:    source,
		Data:      maps.Clone(data),
		Metadata:  maps.Clone(opts.Metadata),
		Priority:  opts.Priority,
	}
	if ev.Data == nil {
		ev.Data = map[string]any{}
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}
	if t.IsCustom() && t.Name != "" {
		if _, ok := ev.Metadata["original_event_type"]; !ok {
			ev.Metadata["original_event_type"] = t.Name
		}
	}
	b.emitted.Add(1)

	b.mu.Lock()
	b.history = append(b.history, ev)
	if over := len(b.history) - b.cfg.HistorySize; over > 0 {
		b.history = slices.Delete(b.history, 0, over)
	}
	if opts.Immediate {
		b.mu.Unlock()
		b.dispatch(b.context(), ev)
		return ev.ID
	}
	b.seq++
	b.enqueueLocked(queued{ev: ev, seq: b.seq})
	b.mu.Unlock()

	return ev.ID
}

// EmitString emits an event whose type is parsed from a wire string.
// Unknown names become custom events.
func (b *EventBus) EmitString(typ, source string, data map[string]any, opts EmitOptions) string {
	return b.Emit(event.Parse(typ), source, data, opts)
}

func queuedBefore(a, c queued) bool {
	if a.ev.Priority != c.ev.Priority {
		return a.ev.Priority > c.ev.Priority
	}
	if !a.ev.Timestamp.Equal(c.ev.Timestamp) {
		return a.ev.Timestamp.After(c.ev.Timestamp)
	}
	return a.seq > c.seq
}

func (b *EventBus) enqueueLocked(q queued) {
	i := sort.Search(len(b.queue), func(i int) bool { return queuedBefore(q, b.queue[i]) })
	b.queue = slices.Insert(b.queue, i, q)

	if len(b.queue) > b.cfg.MaxQueueSize {
		// Tail is the lowest priority, oldest entry.
		victim := b.queue[len(b.queue)-1]
		b.queue = b.queue[:len(b.queue)-1]
		b.dropped.Add(1)
		slog.Warn("event queue full, dropped event",
			"event_id", victim.ev.ID,
			"event_type", victim.ev.Type.String(),
			"priority", victim.ev.Priority,
			"max_queue_size", b.cfg.MaxQueueSize,
		)
	}
}

// Drain dispatches up to n queued events in queue order and returns how
// many were dispatched. Overlapping calls return 0 immediately.
func (b *EventBus) Drain(n int) int {
	if !b.draining.CompareAndSwap(false, true) {
		return 0
	}
	defer b.draining.Store(false)

	b.mu.Lock()
	n = min(n, len(b.queue))
	batch := make([]event.Event, n)
	for i := range n {
		batch[i] = b.queue[i].ev
	}
	b.queue = slices.Delete(b.queue, 0, n)
	b.mu.Unlock()

	ctx := b.context()
	for _, ev := range batch {
		b.dispatch(ctx, ev)
	}
	return n
}

func (b *EventBus) matching(t event.Type) []*registration {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := slices.Clone(b.callbacks[t])
	if t.IsCustom() && t != event.AnyCustom {
		regs = append(regs, b.callbacks[event.AnyCustom]...)
		sort.SliceStable(regs, func(i, j int) bool {
			if regs[i].info.Priority != regs[j].info.Priority {
				return regs[i].info.Priority > regs[j].info.Priority
			}
			return regs[i].seq < regs[j].seq
		})
	}
	return regs
}

func (b *EventBus) dispatch(ctx context.Context, ev event.Event) {
	b.dispatched.Add(1)
	for _, reg := range b.matching(ev.Type) {
		if reg.info.Async && b.cfg.AsyncCallbacks {
			b.pool.Go(func() error {
				b.invoke(ctx, reg, ev)
				return nil
			})
			continue
		}
		b.invoke(ctx, reg, ev)
	}
}

func (b *EventBus) invoke(ctx context.Context, reg *registration, ev event.Event) {
	err := safeCall(func() error { return reg.cb(ctx, ev) })

	now := b.now()
	b.mu.Lock()
	reg.info.ExecutionCount++
	reg.info.LastExecuted = &now
	if err != nil {
		reg.info.LastError = err.Error()
	}
	hooks := slices.Clone(b.failHooks)
	b.mu.Unlock()

	if err == nil {
		return
	}
	b.failures.Add(1)
	slog.Error("event callback failed",
		"callback_id", reg.info.ID,
		"event_id", ev.ID,
		"event_type", ev.Type.String(),
		"error", err,
	)
	f := CallbackFailure{CallbackID: reg.info.ID, EventID: ev.ID, EventType: ev.Type, Err: err}
	for _, h := range hooks {
		if herr := safeCall(func() error { h(f); return nil }); herr != nil {
			slog.Error("callback failure hook panicked", "error", herr)
		}
	}
}

// safeCall runs fn and converts a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// History returns events matching f, newest first.
func (b *EventBus) History(f event.Filter) []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]event.Event, 0)
	for i := len(b.history) - 1; i >= 0; i-- {
		if f.Match(&b.history[i]) {
			out = append(out, b.history[i])
		}
	}
	return out
}

// Callbacks returns the callbacks registered for t in dispatch order.
func (b *EventBus) Callbacks(t event.Type) []CallbackInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]CallbackInfo, 0, len(b.callbacks[t]))
	for _, r := range b.callbacks[t] {
		out = append(out, r.info)
	}
	return out
}

// QueueLen returns the number of queued events.
func (b *EventBus) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// ClearHistory drops all history entries.
func (b *EventBus) ClearHistory() {
	b.mu.Lock()
	b.history = nil
	b.mu.Unlock()
}

// ClearQueue drops all queued events without dispatching them.
func (b *EventBus) ClearQueue() {
	b.mu.Lock()
	b.queue = nil
	b.mu.Unlock()
}

// Stats returns bus counters.
func (b *EventBus) Stats() EventBusStats {
	b.mu.Lock()
	s := EventBusStats{
		QueueSize:           len(b.queue),
		MaxQueueSize:        b.cfg.MaxQueueSize,
		HistorySize:         len(b.history),
		RegisteredCallbacks: len(b.byID),
		AsyncEnabled:        b.cfg.AsyncCallbacks,
	}
	b.mu.Unlock()

	b.runMu.Lock()
	s.Running = b.done != nil
	b.runMu.Unlock()

	s.TotalEmitted = b.emitted.Load()
	s.TotalDispatched = b.dispatched.Load()
	s.Dropped = b.dropped.Load()
	s.CallbackFailures = b.failures.Load()
	return s
}

func (b *EventBus) context() context.Context {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.baseCtx
}

// Start launches the drain ticker. Callbacks receive a context derived from
// ctx. Calling Start on a running bus is a no-op.
func (b *EventBus) Start(ctx context.Context) {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.done != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.baseCtx = context.WithoutCancel(runCtx)
	b.cancel = cancel
	b.done = make(chan struct{})

	go b.loop(runCtx, b.done)
	slog.Info("event bus started",
		"drain_interval", b.cfg.DrainInterval.String(),
		"workers", b.cfg.Workers,
		"async", b.cfg.AsyncCallbacks,
	)
}

func (b *EventBus) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Drain(b.cfg.DrainBatch)
		}
	}
}

// Shutdown stops the ticker, dispatches whatever is still queued and waits
// for async callbacks until ctx is done.
func (b *EventBus) Shutdown(ctx context.Context) error {
	b.runMu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.runMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	for b.QueueLen() > 0 {
		b.Drain(b.cfg.MaxQueueSize)
	}

	waited := make(chan struct{})
	go func() {
		_ = b.pool.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		slog.Info("event bus stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event bus shutdown: %w", ctx.Err())
	}
}
