package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/GGUFloader/agentcore/internal/domain"
	"github.com/GGUFloader/agentcore/internal/domain/agent"
	"github.com/GGUFloader/agentcore/internal/domain/event"
	"github.com/GGUFloader/agentcore/internal/domain/safety"
	"github.com/GGUFloader/agentcore/internal/port/toolexec"
	"github.com/GGUFloader/agentcore/internal/service"
)

// defaultRecentHours bounds /memory/recent when no hours are given.
const defaultRecentHours = 24

// Handlers serves the agentcore REST API.
type Handlers struct {
	Pipeline *service.Pipeline
	Events   *service.EventBus
	Progress *service.ProgressTracker
	Safety   *service.SafetyGate
	Memory   *service.MemoryStore
	Tools    toolexec.Registry
	Version  string
}

// Health reports liveness and whether a turn is running.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    h.Version,
		"processing": h.Pipeline != nil && h.Pipeline.Processing(),
	})
}

// --- Turns ---

type submitTurnRequest struct {
	Message string `json:"message"`
}

// SubmitTurn runs one agent turn synchronously and returns it.
func (h *Handlers) SubmitTurn(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[submitTurnRequest](w, r)
	if !ok || !requireField(w, req.Message, "message") {
		return
	}
	turn, err := h.Pipeline.Process(r.Context(), req.Message)
	if err != nil {
		writeDomainError(w, err, "turn failed")
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

// ListTurns returns the turn history, oldest first.
func (h *Handlers) ListTurns(w http.ResponseWriter, _ *http.Request) {
	turns := h.Pipeline.History()
	if turns == nil {
		turns = []agent.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

// ClearTurns empties the turn history.
func (h *Handlers) ClearTurns(w http.ResponseWriter, _ *http.Request) {
	h.Pipeline.ClearHistory()
	w.WriteHeader(http.StatusNoContent)
}

// StopTurn requests cancellation of the running turn.
func (h *Handlers) StopTurn(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": h.Pipeline.Stop()})
}

// TurnStats returns pipeline counters.
func (h *Handlers) TurnStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Pipeline.Stats())
}

// --- Events ---

// ListEvents returns the event history filtered by type, source and age.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", 0)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	q := r.URL.Query()
	f := event.Filter{Source: q.Get("source")}
	if t := q.Get("type"); t != "" {
		f.Type = event.Parse(t)
	}
	if hours > 0 {
		f.Since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}
	events := h.Events.History(f)
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// EventStats returns bus counters.
func (h *Handlers) EventStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Events.Stats())
}

// --- Progress ---

// ListProgress returns the active operations and tracker counters.
func (h *Handlers) ListProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active": h.Progress.Active(),
		"stats":  h.Progress.Stats(),
	})
}

// GetProgress returns one operation, active or recently finished.
func (h *Handlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if info, ok := h.Progress.Info(id); ok {
		writeJSON(w, http.StatusOK, info)
		return
	}
	if info, ok := h.Progress.Finished(id); ok {
		writeJSON(w, http.StatusOK, info)
		return
	}
	writeError(w, http.StatusNotFound, "operation not found")
}

// --- Safety ---

// ListRules returns the rules in evaluation order.
func (h *Handlers) ListRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Safety.Rules())
}

// AddRule adds or replaces a rule.
func (h *Handlers) AddRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := readJSON[safety.Rule](w, r)
	if !ok {
		return
	}
	if err := h.Safety.AddRule(rule); err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// DeleteRule removes a rule by id.
func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if !h.Safety.RemoveRule(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListViolations returns recent violations, newest first.
func (h *Handlers) ListViolations(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"violations": h.Safety.Violations(limit),
		"stats":      h.Safety.Stats(),
	})
}

type validateRequest struct {
	OperationType string         `json:"operation_type"`
	Details       string         `json:"details"`
	Metadata      map[string]any `json:"metadata"`
}

type validateResponse struct {
	Allowed   bool              `json:"allowed"`
	Violation *safety.Violation `json:"violation,omitempty"`
}

// ValidateOperation runs an operation through the safety gate.
func (h *Handlers) ValidateOperation(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[validateRequest](w, r)
	if !ok || !requireField(w, req.OperationType, "operation_type") {
		return
	}
	allowed, v := h.Safety.Validate(r.Context(), req.OperationType, req.Details, req.Metadata)
	writeJSON(w, http.StatusOK, validateResponse{Allowed: allowed, Violation: v})
}

// --- Memory ---

// MemoryStats returns memory store counters.
func (h *Handlers) MemoryStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Memory.Stats())
}

// ListTasks returns completed tasks, newest first.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", 0)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, h.Memory.CompletedTasks(r.URL.Query().Get("workspace"), hours))
}

// FileHistory returns the modifications of one file.
func (h *Handlers) FileHistory(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if !requireField(w, path, "path") {
		return
	}
	writeJSON(w, http.StatusOK, h.Memory.FileHistory(path))
}

// RecentModifications returns file changes from the last hours.
func (h *Handlers) RecentModifications(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", defaultRecentHours)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, h.Memory.RecentModifications(hours))
}

type redundancyRequest struct {
	Description string   `json:"description"`
	Workspace   string   `json:"workspace"`
	Tools       []string `json:"tools"`
}

// CheckRedundancy reports whether an equivalent task already completed.
func (h *Handlers) CheckRedundancy(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[redundancyRequest](w, r)
	if !ok || !requireField(w, req.Description, "description") {
		return
	}
	task := h.Memory.CheckRedundancy(req.Description, req.Workspace, req.Tools)
	writeJSON(w, http.StatusOK, map[string]any{
		"redundant": task != nil,
		"task":      task,
	})
}

// --- Tools ---

// ListTools describes the registered tools.
func (h *Handlers) ListTools(w http.ResponseWriter, _ *http.Request) {
	if h.Tools == nil {
		writeJSON(w, http.StatusOK, []toolexec.Descriptor{})
		return
	}
	writeJSON(w, http.StatusOK, h.Tools.Tools())
}

// ExecuteTool runs one tool directly, outside of a turn. The call still
// passes through the registry's safety gate.
func (h *Handlers) ExecuteTool(w http.ResponseWriter, r *http.Request) {
	if h.Tools == nil {
		writeDomainError(w, domain.ErrNotFound, "no tool registry configured")
		return
	}
	params, ok := readJSON[map[string]any](w, r)
	if !ok {
		return
	}
	res := h.Tools.Execute(r.Context(), chi.URLParam(r, "name"), params)
	status := http.StatusOK
	if !res.OK() {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}
