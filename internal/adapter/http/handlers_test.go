package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	achttp "github.com/GGUFloader/agentcore/internal/adapter/http"
	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/domain/agent"
	"github.com/GGUFloader/agentcore/internal/domain/event"
	"github.com/GGUFloader/agentcore/internal/domain/memory"
	"github.com/GGUFloader/agentcore/internal/domain/progress"
	"github.com/GGUFloader/agentcore/internal/domain/safety"
	"github.com/GGUFloader/agentcore/internal/port/llm"
	"github.com/GGUFloader/agentcore/internal/port/toolexec"
	"github.com/GGUFloader/agentcore/internal/service"
)

// --- Mocks ---

// gatedModel answers every prompt with reply. When release is non-nil it
// blocks until release is closed.
type gatedModel struct {
	reply   string
	started chan struct{}
	release chan struct{}
}

var _ llm.Model = (*gatedModel)(nil)

func (m *gatedModel) Generate(ctx context.Context, _ llm.Request, _ func(string)) (string, error) {
	if m.release != nil {
		select {
		case m.started <- struct{}{}:
		default:
		}
		select {
		case <-m.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.reply, nil
}

func (m *gatedModel) Name() string { return "gated" }

type echoRegistry struct{}

var _ toolexec.Registry = echoRegistry{}

func (echoRegistry) Tools() []toolexec.Descriptor {
	return []toolexec.Descriptor{{Name: "echo", Description: "Echo params", Params: []toolexec.Param{
		{Name: "text", Type: "string", Required: true},
	}}}
}

func (echoRegistry) Execute(_ context.Context, name string, params map[string]any) agent.ToolResult {
	if name != "echo" {
		return agent.ErrorResult("", name, "Unknown tool: "+name)
	}
	return agent.ToolResult{ToolName: name, Status: agent.ResultSuccess, Result: params["text"]}
}

// --- Helpers ---

type fixture struct {
	router   chi.Router
	h        *achttp.Handlers
	bus      *service.EventBus
	tracker  *service.ProgressTracker
	memory   *service.MemoryStore
	model    *gatedModel
	turnHits int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Safety.Enabled = true
	cfg.Safety.RequireConfirmation = true

	f := &fixture{model: &gatedModel{reply: "Hello there."}}
	f.bus = service.NewEventBus(cfg.Events)
	f.tracker = service.NewProgressTracker(cfg.Progress, f.bus)
	f.memory = service.NewMemoryStore(cfg.Memory, nil, f.bus)
	f.h = &achttp.Handlers{
		Pipeline: service.NewPipeline(cfg.Agent, service.PipelineDeps{
			Model:    f.model,
			Events:   f.bus,
			Progress: f.tracker,
			Memory:   f.memory,
		}),
		Events:   f.bus,
		Progress: f.tracker,
		Safety:   service.NewSafetyGate(cfg.Safety, nil, 0, nil, f.bus),
		Memory:   f.memory,
		Tools:    echoRegistry{},
		Version:  "test",
	}
	countTurns := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			f.turnHits++
			next.ServeHTTP(w, r)
		})
	}
	r := chi.NewRouter()
	achttp.MountRoutes(r, f.h, nil, countTurns)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// --- Tests ---

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["version"] != "test" || body["processing"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestSubmitTurn(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/turns", `{"message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	turn := decode[agent.Turn](t, rec)
	if turn.UserMessage != "hi" || turn.FinalResponse != "Hello there." {
		t.Errorf("turn = %+v", turn)
	}
	if f.turnHits != 1 {
		t.Errorf("turn middleware ran %d times", f.turnHits)
	}

	history := decode[[]agent.Turn](t, f.do(t, http.MethodGet, "/api/v1/turns", ""))
	if len(history) != 1 {
		t.Fatalf("history = %d turns", len(history))
	}
	if f.turnHits != 1 {
		t.Error("turn middleware should only wrap POST /turns")
	}

	if rec := f.do(t, http.MethodDelete, "/api/v1/turns", ""); rec.Code != http.StatusNoContent {
		t.Errorf("clear status = %d", rec.Code)
	}
	if history := decode[[]agent.Turn](t, f.do(t, http.MethodGet, "/api/v1/turns", "")); len(history) != 0 {
		t.Errorf("history after clear = %d", len(history))
	}
}

func TestSubmitTurnValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing message", `{}`, http.StatusBadRequest},
		{"blank message", `{"message":"   "}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, http.MethodPost, "/api/v1/turns", tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestSubmitTurnBusy(t *testing.T) {
	f := newFixture(t)
	f.model.started = make(chan struct{}, 1)
	f.model.release = make(chan struct{})

	done := make(chan int)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/turns", strings.NewReader(`{"message":"slow"}`))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		done <- rec.Code
	}()

	select {
	case <-f.model.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first turn never reached the model")
	}

	rec := f.do(t, http.MethodPost, "/api/v1/turns", `{"message":"second"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("concurrent turn status = %d, want 409", rec.Code)
	}
	if stop := decode[map[string]bool](t, f.do(t, http.MethodPost, "/api/v1/turns/stop", "")); !stop["stopped"] {
		t.Error("stop should report a running turn")
	}

	close(f.model.release)
	if code := <-done; code != http.StatusOK {
		t.Errorf("first turn status = %d", code)
	}
}

func TestListEvents(t *testing.T) {
	f := newFixture(t)
	f.bus.Emit(event.WarningIssued, "tester", map[string]any{"n": 1}, service.EmitOptions{})
	f.bus.Emit(event.Custom("deploy"), "ci", nil, service.EmitOptions{})

	all := decode[[]event.Event](t, f.do(t, http.MethodGet, "/api/v1/events", ""))
	if len(all) != 2 {
		t.Fatalf("events = %d", len(all))
	}
	bySource := decode[[]event.Event](t, f.do(t, http.MethodGet, "/api/v1/events?source=ci", ""))
	if len(bySource) != 1 || bySource[0].Type != event.Custom("deploy") {
		t.Errorf("by source = %+v", bySource)
	}
	byType := decode[[]event.Event](t, f.do(t, http.MethodGet, "/api/v1/events?type=warning_issued&hours=1", ""))
	if len(byType) != 1 || byType[0].Source != "tester" {
		t.Errorf("by type = %+v", byType)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/events?hours=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad hours status = %d", rec.Code)
	}

	stats := decode[service.EventBusStats](t, f.do(t, http.MethodGet, "/api/v1/events/stats", ""))
	if stats.TotalEmitted != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestProgress(t *testing.T) {
	f := newFixture(t)
	f.tracker.Start("op-1", "Indexing", 3)
	f.tracker.Start("op-2", "Copying", 1)
	f.tracker.Complete("op-2", "done")

	list := decode[struct {
		Active []progress.Info       `json:"active"`
		Stats  service.ProgressStats `json:"stats"`
	}](t, f.do(t, http.MethodGet, "/api/v1/progress", ""))
	if len(list.Active) != 1 || list.Active[0].OperationID != "op-1" {
		t.Errorf("active = %+v", list.Active)
	}

	if info := decode[progress.Info](t, f.do(t, http.MethodGet, "/api/v1/progress/op-2", "")); info.Status != progress.StatusCompleted {
		t.Errorf("finished op = %+v", info)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/progress/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing op status = %d", rec.Code)
	}
}

func TestSafetyRules(t *testing.T) {
	f := newFixture(t)
	rules := decode[[]safety.Rule](t, f.do(t, http.MethodGet, "/api/v1/safety/rules", ""))
	if len(rules) == 0 || rules[0].ID != "file_deletion" {
		t.Fatalf("rules = %+v", rules)
	}

	rec := f.do(t, http.MethodPost, "/api/v1/safety/rules",
		`{"rule_id":"no_prod","name":"Production","risk_level":"critical","pattern":"prod-db","block_operation":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d body = %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/safety/rules", `{"rule_id":"bad","name":"Bad","risk_level":"low","pattern":"("}`); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid rule status = %d", rec.Code)
	}

	if rec := f.do(t, http.MethodDelete, "/api/v1/safety/rules/no_prod", ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/api/v1/safety/rules/no_prod", ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rec.Code)
	}
}

func TestSafetyValidate(t *testing.T) {
	f := newFixture(t)

	type validation struct {
		Allowed   bool              `json:"allowed"`
		Violation *safety.Violation `json:"violation"`
	}
	ok := decode[validation](t, f.do(t, http.MethodPost, "/api/v1/safety/validate",
		`{"operation_type":"file_operation","details":"cat notes.txt"}`))
	if !ok.Allowed || ok.Violation != nil {
		t.Errorf("harmless op = %+v", ok)
	}

	denied := decode[validation](t, f.do(t, http.MethodPost, "/api/v1/safety/validate",
		`{"operation_type":"file_operation","details":"rm notes.txt"}`))
	if denied.Allowed || denied.Violation == nil || denied.Violation.RuleID != "file_deletion" {
		t.Errorf("rm = %+v", denied)
	}

	if rec := f.do(t, http.MethodPost, "/api/v1/safety/validate", `{"details":"x"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing operation_type status = %d", rec.Code)
	}

	list := decode[struct {
		Violations []safety.Violation `json:"violations"`
	}](t, f.do(t, http.MethodGet, "/api/v1/safety/violations?limit=5", ""))
	if len(list.Violations) != 1 {
		t.Errorf("violations = %+v", list.Violations)
	}
}

func TestMemoryEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.memory.RecordTask(ctx, "summarise logs", "/ws", []string{"read_file"}, "done", "s1", nil)
	f.memory.RecordFileModification(ctx, "/ws/a.txt", memory.ModCreated, "write_file", "s1", []byte("x"), nil)

	stats := decode[memory.Stats](t, f.do(t, http.MethodGet, "/api/v1/memory/stats", ""))
	if stats.CompletedTasks != 1 || stats.FileModifications != 1 {
		t.Errorf("stats = %+v", stats)
	}

	tasks := decode[[]memory.CompletedTask](t, f.do(t, http.MethodGet, "/api/v1/memory/tasks?workspace=/ws&hours=1", ""))
	if len(tasks) != 1 {
		t.Errorf("tasks = %+v", tasks)
	}
	if other := decode[[]memory.CompletedTask](t, f.do(t, http.MethodGet, "/api/v1/memory/tasks?workspace=/elsewhere", "")); len(other) != 0 {
		t.Errorf("other workspace tasks = %+v", other)
	}

	files := decode[[]memory.FileModification](t, f.do(t, http.MethodGet, "/api/v1/memory/files?path=/ws/a.txt", ""))
	if len(files) != 1 || files[0].ModificationType != memory.ModCreated {
		t.Errorf("files = %+v", files)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/memory/files", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing path status = %d", rec.Code)
	}
	if recent := decode[[]memory.FileModification](t, f.do(t, http.MethodGet, "/api/v1/memory/recent", "")); len(recent) != 1 {
		t.Errorf("recent = %+v", recent)
	}

	red := decode[map[string]any](t, f.do(t, http.MethodPost, "/api/v1/memory/redundancy",
		`{"description":"summarise logs","workspace":"/ws","tools":["read_file"]}`))
	if red["redundant"] != true {
		t.Errorf("redundancy = %v", red)
	}
	fresh := decode[map[string]any](t, f.do(t, http.MethodPost, "/api/v1/memory/redundancy",
		`{"description":"something new","workspace":"/ws"}`))
	if fresh["redundant"] != false {
		t.Errorf("fresh redundancy = %v", fresh)
	}
}

func TestTools(t *testing.T) {
	f := newFixture(t)
	tools := decode[[]toolexec.Descriptor](t, f.do(t, http.MethodGet, "/api/v1/tools", ""))
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Fatalf("tools = %+v", tools)
	}

	rec := f.do(t, http.MethodPost, "/api/v1/tools/echo", `{"text":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("execute status = %d", rec.Code)
	}
	if res := decode[agent.ToolResult](t, rec); res.Result != "hi" {
		t.Errorf("result = %+v", res)
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/tools/nope", `{}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown tool status = %d", rec.Code)
	}
}
