package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/GGUFloader/agentcore/internal/adapter/otel"
	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/domain"
	"github.com/GGUFloader/agentcore/internal/domain/agent"
	"github.com/GGUFloader/agentcore/internal/domain/conversation"
	"github.com/GGUFloader/agentcore/internal/domain/event"
	"github.com/GGUFloader/agentcore/internal/port/llm"
	"github.com/GGUFloader/agentcore/internal/port/toolexec"
)

const (
	turnSteps            = 4
	synthesisMaxTokens   = 1024
	fallbackHistoryTurns = 3

	emptyModelResponse    = "I understand your request, but I'm having trouble generating a response right now."
	defaultDirectResponse = "I understand your request."
	noModelForSynthesis   = "Tool execution completed, but no model available for response generation."
	emptySynthesis        = "Task completed successfully."
	synthesisFailedPrefix = "I completed the requested operations, but encountered an error generating the summary: "
	cancelledResponse     = "Processing stopped at user request."
)

var errStopped = errors.New("stop requested")

// PipelineDeps are the collaborators of a Pipeline. Only Prompts is
// required; every other dependency degrades gracefully when nil.
type PipelineDeps struct {
	Model    llm.Model
	Tools    toolexec.Registry
	Events   Emitter
	Progress *ProgressTracker
	Memory   *MemoryStore
	Context  *ContextManager
	Stream   *StreamBuffer
	Prompts  *PromptBuilder
	Metrics  *cfotel.Metrics
}

// PipelineStats summarises pipeline activity.
type PipelineStats struct {
	TotalTurns          int         `json:"total_turns"`
	TotalToolCalls      int         `json:"total_tool_calls"`
	Processing          bool        `json:"is_processing"`
	State               agent.State `json:"state"`
	SessionID           string      `json:"current_session"`
	Workspace           string      `json:"workspace"`
	MaxToolCallsPerTurn int         `json:"max_tool_calls_per_turn"`
	Model               string      `json:"model,omitempty"`
}

// Pipeline runs agent turns: plan with the model, execute the planned tool
// calls, then synthesise a final answer. One turn runs at a time.
type Pipeline struct {
	cfg  config.Agent
	deps PipelineDeps

	busy atomic.Bool
	stop atomic.Bool

	mu        sync.Mutex
	state     agent.State
	history   []agent.Turn
	sessionID string
	workspace string

	now func() time.Time
}

// NewPipeline creates a pipeline bound to the configured session and
// workspace.
func NewPipeline(cfg config.Agent, deps PipelineDeps) *Pipeline {
	if cfg.MaxToolCallsPerTurn < 1 {
		cfg.MaxToolCallsPerTurn = 5
	}
	if cfg.MaxTokens < 1 {
		cfg.MaxTokens = 2048
	}
	if cfg.SessionID == "" {
		cfg.SessionID = "default"
	}
	if deps.Prompts == nil {
		deps.Prompts = NewPromptBuilder(config.Tools{}, cfg)
	}
	return &Pipeline{
		cfg:       cfg,
		deps:      deps,
		state:     agent.StateIdle,
		sessionID: cfg.SessionID,
		workspace: cfg.Workspace,
		now:       time.Now,
	}
}

// SetSession switches the conversation session and workspace used by
// subsequent turns.
func (p *Pipeline) SetSession(sessionID, workspace string) {
	p.mu.Lock()
	p.sessionID = sessionID
	p.workspace = workspace
	p.mu.Unlock()
}

// State returns the position of the current or last turn.
func (p *Pipeline) State() agent.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s agent.State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Processing reports whether a turn is in flight.
func (p *Pipeline) Processing() bool { return p.busy.Load() }

// Stop requests cooperative cancellation of the running turn. The request
// takes effect at the next step boundary. It reports whether a turn was
// running.
func (p *Pipeline) Stop() bool {
	if !p.busy.Load() {
		return false
	}
	p.stop.Store(true)
	slog.Info("agent turn stop requested")
	return true
}

// turnRun carries the per-turn values through the steps.
type turnRun struct {
	turn      *agent.Turn
	opID      string
	sessionID string
	workspace string
	system    string
	started   time.Time
	tracked   bool
}

// Process runs one turn for message. It returns domain.ErrBusy when a turn
// is already in flight. Every other failure is reported through the
// returned turn's state and final response and through the event bus.
func (p *Pipeline) Process(ctx context.Context, message string) (*agent.Turn, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return nil, domain.ErrBusy
	}
	defer p.busy.Store(false)
	p.stop.Store(false)

	p.mu.Lock()
	run := &turnRun{
		sessionID: p.sessionID,
		workspace: p.workspace,
		started:   p.now(),
	}
	p.mu.Unlock()
	run.opID = fmt.Sprintf("agent_turn_%d", run.started.UnixNano())
	run.turn = &agent.Turn{
		UserMessage: message,
		ToolCalls:   []agent.ToolCall{},
		ToolResults: []agent.ToolResult{},
		Timestamp:   run.started,
		State:       agent.StateBuildingContext,
	}

	ctx, span := cfotel.StartTurnSpan(ctx, run.opID, run.sessionID)
	defer span.End()

	slog.Info("agent turn started", "operation_id", run.opID, "session_id", run.sessionID, "message_len", len(message))
	run.tracked = p.track(run.opID, "Processing user message", turnSteps)
	if p.deps.Stream != nil {
		p.deps.Stream.Start("agent_turn", 0)
		defer p.deps.Stream.Finish()
	}
	p.emit(event.AgentTurnStarted, map[string]any{
		"message":      message,
		"session_id":   run.sessionID,
		"operation_id": run.opID,
	}, event.PriorityNormal)
	if m := p.deps.Metrics; m != nil {
		m.TurnsStarted.Add(ctx, 1)
	}

	err := p.runTurn(ctx, run, message)
	switch {
	case errors.Is(err, errStopped):
		p.cancelled(ctx, run)
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.failed(ctx, run, err)
	default:
		p.completed(ctx, run, message)
	}

	out := run.turn.Clone()
	return &out, nil
}

// runTurn executes the turn steps. Panics are converted into errors.
func (p *Pipeline) runTurn(ctx context.Context, run *turnRun, message string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent turn panicked: %v", r)
		}
	}()

	// Step 1: context and plan.
	p.setState(agent.StateBuildingContext)
	p.step(run, 1, "Generating response and tool calls")
	p.processStep("context", "Building conversation context")

	var tools []toolexec.Descriptor
	if p.deps.Tools != nil {
		tools = p.deps.Tools.Tools()
	}
	run.system = p.deps.Prompts.SystemPrompt(run.workspace, tools)
	prompt, err := p.buildContext(ctx, run, message)
	if err != nil {
		return err
	}
	if cm := p.deps.Context; cm != nil {
		if err := cm.AddMessage(ctx, run.sessionID, conversation.RoleUser, message, nil); err != nil {
			slog.Warn("add user message to context failed", "session_id", run.sessionID, "error", err)
		}
	}

	p.setState(agent.StateAwaitingPlan)
	if p.deps.Model == nil {
		return fmt.Errorf("no model available for processing: %w", domain.ErrModelUnavailable)
	}
	text, err := p.generate(ctx, prompt, p.cfg.MaxTokens, "plan")
	if err != nil {
		return fmt.Errorf("model generation: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		slog.Warn("empty response from model, using fallback")
		text = emptyModelResponse
	}
	if p.stopRequested(ctx) {
		return errStopped
	}

	// Step 2: parse.
	p.step(run, 2, "Parsing tool calls")
	plan, perr := agent.ParsePlan(text)
	if perr != nil {
		slog.Warn("failed to parse tool calls from response", "error", perr)
	}
	run.turn.Reasoning = plan.Reasoning
	if plan.Reasoning != "" && p.deps.Stream != nil {
		p.deps.Stream.Reasoning(plan.Reasoning)
	}
	run.turn.ToolCalls = p.toolCalls(ctx, plan)

	// Step 3: tools and synthesis.
	if len(run.turn.ToolCalls) == 0 {
		run.turn.FinalResponse = plan.Response
		if strings.TrimSpace(run.turn.FinalResponse) == "" {
			run.turn.FinalResponse = defaultDirectResponse
		}
	} else {
		p.warnIfRedundant(run, message)
		p.setState(agent.StateExecutingTools)
		p.step(run, 3, fmt.Sprintf("Executing %d tool calls", len(run.turn.ToolCalls)))
		slog.Info("executing tool calls", "count", len(run.turn.ToolCalls))

		run.turn.ToolResults = p.executeTools(ctx, run)
		if p.stopRequested(ctx) {
			return errStopped
		}

		p.setState(agent.StateAwaitingFinalAnswer)
		run.turn.FinalResponse = p.synthesize(ctx, run, message)
	}

	// Step 4: finalize.
	p.step(run, 4, "Finalizing response")
	run.turn.TokenCount = conversation.EstimateTokens(run.turn.FinalResponse)
	return nil
}

// buildContext renders the planning prompt from the conversation context,
// falling back to the last turns of the pipeline history.
func (p *Pipeline) buildContext(ctx context.Context, run *turnRun, message string) (prompt string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", domain.ErrContextBuild, r)
		}
	}()

	var history string
	if cm := p.deps.Context; cm != nil {
		cm.Ensure(ctx, run.sessionID, run.workspace)
		history = cm.ContextForGeneration(run.sessionID, p.cfg.MaxTokens/2)
	} else {
		history = p.recentHistory(fallbackHistoryTurns)
	}
	return TurnPrompt(run.system, history, message), nil
}

func (p *Pipeline) recentHistory(n int) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := max(len(p.history)-n, 0)
	var b strings.Builder
	for _, t := range p.history[start:] {
		fmt.Fprintf(&b, "User: %s\n", t.UserMessage)
		if t.Reasoning != "" {
			fmt.Fprintf(&b, "Assistant Reasoning: %s\n", t.Reasoning)
		}
		if len(t.ToolCalls) > 0 {
			fmt.Fprintf(&b, "Tool Calls: %d tools used\n", len(t.ToolCalls))
		}
		fmt.Fprintf(&b, "Assistant: %s\n\n", t.FinalResponse)
	}
	return strings.TrimSuffix(b.String(), "\n\n")
}

// generate runs one model call and streams its tokens.
func (p *Pipeline) generate(ctx context.Context, prompt string, maxTokens int, purpose string) (string, error) {
	ctx, span := cfotel.StartGenerateSpan(ctx, p.deps.Model.Name(), purpose)
	defer span.End()

	var onToken func(string)
	if s := p.deps.Stream; s != nil {
		onToken = func(tok string) { s.AddToken(tok, map[string]any{"purpose": purpose}) }
	}
	text, err := p.deps.Model.Generate(ctx, llm.Request{
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: p.cfg.Temperature,
	}, onToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}

// toolCalls converts the plan into tool calls, dropping calls beyond the
// per-turn cap.
func (p *Pipeline) toolCalls(ctx context.Context, plan agent.Plan) []agent.ToolCall {
	planned := plan.ToolCalls
	if n := len(planned); n > p.cfg.MaxToolCallsPerTurn {
		slog.Warn("limiting tool calls per turn",
			"planned", n,
			"max_tool_calls_per_turn", p.cfg.MaxToolCallsPerTurn,
			"dropped", n-p.cfg.MaxToolCallsPerTurn,
		)
		if m := p.deps.Metrics; m != nil {
			m.ToolCallsDropped.Add(ctx, int64(n-p.cfg.MaxToolCallsPerTurn))
		}
		planned = planned[:p.cfg.MaxToolCallsPerTurn]
	}

	now := p.now().Unix()
	calls := make([]agent.ToolCall, 0, len(planned))
	for i, pc := range planned {
		params := pc.Parameters
		if params == nil {
			params = map[string]any{}
		}
		call := agent.ToolCall{
			ToolName:   pc.Tool,
			Parameters: params,
			CallID:     fmt.Sprintf("call_%d_%d", now, i),
			Reasoning:  plan.Reasoning,
		}
		calls = append(calls, call)
		if p.deps.Stream != nil {
			p.deps.Stream.ToolCallDetected(call.ToolName, call.Parameters)
		}
	}
	return calls
}

func (p *Pipeline) warnIfRedundant(run *turnRun, message string) {
	if p.deps.Memory == nil {
		return
	}
	prev := p.deps.Memory.CheckRedundancy(turnDescription(message), run.workspace, run.turn.ToolNames())
	if prev == nil {
		return
	}
	slog.Info("similar task completed recently", "task_id", prev.TaskID, "completed_at", prev.CompletedAt)
	p.emit(event.WarningIssued, map[string]any{
		"warning":        "redundant_task",
		"message":        "A similar task was completed recently",
		"task_id":        prev.TaskID,
		"completed_at":   prev.CompletedAt.Format(time.RFC3339),
		"result_summary": prev.ResultSummary,
	}, event.PriorityNormal)
}

// executeTools runs the calls in order. A failed call does not stop the
// loop; a stop request does.
func (p *Pipeline) executeTools(ctx context.Context, run *turnRun) []agent.ToolResult {
	results := make([]agent.ToolResult, 0, len(run.turn.ToolCalls))
	for _, call := range run.turn.ToolCalls {
		if p.stopRequested(ctx) {
			slog.Info("stop requested, skipping remaining tool calls", "executed", len(results))
			break
		}
		results = append(results, p.executeTool(ctx, run, call))
	}
	return results
}

func (p *Pipeline) executeTool(ctx context.Context, run *turnRun, call agent.ToolCall) agent.ToolResult {
	ctx, span := cfotel.StartToolCallSpan(ctx, call.CallID, call.ToolName)
	defer span.End()

	slog.Info("executing tool", "tool", call.ToolName, "call_id", call.CallID)
	toolOp := "tool_" + call.CallID
	toolTracked := p.track(toolOp, "Executing "+call.ToolName, 1)
	p.emit(event.ToolCallStarted, map[string]any{
		"tool_name":      call.ToolName,
		"parameters":     call.Parameters,
		"call_id":        call.CallID,
		"workspace_path": run.workspace,
	}, event.PriorityNormal)
	if p.deps.Stream != nil {
		p.deps.Stream.ToolExecutionStarted(call.ToolName, call.Parameters)
	}

	start := p.now()
	res := p.invokeTool(ctx, call)
	res.CallID = call.CallID
	if res.ToolName == "" {
		res.ToolName = call.ToolName
	}
	if res.ExecutionTime == 0 {
		res.ExecutionTime = p.now().Sub(start)
	}

	typ := event.ToolCallCompleted
	if !res.OK() {
		typ = event.ToolCallFailed
		span.SetStatus(codes.Error, res.Error)
	}
	p.emit(typ, map[string]any{
		"tool_name":      call.ToolName,
		"call_id":        call.CallID,
		"status":         string(res.Status),
		"result":         res.Result,
		"error":          res.Error,
		"workspace_path": run.workspace,
	}, event.PriorityNormal)
	if p.deps.Stream != nil {
		p.deps.Stream.ToolExecutionCompleted(res)
	}

	if toolTracked {
		if res.OK() {
			p.deps.Progress.Complete(toolOp, "Tool "+call.ToolName+" completed")
		} else {
			p.deps.Progress.Fail(toolOp, res.Error)
		}
	}
	if res.OK() && p.deps.Memory != nil {
		p.deps.Memory.RecordTask(ctx, "Tool execution: "+call.ToolName, run.workspace, []string{call.ToolName},
			summarize(formatResult(res.Result), 100), run.sessionID, map[string]any{"tool_call_id": call.CallID})
	}
	if m := p.deps.Metrics; m != nil {
		attrs := metric.WithAttributes(
			attribute.String("tool", call.ToolName),
			attribute.String("status", string(res.Status)),
		)
		m.ToolCalls.Add(ctx, 1, attrs)
		if !res.OK() {
			m.ToolCallsFailed.Add(ctx, 1, attrs)
		}
		m.ToolDuration.Record(ctx, res.ExecutionTime.Seconds(), attrs)
	}

	slog.Info("tool executed", "tool", call.ToolName, "call_id", call.CallID, "status", string(res.Status))
	return res
}

// invokeTool calls the registry, converting a panic into an error result.
func (p *Pipeline) invokeTool(ctx context.Context, call agent.ToolCall) (res agent.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool execution panicked", "tool", call.ToolName, "panic", r)
			res = agent.ErrorResult(call.CallID, call.ToolName, fmt.Sprintf("Tool execution failed: %v", r))
		}
	}()
	if p.deps.Tools == nil {
		return agent.ErrorResult(call.CallID, call.ToolName, "Tool registry not available")
	}
	return p.deps.Tools.Execute(ctx, call.ToolName, call.Parameters)
}

// synthesize asks the model for the final answer. It never fails; model
// problems yield fixed fallback responses.
func (p *Pipeline) synthesize(ctx context.Context, run *turnRun, message string) string {
	if p.deps.Model == nil {
		return noModelForSynthesis
	}
	p.processStep("synthesis", "Summarising tool results")
	prompt := SynthesisPrompt(run.system, message, run.turn.ToolResults)
	text, err := p.generate(ctx, prompt, min(p.cfg.MaxTokens, synthesisMaxTokens), "synthesis")
	if err != nil {
		slog.Error("generate final response failed", "error", err)
		return synthesisFailedPrefix + err.Error()
	}
	if text = strings.TrimSpace(text); text == "" {
		return emptySynthesis
	}
	return text
}

func (p *Pipeline) completed(ctx context.Context, run *turnRun, message string) {
	run.turn.State = agent.StateCompleted
	p.setState(agent.StateCompleted)
	p.appendHistory(run.turn)

	if cm := p.deps.Context; cm != nil {
		if err := cm.AddMessage(ctx, run.sessionID, conversation.RoleAssistant, run.turn.FinalResponse, nil); err != nil {
			slog.Warn("add assistant message to context failed", "session_id", run.sessionID, "error", err)
		}
	}
	if p.deps.Memory != nil {
		p.deps.Memory.RecordTask(ctx, turnDescription(message), run.workspace, run.turn.ToolNames(),
			summarize(run.turn.FinalResponse, 100), run.sessionID, nil)
	}
	if run.tracked {
		p.deps.Progress.Complete(run.opID, "Agent turn completed successfully")
	}
	p.emit(event.AgentTurnCompleted, map[string]any{
		"message":          message,
		"response":         run.turn.FinalResponse,
		"tool_calls_count": len(run.turn.ToolCalls),
		"session_id":       run.sessionID,
		"operation_id":     run.opID,
	}, event.PriorityNormal)
	p.recordTurnMetrics(ctx, run, "completed")
	slog.Info("agent turn completed", "operation_id", run.opID, "tool_calls", len(run.turn.ToolCalls))
}

func (p *Pipeline) failed(ctx context.Context, run *turnRun, err error) {
	slog.Error("agent turn failed", "operation_id", run.opID, "error", err)
	run.turn.State = agent.StateFailed
	run.turn.FinalResponse = "Agent processing error: " + err.Error()
	p.setState(agent.StateFailed)

	if run.tracked {
		p.deps.Progress.Fail(run.opID, err.Error())
	}
	p.emit(event.ErrorOccurred, map[string]any{
		"error_message": err.Error(),
		"context":       "agent_turn_processing",
		"operation_id":  run.opID,
	}, event.PriorityHigh)
	p.emit(event.AgentTurnFailed, map[string]any{
		"message":      run.turn.UserMessage,
		"error":        err.Error(),
		"session_id":   run.sessionID,
		"operation_id": run.opID,
	}, event.PriorityHigh)
	p.recordTurnMetrics(ctx, run, "failed")
}

func (p *Pipeline) cancelled(ctx context.Context, run *turnRun) {
	slog.Info("agent turn cancelled", "operation_id", run.opID, "tool_results", len(run.turn.ToolResults))
	run.turn.State = agent.StateCancelled
	if run.turn.FinalResponse == "" {
		run.turn.FinalResponse = cancelledResponse
	}
	p.setState(agent.StateCancelled)
	p.appendHistory(run.turn)

	if run.tracked {
		p.deps.Progress.Cancel(run.opID, "User requested stop")
	}
	p.emit(event.WarningIssued, map[string]any{
		"warning":      "turn_cancelled",
		"message":      "Agent turn stopped at user request",
		"operation_id": run.opID,
		"tool_results": len(run.turn.ToolResults),
	}, event.PriorityNormal)
	p.recordTurnMetrics(ctx, run, "cancelled")
}

func (p *Pipeline) recordTurnMetrics(ctx context.Context, run *turnRun, outcome string) {
	m := p.deps.Metrics
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	switch outcome {
	case "completed":
		m.TurnsCompleted.Add(ctx, 1, attrs)
	case "failed":
		m.TurnsFailed.Add(ctx, 1, attrs)
	case "cancelled":
		m.TurnsCancelled.Add(ctx, 1, attrs)
	}
	m.TurnDuration.Record(ctx, p.now().Sub(run.started).Seconds(), attrs)
}

func (p *Pipeline) stopRequested(ctx context.Context) bool {
	return p.stop.Load() || ctx.Err() != nil
}

// track starts a progress operation. Operations the tracker refuses, for
// example at capacity, are not updated afterwards.
func (p *Pipeline) track(id, name string, steps int) bool {
	if p.deps.Progress == nil {
		return false
	}
	if !p.deps.Progress.Start(id, name, steps) {
		slog.Warn("progress tracking unavailable", "operation_id", id)
		return false
	}
	return true
}

func (p *Pipeline) step(run *turnRun, n int, description string) {
	if run.tracked {
		p.deps.Progress.Update(run.opID, n, description)
	}
}

func (p *Pipeline) processStep(name, description string) {
	if p.deps.Stream != nil {
		p.deps.Stream.ProcessStep(name, description)
	}
}

func (p *Pipeline) emit(t event.Type, data map[string]any, priority int) {
	if p.deps.Events == nil {
		return
	}
	p.deps.Events.Emit(t, "agent_pipeline", data, EmitOptions{Priority: priority})
}

func (p *Pipeline) appendHistory(t *agent.Turn) {
	p.mu.Lock()
	p.history = append(p.history, t.Clone())
	p.mu.Unlock()
}

// History returns copies of the finished turns, oldest first.
func (p *Pipeline) History() []agent.Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]agent.Turn, len(p.history))
	for i := range p.history {
		out[i] = p.history[i].Clone()
	}
	return out
}

// ClearHistory drops all finished turns.
func (p *Pipeline) ClearHistory() {
	p.mu.Lock()
	p.history = nil
	p.mu.Unlock()
	slog.Info("conversation history cleared")
}

// Stats returns pipeline counters.
func (p *Pipeline) Stats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	calls := 0
	for _, t := range p.history {
		calls += len(t.ToolCalls)
	}
	s := PipelineStats{
		TotalTurns:          len(p.history),
		TotalToolCalls:      calls,
		Processing:          p.busy.Load(),
		State:               p.state,
		SessionID:           p.sessionID,
		Workspace:           p.workspace,
		MaxToolCallsPerTurn: p.cfg.MaxToolCallsPerTurn,
	}
	if p.deps.Model != nil {
		s.Model = p.deps.Model.Name()
	}
	return s
}

// turnDescription is the memory description recorded for a finished turn.
func turnDescription(message string) string {
	r := []rune(message)
	if len(r) > 50 {
		r = r[:50]
	}
	return "Agent turn: " + string(r) + "..."
}

func summarize(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
