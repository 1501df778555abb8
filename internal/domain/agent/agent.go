// Package agent defines the turn model of the agent pipeline: tool calls,
// their results and the finished turn.
package agent

import (
	"maps"
	"slices"
	"time"
)

// State is the pipeline's position within a turn.
type State string

const (
	StateIdle                State = "idle"
	StateBuildingContext     State = "building_context"
	StateAwaitingPlan        State = "awaiting_plan"
	StateExecutingTools      State = "executing_tools"
	StateAwaitingFinalAnswer State = "awaiting_final_answer"
	StateCompleted           State = "completed"
	StateFailed              State = "failed"
	StateCancelled           State = "cancelled"
)

// ResultStatus is the outcome of a tool call.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// ToolCall is one tool invocation proposed by the model.
type ToolCall struct {
	ToolName   string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
	CallID     string         `json:"call_id"`
	Reasoning  string         `json:"reasoning,omitempty"`
}

// ToolResult is the structured outcome of executing a ToolCall.
type ToolResult struct {
	CallID        string         `json:"call_id"`
	ToolName      string         `json:"tool_name"`
	Status        ResultStatus   `json:"status"`
	Result        any            `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time_ns,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// OK reports whether the call succeeded.
func (r *ToolResult) OK() bool { return r.Status == ResultSuccess }

// ErrorResult builds a failed ToolResult.
func ErrorResult(callID, tool, msg string) ToolResult {
	return ToolResult{CallID: callID, ToolName: tool, Status: ResultError, Error: msg}
}

// Turn is one user-message-to-final-response cycle.
type Turn struct {
	UserMessage   string       `json:"user_message"`
	Reasoning     string       `json:"reasoning"`
	ToolCalls     []ToolCall   `json:"tool_calls"`
	ToolResults   []ToolResult `json:"tool_results"`
	FinalResponse string       `json:"final_response"`
	Timestamp     time.Time    `json:"timestamp"`
	TokenCount    int          `json:"token_count"`
	State         State        `json:"state"`
}

// Clone returns a copy that shares no slices or top-level maps with t.
func (t *Turn) Clone() Turn {
	out := *t
	out.ToolCalls = make([]ToolCall, len(t.ToolCalls))
	for i, c := range t.ToolCalls {
		c.Parameters = maps.Clone(c.Parameters)
		out.ToolCalls[i] = c
	}
	out.ToolResults = make([]ToolResult, len(t.ToolResults))
	for i, r := range t.ToolResults {
		r.Metadata = maps.Clone(r.Metadata)
		out.ToolResults[i] = r
	}
	return out
}

// ToolNames returns the names of the turn's tool calls in order.
func (t *Turn) ToolNames() []string {
	names := make([]string, 0, len(t.ToolCalls))
	for _, c := range t.ToolCalls {
		names = append(names, c.ToolName)
	}
	return slices.Clip(names)
}
