// Package event defines the typed events exchanged over the agent event bus.
package event

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the closed set of event kinds known to the agent core.
type Kind string

const (
	KindToolCallStarted    Kind = "tool_call_started"
	KindToolCallCompleted  Kind = "tool_call_completed"
	KindToolCallFailed     Kind = "tool_call_failed"
	KindAgentTurnStarted   Kind = "agent_turn_started"
	KindAgentTurnCompleted Kind = "agent_turn_completed"
	KindAgentTurnFailed    Kind = "agent_turn_failed"
	KindErrorOccurred      Kind = "error_occurred"
	KindWarningIssued      Kind = "warning_issued"
	KindProgressUpdated    Kind = "progress_updated"
	KindSafetyViolation    Kind = "safety_violation"
	KindMemoryUpdated      Kind = "memory_updated"
	KindContextUpdated     Kind = "context_updated"
	KindStreamingStarted   Kind = "streaming_started"
	KindStreamingFinished  Kind = "streaming_finished"
	KindCustom             Kind = "custom_event"
)

var knownKinds = map[Kind]struct{}{
	KindToolCallStarted:    {},
	KindToolCallCompleted:  {},
	KindToolCallFailed:     {},
	KindAgentTurnStarted:   {},
	KindAgentTurnCompleted: {},
	KindAgentTurnFailed:    {},
	KindErrorOccurred:      {},
	KindWarningIssued:      {},
	KindProgressUpdated:    {},
	KindSafetyViolation:    {},
	KindMemoryUpdated:      {},
	KindContextUpdated:     {},
	KindStreamingStarted:   {},
	KindStreamingFinished:  {},
	KindCustom:             {},
}

// Type is an event type: one of the known kinds, or a named custom type.
// The zero value is invalid. Type is comparable and usable as a map key.
type Type struct {
	Kind Kind
	Name string // set only when Kind is KindCustom
}

// Predefined types for the known kinds.
var (
	ToolCallStarted    = Type{Kind: KindToolCallStarted}
	ToolCallCompleted  = Type{Kind: KindToolCallCompleted}
	ToolCallFailed     = Type{Kind: KindToolCallFailed}
	AgentTurnStarted   = Type{Kind: KindAgentTurnStarted}
	AgentTurnCompleted = Type{Kind: KindAgentTurnCompleted}
	AgentTurnFailed    = Type{Kind: KindAgentTurnFailed}
	ErrorOccurred      = Type{Kind: KindErrorOccurred}
	WarningIssued      = Type{Kind: KindWarningIssued}
	ProgressUpdated    = Type{Kind: KindProgressUpdated}
	SafetyViolation    = Type{Kind: KindSafetyViolation}
	MemoryUpdated      = Type{Kind: KindMemoryUpdated}
	ContextUpdated     = Type{Kind: KindContextUpdated}
	StreamingStarted   = Type{Kind: KindStreamingStarted}
	StreamingFinished  = Type{Kind: KindStreamingFinished}

	// AnyCustom matches every custom event when used for registration.
	AnyCustom = Type{Kind: KindCustom}
)

// Custom returns a named custom event type.
func Custom(name string) Type {
	return Type{Kind: KindCustom, Name: name}
}

// Known returns all non-custom types in declaration order.
func Known() []Type {
	return []Type{
		ToolCallStarted, ToolCallCompleted, ToolCallFailed,
		AgentTurnStarted, AgentTurnCompleted, AgentTurnFailed,
		ErrorOccurred, WarningIssued, ProgressUpdated, SafetyViolation,
		MemoryUpdated, ContextUpdated, StreamingStarted, StreamingFinished,
	}
}

// Parse maps a wire string to a Type. Strings that name no known kind
// become Custom(s).
func Parse(s string) Type {
	s = strings.TrimSpace(s)
	if name, ok := strings.CutPrefix(s, string(KindCustom)+":"); ok {
		return Custom(name)
	}
	k := Kind(s)
	if _, ok := knownKinds[k]; ok {
		return Type{Kind: k}
	}
	return Custom(s)
}

// IsCustom reports whether t is a custom type.
func (t Type) IsCustom() bool { return t.Kind == KindCustom }

// IsZero reports whether t is the zero Type.
func (t Type) IsZero() bool { return t.Kind == "" }

// String renders t in the wire format accepted by Parse.
func (t Type) String() string {
	if t.Kind == KindCustom && t.Name != "" {
		return string(KindCustom) + ":" + t.Name
	}
	return string(t.Kind)
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	if t.IsZero() {
		return nil, fmt.Errorf("event: zero type")
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	*t = Parse(string(b))
	return nil
}

// Priority levels used by the core. Callers may use any integer.
const (
	PriorityLow      = -10
	PriorityNormal   = 0
	PriorityHigh     = 10
	PriorityCritical = 20
)

// Event is a single immutable emission on the bus.
type Event struct {
	ID        string         `json:"event_id"`
	Type      Type           `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata"`
	Priority  int            `json:"priority"`
}

// Filter selects events from the bus history. Zero fields match everything.
type Filter struct {
	Type   Type
	Source string
	Since  time.Time
}

// Match reports whether e satisfies f. A filter on AnyCustom matches
// every custom event.
func (f Filter) Match(e *Event) bool {
	if !f.Type.IsZero() {
		if f.Type == AnyCustom {
			if !e.Type.IsCustom() {
				return false
			}
		} else if e.Type != f.Type {
			return false
		}
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}
