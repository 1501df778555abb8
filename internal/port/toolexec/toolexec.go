// Package toolexec defines the ports between the agent pipeline and the
// tools it invokes.
package toolexec

import (
	"context"

	"github.com/GGUFloader/agentcore/internal/domain/agent"
	"github.com/GGUFloader/agentcore/internal/domain/memory"
	"github.com/GGUFloader/agentcore/internal/domain/safety"
)

// Param describes one tool parameter.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "string", "integer", "boolean", "array"
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Descriptor describes a callable tool.
type Descriptor struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"parameters"`
}

// Registry executes tools by name. Execute never panics and reports every
// failure as an error result.
type Registry interface {
	Execute(ctx context.Context, name string, params map[string]any) agent.ToolResult
	Tools() []Descriptor
}

// Validator decides whether an operation may proceed.
type Validator interface {
	Validate(ctx context.Context, opType, details string, metadata map[string]any) (bool, *safety.Violation)
}

// ModificationRecorder receives file changes made by tools.
type ModificationRecorder interface {
	RecordFileModification(ctx context.Context, path string, modType memory.ModificationType,
		tool, sessionID string, content []byte, metadata map[string]any)
}
