package service

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"text/template"

	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/domain/agent"
	"github.com/GGUFloader/agentcore/internal/port/toolexec"
)

//go:embed templates/system_prompt.tmpl
var systemPromptSrc string

// systemPromptTmpl is the parsed system prompt template.
var systemPromptTmpl = template.Must(template.New("system_prompt").Parse(systemPromptSrc))

const (
	maxListedCommands = 10
	maxResultChars    = 1000
)

// systemPromptData carries workspace and tool context into the template.
type systemPromptData struct {
	Workspace       string
	WorkspaceExists bool
	Tools           []toolexec.Descriptor
	Allowed         string
	Denied          string
	CommandTimeout  int
	MaxToolCalls    int
}

// PromptBuilder renders the prompts sent to the model.
type PromptBuilder struct {
	tools        config.Tools
	maxToolCalls int
	override     string
}

// NewPromptBuilder creates a builder. A non-empty override replaces the
// rendered system prompt.
func NewPromptBuilder(tools config.Tools, agentCfg config.Agent) *PromptBuilder {
	return &PromptBuilder{tools: tools, maxToolCalls: agentCfg.MaxToolCallsPerTurn, override: agentCfg.SystemPrompt}
}

// SystemPrompt renders the system prompt for a workspace and tool set.
func (b *PromptBuilder) SystemPrompt(workspace string, tools []toolexec.Descriptor) string {
	if b.override != "" {
		return b.override
	}

	sorted := slices.Clone(tools)
	slices.SortFunc(sorted, func(a, c toolexec.Descriptor) int { return strings.Compare(a.Name, c.Name) })

	_, statErr := os.Stat(workspace)
	data := systemPromptData{
		Workspace:       workspace,
		WorkspaceExists: statErr == nil,
		Tools:           sorted,
		Allowed:         summarizeCommands(b.tools.AllowedCommands),
		Denied:          summarizeCommands(b.tools.DeniedCommands),
		CommandTimeout:  int(b.tools.CommandTimeout.Seconds()),
		MaxToolCalls:    b.maxToolCalls,
	}

	var buf bytes.Buffer
	if err := systemPromptTmpl.Execute(&buf, data); err != nil {
		slog.Error("render system prompt failed", "error", err)
		return "You are a helpful assistant with tool-calling capabilities."
	}
	return buf.String()
}

func summarizeCommands(cmds []string) string {
	if len(cmds) == 0 {
		return "none"
	}
	if len(cmds) <= maxListedCommands {
		return strings.Join(cmds, ", ")
	}
	return fmt.Sprintf("%s (and %d more)", strings.Join(cmds[:maxListedCommands], ", "), len(cmds)-maxListedCommands)
}

// TurnPrompt assembles the planning prompt: system prompt, conversation
// context and the new user message.
func TurnPrompt(system, history, message string) string {
	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\n")
	if history != "" {
		b.WriteString(history)
		b.WriteString("\n\n")
	}
	b.WriteString("User: ")
	b.WriteString(message)
	b.WriteString("\nAssistant: ")
	return b.String()
}

// SynthesisPrompt asks the model to summarise tool results for the user.
// Each result is truncated to a fixed length.
func SynthesisPrompt(system, message string, results []agent.ToolResult) string {
	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\nUser Request: ")
	b.WriteString(message)
	b.WriteString("\n\nTool Execution Results:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "\nTool %d (%s): %s\n", i+1, r.ToolName, r.Status)
		switch {
		case r.OK() && r.Result != nil:
			b.WriteString("Result: ")
			b.WriteString(truncateResult(formatResult(r.Result)))
			b.WriteString("\n")
		case !r.OK():
			msg := r.Error
			if msg == "" {
				msg = "Unknown error"
			}
			b.WriteString("Error: ")
			b.WriteString(msg)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nBased on these tool results, provide a helpful summary and response to the user:\n")
	return b.String()
}

func formatResult(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func truncateResult(s string) string {
	r := []rune(s)
	if len(r) <= maxResultChars {
		return s
	}
	return string(r[:maxResultChars]) + "... (truncated)"
}
