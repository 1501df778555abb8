package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// ErrPlanParse is returned when a fenced JSON plan is present but malformed.
var ErrPlanParse = errors.New("plan parse failed")

var planBlock = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// PlannedCall is a tool call as written by the model.
type PlannedCall struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

// Plan is the parsed first-pass model response.
type Plan struct {
	Reasoning string        `json:"reasoning"`
	ToolCalls []PlannedCall `json:"tool_calls"`
	// Response is the full model text. It becomes the final answer when
	// no tool calls are planned.
	Response string `json:"-"`
}

// ParsePlan extracts the first fenced JSON block from a model response.
// Text without a block yields a direct-response plan and a nil error. A
// malformed block yields a direct-response plan whose reasoning notes the
// failure, along with an error wrapping ErrPlanParse.
func ParsePlan(text string) (Plan, error) {
	m := planBlock.FindStringSubmatch(text)
	if m == nil {
		return Plan{Response: text}, nil
	}

	var p Plan
	if err := json.Unmarshal([]byte(m[1]), &p); err != nil {
		return Plan{Reasoning: "Failed to parse tool calls", Response: text},
			fmt.Errorf("%w: %v", ErrPlanParse, err)
	}
	p.Response = text
	return p, nil
}
