package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "agentcore"

// Metrics holds all agentcore metric instruments.
type Metrics struct {
	TurnsStarted     metric.Int64Counter
	TurnsCompleted   metric.Int64Counter
	TurnsFailed      metric.Int64Counter
	TurnsCancelled   metric.Int64Counter
	ToolCalls        metric.Int64Counter
	ToolCallsFailed  metric.Int64Counter
	ToolCallsDropped metric.Int64Counter
	SafetyViolations metric.Int64Counter
	EventsRelayed    metric.Int64Counter
	TurnDuration     metric.Float64Histogram
	ToolDuration     metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.TurnsStarted, "agentcore.turns.started", "Number of agent turns started"},
		{&m.TurnsCompleted, "agentcore.turns.completed", "Number of agent turns completed"},
		{&m.TurnsFailed, "agentcore.turns.failed", "Number of agent turns failed"},
		{&m.TurnsCancelled, "agentcore.turns.cancelled", "Number of agent turns cancelled"},
		{&m.ToolCalls, "agentcore.toolcalls", "Number of tool calls executed"},
		{&m.ToolCallsFailed, "agentcore.toolcalls.failed", "Number of tool calls that returned an error"},
		{&m.ToolCallsDropped, "agentcore.toolcalls.dropped", "Number of planned tool calls dropped by the per-turn cap"},
		{&m.SafetyViolations, "agentcore.safety.violations", "Number of safety rule matches"},
		{&m.EventsRelayed, "agentcore.events.relayed", "Number of bus events relayed to external sinks"},
	}
	for _, c := range counters {
		ctr, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = ctr
	}

	var err error
	m.TurnDuration, err = meter.Float64Histogram("agentcore.turn.duration_seconds",
		metric.WithDescription("Agent turn duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.ToolDuration, err = meter.Float64Histogram("agentcore.toolcall.duration_seconds",
		metric.WithDescription("Tool call duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
