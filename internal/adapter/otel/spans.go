package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentcore"

// StartTurnSpan starts a span for an agent turn.
func StartTurnSpan(ctx context.Context, operationID, sessionID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("turn.operation_id", operationID),
			attribute.String("session.id", sessionID),
		),
	)
}

// StartGenerateSpan starts a span for a model generation call.
func StartGenerateSpan(ctx context.Context, model, purpose string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "generate",
		trace.WithAttributes(
			attribute.String("model.name", model),
			attribute.String("generate.purpose", purpose),
		),
	)
}

// StartToolCallSpan starts a span for a tool call within a turn.
func StartToolCallSpan(ctx context.Context, callID, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "toolcall",
		trace.WithAttributes(
			attribute.String("toolcall.id", callID),
			attribute.String("toolcall.tool", tool),
		),
	)
}
