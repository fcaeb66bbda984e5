package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "taskforge"

// StartTaskSpan starts the span covering one task from launch to settle.
func StartTaskSpan(ctx context.Context, taskID, kind, label string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.kind", kind),
			attribute.String("task.label", label),
		),
	)
}

// EndTaskSpan records the final status on span and ends it.
func EndTaskSpan(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("task.status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// StartToolSpan starts a span for building a toolchain invocation.
func StartToolSpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tool."+tool,
		trace.WithAttributes(attribute.String("tool.name", tool)),
	)
}
