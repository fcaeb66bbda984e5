package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "taskforge"

// Metrics holds the task instruments.
type Metrics struct {
	TasksStarted   metric.Int64Counter
	TasksCompleted metric.Int64Counter
	TasksStopped   metric.Int64Counter
	TasksFailed    metric.Int64Counter
	TaskDuration   metric.Float64Histogram
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.TasksStarted, err = meter.Int64Counter("taskforge.tasks.started",
		metric.WithDescription("Number of tasks started")); err != nil {
		return nil, err
	}
	if m.TasksCompleted, err = meter.Int64Counter("taskforge.tasks.completed",
		metric.WithDescription("Number of tasks that ran to completion")); err != nil {
		return nil, err
	}
	if m.TasksStopped, err = meter.Int64Counter("taskforge.tasks.stopped",
		metric.WithDescription("Number of tasks stopped before completion")); err != nil {
		return nil, err
	}
	if m.TasksFailed, err = meter.Int64Counter("taskforge.tasks.failed",
		metric.WithDescription("Number of tasks that failed")); err != nil {
		return nil, err
	}
	if m.TaskDuration, err = meter.Float64Histogram("taskforge.task.duration_seconds",
		metric.WithDescription("Task duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

// Started records a task start. A nil receiver records nothing.
func (m *Metrics) Started(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.TasksStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("task.kind", kind)))
}

// Finished records the outcome and duration of a task.
func (m *Metrics) Finished(ctx context.Context, kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("task.kind", kind))
	switch status {
	case "completed":
		m.TasksCompleted.Add(ctx, 1, attrs)
	case "stopped":
		m.TasksStopped.Add(ctx, 1, attrs)
	default:
		m.TasksFailed.Add(ctx, 1, attrs)
	}
	m.TaskDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("task.kind", kind), attribute.String("task.status", status)))
}
