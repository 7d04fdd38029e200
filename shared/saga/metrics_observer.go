package saga

import (
	"context"
	"time"

	"github.com/agrifood/contract-system/shared/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MetricsObserver records saga activity as OpenTelemetry metrics and span
// events through the shared telemetry package.
type MetricsObserver struct {
	NoopObserver
}

// NewMetricsObserver creates a new MetricsObserver
func NewMetricsObserver() Observer {
	return &MetricsObserver{}
}

func (m *MetricsObserver) OnSagaStarted(ctx context.Context, run *Run) {
	telemetry.RecordCounter(ctx, "saga_runs_started_total", "Total saga runs started", 1,
		attribute.String("saga", run.Name()),
	)
}

func (m *MetricsObserver) OnStepSucceeded(ctx context.Context, run *Run, step string, index int, d time.Duration) {
	m.recordStep(ctx, run, step, "succeeded", d)
}

func (m *MetricsObserver) OnStepFailed(ctx context.Context, run *Run, step string, index int, err error, d time.Duration) {
	result := "faulted"
	if IsDeclined(err) {
		result = "declined"
	}
	m.recordStep(ctx, run, step, result, d)

	trace.SpanFromContext(ctx).AddEvent("saga_step_failed", trace.WithAttributes(
		attribute.String("saga_id", run.ID().String()),
		attribute.String("step", step),
		attribute.String("error", err.Error()),
	))
}

func (m *MetricsObserver) OnStepCompensated(ctx context.Context, run *Run, step string, index int, d time.Duration) {
	telemetry.RecordCounter(ctx, "saga_compensations_total", "Total saga step compensations", 1,
		attribute.String("saga", run.Name()),
		attribute.String("step", step),
		attribute.String("result", "succeeded"),
	)
}

func (m *MetricsObserver) OnCompensationFailed(ctx context.Context, run *Run, step string, index int, err error, d time.Duration) {
	telemetry.RecordCounter(ctx, "saga_compensations_total", "Total saga step compensations", 1,
		attribute.String("saga", run.Name()),
		attribute.String("step", step),
		attribute.String("result", "failed"),
	)

	trace.SpanFromContext(ctx).AddEvent("saga_compensation_failed", trace.WithAttributes(
		attribute.String("saga_id", run.ID().String()),
		attribute.String("step", step),
		attribute.String("error", err.Error()),
	))
}

func (m *MetricsObserver) OnSagaFinished(ctx context.Context, run *Run, status Status) {
	telemetry.RecordCounter(ctx, "saga_runs_finished_total", "Total saga runs finished", 1,
		attribute.String("saga", run.Name()),
		attribute.String("status", status.String()),
		attribute.String("outcome", string(run.Outcome())),
	)
	telemetry.RecordHistogram(ctx, "saga_run_duration_seconds", "Saga run duration", run.Duration().Seconds(),
		attribute.String("saga", run.Name()),
		attribute.String("status", status.String()),
	)
}

func (m *MetricsObserver) recordStep(ctx context.Context, run *Run, step, result string, d time.Duration) {
	telemetry.RecordCounter(ctx, "saga_steps_total", "Total saga steps executed", 1,
		attribute.String("saga", run.Name()),
		attribute.String("step", step),
		attribute.String("result", result),
	)
	telemetry.RecordHistogram(ctx, "saga_step_duration_seconds", "Saga step duration", d.Seconds(),
		attribute.String("saga", run.Name()),
		attribute.String("step", step),
	)
}
