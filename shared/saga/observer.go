package saga

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives every lifecycle event of a saga run, for logging,
// metrics and alerting.
//
// Callbacks run synchronously on the goroutine executing the saga, so
// implementations should be fast. A panicking callback is recovered and
// logged; it never changes the run's result.
type Observer interface {
	// OnSagaStarted is called once, before the first step.
	OnSagaStarted(ctx context.Context, run *Run)

	// OnStepStarted is called before a step's Execute.
	OnStepStarted(ctx context.Context, run *Run, step string, index int)

	// OnStepSucceeded is called after a step's Execute returned nil.
	OnStepSucceeded(ctx context.Context, run *Run, step string, index int, d time.Duration)

	// OnStepFailed is called when a step declined, faulted or timed out.
	OnStepFailed(ctx context.Context, run *Run, step string, index int, err error, d time.Duration)

	// OnCompensationStarted is called when the run enters compensating.
	// pending is the number of steps that will be compensated.
	OnCompensationStarted(ctx context.Context, run *Run, pending int)

	// OnStepCompensated is called after a step's Compensate returned nil.
	OnStepCompensated(ctx context.Context, run *Run, step string, index int, d time.Duration)

	// OnCompensationFailed is called when a step's Compensate did not
	// complete. This is the signal operators alert on.
	OnCompensationFailed(ctx context.Context, run *Run, step string, index int, err error, d time.Duration)

	// OnSagaFinished is called once with the terminal status.
	OnSagaFinished(ctx context.Context, run *Run, status Status)
}

// NoopObserver is an Observer that does nothing
type NoopObserver struct{}

func (NoopObserver) OnSagaStarted(ctx context.Context, run *Run)                         {}
func (NoopObserver) OnStepStarted(ctx context.Context, run *Run, step string, index int) {}
func (NoopObserver) OnCompensationStarted(ctx context.Context, run *Run, pending int)    {}
func (NoopObserver) OnSagaFinished(ctx context.Context, run *Run, status Status)         {}
func (NoopObserver) OnStepSucceeded(ctx context.Context, run *Run, step string, index int, d time.Duration) {
}
func (NoopObserver) OnStepFailed(ctx context.Context, run *Run, step string, index int, err error, d time.Duration) {
}
func (NoopObserver) OnStepCompensated(ctx context.Context, run *Run, step string, index int, d time.Duration) {
}
func (NoopObserver) OnCompensationFailed(ctx context.Context, run *Run, step string, index int, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer forwarding to each non-nil
// observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnSagaStarted(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnSagaStarted(ctx, run)
	}
}

func (c *CompositeObserver) OnStepStarted(ctx context.Context, run *Run, step string, index int) {
	for _, o := range c.observers {
		o.OnStepStarted(ctx, run, step, index)
	}
}

func (c *CompositeObserver) OnStepSucceeded(ctx context.Context, run *Run, step string, index int, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepSucceeded(ctx, run, step, index, d)
	}
}

func (c *CompositeObserver) OnStepFailed(ctx context.Context, run *Run, step string, index int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepFailed(ctx, run, step, index, err, d)
	}
}

func (c *CompositeObserver) OnCompensationStarted(ctx context.Context, run *Run, pending int) {
	for _, o := range c.observers {
		o.OnCompensationStarted(ctx, run, pending)
	}
}

func (c *CompositeObserver) OnStepCompensated(ctx context.Context, run *Run, step string, index int, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompensated(ctx, run, step, index, d)
	}
}

func (c *CompositeObserver) OnCompensationFailed(ctx context.Context, run *Run, step string, index int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnCompensationFailed(ctx, run, step, index, err, d)
	}
}

func (c *CompositeObserver) OnSagaFinished(ctx context.Context, run *Run, status Status) {
	for _, o := range c.observers {
		o.OnSagaFinished(ctx, run, status)
	}
}

// LoggingObserver writes structured logs using log/slog
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer logging every transition. If
// logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnSagaStarted(ctx context.Context, run *Run) {
	o.Logger.InfoContext(ctx, "saga_started",
		slog.String("saga", run.Name()),
		slog.String("saga_id", run.ID().String()),
	)
}

func (o *LoggingObserver) OnStepStarted(ctx context.Context, run *Run, step string, index int) {
	o.Logger.DebugContext(ctx, "saga_step_started",
		slog.String("saga", run.Name()),
		slog.String("saga_id", run.ID().String()),
		slog.String("step", step),
		slog.Int("step_index", index),
	)
}

func (o *LoggingObserver) OnStepSucceeded(ctx context.Context, run *Run, step string, index int, d time.Duration) {
	o.Logger.InfoContext(ctx, "saga_step_succeeded",
		slog.String("saga", run.Name()),
		slog.String("saga_id", run.ID().String()),
		slog.String("step", step),
		slog.Int("step_index", index),
		slog.Duration("duration", d),
	)
}

func (o *LoggingObserver) OnStepFailed(ctx context.Context, run *Run, step string, index int, err error, d time.Duration) {
	o.Logger.WarnContext(ctx, "saga_step_failed",
		slog.String("saga", run.Name()),
		slog.String("saga_id", run.ID().String()),
		slog.String("step", step),
		slog.Int("step_index", index),
		slog.Bool("declined", IsDeclined(err)),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnCompensationStarted(ctx context.Context, run *Run, pending int) {
	o.Logger.InfoContext(ctx, "saga_compensation_started",
		slog.String("saga", run.Name()),
		slog.String("saga_id", run.ID().String()),
		slog.Int("pending", pending),
	)
}

func (o *LoggingObserver) OnStepCompensated(ctx context.Context, run *Run, step string, index int, d time.Duration) {
	o.Logger.InfoContext(ctx, "saga_step_compensated",
		slog.String("saga", run.Name()),
		slog.String("saga_id", run.ID().String()),
		slog.String("step", step),
		slog.Int("step_index", index),
		slog.Duration("duration", d),
	)
}

func (o *LoggingObserver) OnCompensationFailed(ctx context.Context, run *Run, step string, index int, err error, d time.Duration) {
	o.Logger.ErrorContext(ctx, "saga_compensation_failed",
		slog.String("saga", run.Name()),
		slog.String("saga_id", run.ID().String()),
		slog.String("step", step),
		slog.Int("step_index", index),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnSagaFinished(ctx context.Context, run *Run, status Status) {
	level := slog.LevelInfo
	switch {
	case status == StatusFailed:
		level = slog.LevelError
	case status != StatusCompleted:
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "saga_finished",
		slog.String("saga", run.Name()),
		slog.String("saga_id", run.ID().String()),
		slog.String("status", status.String()),
		slog.Int("compensation_failures", len(run.CompensationFailures())),
	)
}

// BasicMetrics keeps in-process counters of saga activity. It implements
// Observer and can be combined with other observers via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	started              atomic.Int64
	completed            atomic.Int64
	compensated          atomic.Int64
	failed               atomic.Int64
	stepsFailed          atomic.Int64
	stepsCompensated     atomic.Int64
	compensationFailures atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics
type BasicMetricsSnapshot struct {
	Started              int64
	Completed            int64
	Compensated          int64
	Failed               int64
	InFlight             int64
	StepsFailed          int64
	StepsCompensated     int64
	CompensationFailures int64
}

func (m *BasicMetrics) OnSagaStarted(ctx context.Context, run *Run) {
	m.started.Add(1)
}

func (m *BasicMetrics) OnStepFailed(ctx context.Context, run *Run, step string, index int, err error, d time.Duration) {
	m.stepsFailed.Add(1)
}

func (m *BasicMetrics) OnStepCompensated(ctx context.Context, run *Run, step string, index int, d time.Duration) {
	m.stepsCompensated.Add(1)
}

func (m *BasicMetrics) OnCompensationFailed(ctx context.Context, run *Run, step string, index int, err error, d time.Duration) {
	m.compensationFailures.Add(1)
}

func (m *BasicMetrics) OnSagaFinished(ctx context.Context, run *Run, status Status) {
	switch status {
	case StatusCompleted:
		m.completed.Add(1)
	case StatusCompensated:
		m.compensated.Add(1)
	case StatusFailed:
		m.failed.Add(1)
	}
}

// Snapshot returns the current counters
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.started.Load()
	completed := m.completed.Load()
	compensated := m.compensated.Load()
	failed := m.failed.Load()

	return BasicMetricsSnapshot{
		Started:              started,
		Completed:            completed,
		Compensated:          compensated,
		Failed:               failed,
		InFlight:             started - completed - compensated - failed,
		StepsFailed:          m.stepsFailed.Load(),
		StepsCompensated:     m.stepsCompensated.Load(),
		CompensationFailures: m.compensationFailures.Load(),
	}
}

// guardedObserver keeps a panicking observer from escaping the orchestrator.
// A recovered panic is logged and the run continues.
type guardedObserver struct {
	next Observer
}

func guardObserver(observer Observer) Observer {
	switch observer.(type) {
	case NoopObserver, *guardedObserver:
		return observer
	}
	return &guardedObserver{next: observer}
}

func (g *guardedObserver) recover(ctx context.Context, run *Run, callback string) {
	if r := recover(); r != nil {
		slog.Default().ErrorContext(ctx, "saga_observer_panic",
			"saga_id", run.ID().String(),
			"saga_name", run.Name(),
			"callback", callback,
			"panic", r,
		)
	}
}

func (g *guardedObserver) OnSagaStarted(ctx context.Context, run *Run) {
	defer g.recover(ctx, run, "OnSagaStarted")
	g.next.OnSagaStarted(ctx, run)
}

func (g *guardedObserver) OnStepStarted(ctx context.Context, run *Run, step string, index int) {
	defer g.recover(ctx, run, "OnStepStarted")
	g.next.OnStepStarted(ctx, run, step, index)
}

func (g *guardedObserver) OnStepSucceeded(ctx context.Context, run *Run, step string, index int, d time.Duration) {
	defer g.recover(ctx, run, "OnStepSucceeded")
	g.next.OnStepSucceeded(ctx, run, step, index, d)
}

func (g *guardedObserver) OnStepFailed(ctx context.Context, run *Run, step string, index int, err error, d time.Duration) {
	defer g.recover(ctx, run, "OnStepFailed")
	g.next.OnStepFailed(ctx, run, step, index, err, d)
}

func (g *guardedObserver) OnCompensationStarted(ctx context.Context, run *Run, pending int) {
	defer g.recover(ctx, run, "OnCompensationStarted")
	g.next.OnCompensationStarted(ctx, run, pending)
}

func (g *guardedObserver) OnStepCompensated(ctx context.Context, run *Run, step string, index int, d time.Duration) {
	defer g.recover(ctx, run, "OnStepCompensated")
	g.next.OnStepCompensated(ctx, run, step, index, d)
}

func (g *guardedObserver) OnCompensationFailed(ctx context.Context, run *Run, step string, index int, err error, d time.Duration) {
	defer g.recover(ctx, run, "OnCompensationFailed")
	g.next.OnCompensationFailed(ctx, run, step, index, err, d)
}

func (g *guardedObserver) OnSagaFinished(ctx context.Context, run *Run, status Status) {
	defer g.recover(ctx, run, "OnSagaFinished")
	g.next.OnSagaFinished(ctx, run, status)
}
