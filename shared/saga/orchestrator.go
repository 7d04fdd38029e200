package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agrifood/contract-system/shared/models"
)

// Orchestrator drives saga runs. It holds configuration only, so a single
// instance can execute any number of runs concurrently.
type Orchestrator struct {
	observer            Observer
	stepTimeout         time.Duration
	compensationTimeout time.Duration
	escalate            EscalationPolicy
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		observer: NoopObserver{},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.observer = guardObserver(o.observer)
	return o
}

// Run creates a run for steps, executes it and returns it along with the
// outcome of Execute.
func (o *Orchestrator) Run(ctx context.Context, name string, steps ...Step) (*Run, bool) {
	run := NewRun(models.GenerateUUID(), name, steps...)
	return run, o.Execute(ctx, run)
}

// Execute drives run through its forward pass and, on the first failure,
// compensates the executed steps in reverse order.
//
// It returns true only when every step succeeded. Step errors, panics and
// deadlines never escape: the run is always left in a terminal status and
// the details are available from the run. A run is executed at most once;
// further calls return the recorded result without invoking any step.
func (o *Orchestrator) Execute(ctx context.Context, run *Run) bool {
	if run == nil {
		return false
	}
	if !run.claim() {
		return run.Succeeded()
	}

	o.observer.OnSagaStarted(ctx, run)
	run.transition(StatusInProgress)
	run.resetExecuted()

	for i, step := range run.steps {
		name := stepName(step)

		if err := ctx.Err(); err != nil {
			o.fail(ctx, run, name, i, err, 0)
			return false
		}

		o.observer.OnStepStarted(ctx, run, name, i)
		start := time.Now()

		var err error
		if step == nil {
			err = ErrNilStep
		} else {
			err = o.invoke(ctx, o.stepTimeout, step.Execute)
		}

		if err != nil {
			o.fail(ctx, run, name, i, err, time.Since(start))
			return false
		}

		run.markExecuted(i)
		o.observer.OnStepSucceeded(ctx, run, name, i, time.Since(start))
	}

	run.transition(StatusCompleted)
	o.observer.OnSagaFinished(ctx, run, StatusCompleted)
	return true
}

func (o *Orchestrator) fail(ctx context.Context, run *Run, name string, index int, err error, d time.Duration) {
	run.recordFailure(&StepError{StepName: name, Index: index, Err: err})
	o.observer.OnStepFailed(ctx, run, name, index, err, d)
	o.compensate(ctx, run)
}

// compensate undoes the executed steps, last first. Every executed step is
// visited exactly once whatever the earlier compensations returned.
func (o *Orchestrator) compensate(ctx context.Context, run *Run) {
	run.transition(StatusCompensating)

	executed := run.executedSnapshot()
	o.observer.OnCompensationStarted(ctx, run, len(executed))

	// Compensation must still be attempted when the caller's context is
	// already cancelled.
	compensationCtx := context.WithoutCancel(ctx)

	for i := len(executed) - 1; i >= 0; i-- {
		index := executed[i]
		step := run.steps[index]
		name := step.Name()

		start := time.Now()
		if err := o.invoke(compensationCtx, o.compensationTimeout, step.Compensate); err != nil {
			failure := CompensationFailure{StepName: name, Index: index, Err: err}
			run.recordCompensationFailure(failure)
			o.observer.OnCompensationFailed(ctx, run, name, index, err, time.Since(start))
			continue
		}

		run.recordCompensated(name)
		o.observer.OnStepCompensated(ctx, run, name, index, time.Since(start))
	}

	final := StatusCompensated
	if o.escalate != nil && o.escalate(run.CompensationFailures()) {
		final = StatusFailed
	}

	run.transition(final)
	o.observer.OnSagaFinished(ctx, run, final)
}

// invoke calls fn inside a fault boundary. With a positive timeout the call
// gets its own deadline and the orchestrator stops waiting once it elapses,
// even if fn ignores its context.
func (o *Orchestrator) invoke(ctx context.Context, timeout time.Duration, fn StepFunc) error {
	if timeout <= 0 {
		return safeCall(ctx, fn)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- safeCall(ctx, fn)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// A result that raced the deadline wins.
		select {
		case err := <-done:
			return err
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrStepTimeout, timeout)
		}
		return ctx.Err()
	}
}

func safeCall(ctx context.Context, fn StepFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn(ctx)
}

func stepName(step Step) string {
	if step == nil {
		return "<nil>"
	}
	return step.Name()
}
