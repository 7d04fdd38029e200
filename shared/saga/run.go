package saga

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agrifood/contract-system/shared/models"
)

// Run is the private execution context of one saga invocation.
//
// A Run is created per transaction and executed at most once. The forward
// and compensation passes are driven by the Orchestrator on a single
// goroutine; the accessors may be called concurrently from other goroutines.
type Run struct {
	id    models.ID
	name  string
	steps []Step

	mu                   sync.RWMutex
	status               Status
	executed             []int
	failure              *StepError
	compensationFailures []CompensationFailure
	compensated          []string
	history              []Status
	startedAt            time.Time
	finishedAt           time.Time
	claimed              bool
}

// NewRun creates a run in the started state. A copy of steps is kept, so the
// caller may reuse its slice.
func NewRun(id models.ID, name string, steps ...Step) *Run {
	if id == "" {
		id = models.GenerateUUID()
	}
	owned := make([]Step, len(steps))
	copy(owned, steps)

	return &Run{
		id:      id,
		name:    name,
		steps:   owned,
		status:  StatusStarted,
		history: []Status{StatusStarted},
	}
}

// ID returns the saga identifier
func (r *Run) ID() models.ID {
	return r.id
}

// Name returns the saga name used for observability
func (r *Run) Name() string {
	return r.name
}

// Status returns the current lifecycle status
func (r *Run) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// History returns every status the run has passed through, in order
func (r *Run) History() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, len(r.history))
	copy(out, r.history)
	return out
}

// ExecutedSteps returns the names of the steps whose Execute succeeded
func (r *Run) ExecutedSteps() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.executed))
	for i, idx := range r.executed {
		names[i] = r.steps[idx].Name()
	}
	return names
}

// CompensatedSteps returns the names of the steps compensated without error,
// in compensation order.
func (r *Run) CompensatedSteps() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.compensated))
	copy(out, r.compensated)
	return out
}

// Failure returns the forward-pass failure, or nil
func (r *Run) Failure() *StepError {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failure
}

// CompensationFailures returns the compensations that did not complete
func (r *Run) CompensationFailures() []CompensationFailure {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CompensationFailure, len(r.compensationFailures))
	copy(out, r.compensationFailures)
	return out
}

// Succeeded reports whether the run reached completed
func (r *Run) Succeeded() bool {
	return r.Status() == StatusCompleted
}

// RequiresIntervention reports whether a rollback left side effects behind
func (r *Run) RequiresIntervention() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.compensationFailures) > 0
}

// Outcome classifies the run for reporting
func (r *Run) Outcome() Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch {
	case !r.status.IsTerminal():
		return OutcomePending
	case r.status == StatusCompleted:
		return OutcomeCompleted
	case len(r.compensationFailures) > 0:
		return OutcomeNeedsIntervention
	default:
		return OutcomeRolledBack
	}
}

// Duration returns the wall time between the start of the forward pass and
// the terminal status. Zero until the run has finished.
func (r *Run) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.finishedAt.IsZero() {
		return 0
	}
	return r.finishedAt.Sub(r.startedAt)
}

// Err returns nil for a completed run, otherwise the forward failure joined
// with every compensation failure.
func (r *Run) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.failure == nil && len(r.compensationFailures) == 0 {
		return nil
	}

	errs := make([]error, 0, len(r.compensationFailures)+1)
	if r.failure != nil {
		errs = append(errs, r.failure)
	}
	for _, f := range r.compensationFailures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

func (r *Run) String() string {
	return fmt.Sprintf("saga %s (%s): %s", r.name, r.id, r.Status())
}

// claim marks the run as taken by an Execute call. It returns false if the
// run was already claimed.
func (r *Run) claim() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed {
		return false
	}
	r.claimed = true
	r.startedAt = time.Now()
	return true
}

// transition moves the run to next if the edge is allowed. Disallowed edges
// are ignored, which keeps the status monotonic.
func (r *Run) transition(next Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.status.CanTransitionTo(next) {
		return false
	}
	r.status = next
	r.history = append(r.history, next)
	if next.IsTerminal() {
		r.finishedAt = time.Now()
	}
	return true
}

func (r *Run) resetExecuted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executed = r.executed[:0]
}

func (r *Run) markExecuted(index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executed = append(r.executed, index)
}

// executedSnapshot returns the executed indexes as of the end of the
// forward pass.
func (r *Run) executedSnapshot() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, len(r.executed))
	copy(out, r.executed)
	return out
}

func (r *Run) recordFailure(failure *StepError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failure = failure
}

func (r *Run) recordCompensated(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compensated = append(r.compensated, name)
}

func (r *Run) recordCompensationFailure(failure CompensationFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compensationFailures = append(r.compensationFailures, failure)
}
