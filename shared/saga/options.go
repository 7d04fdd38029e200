package saga

import (
	"time"
)

// EscalationPolicy decides, once compensation has been attempted for every
// executed step, whether the run ends in failed instead of compensated.
type EscalationPolicy func(failures []CompensationFailure) bool

// EscalateOnCompensationFailure ends a run in failed when any compensation
// did not complete.
func EscalateOnCompensationFailure(failures []CompensationFailure) bool {
	return len(failures) > 0
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithObserver sets the observer notified of every transition
func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithStepTimeout bounds every Execute call. Zero disables the deadline.
func WithStepTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		o.stepTimeout = timeout
	}
}

// WithCompensationTimeout bounds every Compensate call. Zero disables the
// deadline.
func WithCompensationTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		o.compensationTimeout = timeout
	}
}

// WithEscalationPolicy sets the policy that may turn a finished
// compensation into failed.
func WithEscalationPolicy(policy EscalationPolicy) Option {
	return func(o *Orchestrator) {
		o.escalate = policy
	}
}
