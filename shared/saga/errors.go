package saga

import (
	"errors"
	"fmt"
)

var (
	ErrStepFailed         = errors.New("saga step failed")
	ErrStepTimeout        = errors.New("saga step deadline exceeded")
	ErrCompensationFailed = errors.New("saga compensation failed")
	ErrNilStep            = errors.New("saga step is nil")
)

// DeclinedError is the expected, recoverable refusal of a step
type DeclinedError struct {
	Reason string
	Err    error
}

func (e *DeclinedError) Error() string {
	return "step declined: " + e.Reason
}

func (e *DeclinedError) Unwrap() error {
	return e.Err
}

// Decline returns the error a step uses to report an ordinary failure
func Decline(format string, args ...any) error {
	return &DeclinedError{Reason: fmt.Sprintf(format, args...)}
}

// DeclineWith marks err as an ordinary failure, keeping it in the chain
func DeclineWith(err error) error {
	if err == nil {
		return nil
	}
	return &DeclinedError{Reason: err.Error(), Err: err}
}

// IsDeclined reports whether err is (or wraps) a DeclinedError
func IsDeclined(err error) bool {
	var declined *DeclinedError
	return errors.As(err, &declined)
}

// PanicError carries a panic recovered from a step
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("step panicked: %v", e.Value)
}

// StepError ties a forward failure to the step that produced it
type StepError struct {
	StepName string
	Index    int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q (#%d): %v", e.StepName, e.Index, e.Err)
}

func (e *StepError) Unwrap() []error {
	return []error{ErrStepFailed, e.Err}
}

// CompensationFailure records one compensation that did not complete
type CompensationFailure struct {
	StepName string
	Index    int
	Err      error
}

func (f CompensationFailure) Error() string {
	return fmt.Sprintf("compensation of step %q (#%d): %v", f.StepName, f.Index, f.Err)
}

func (f CompensationFailure) Unwrap() []error {
	return []error{ErrCompensationFailed, f.Err}
}
