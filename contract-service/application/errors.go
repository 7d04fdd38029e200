package application

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/agrifood/contract-system/shared/models"
	"github.com/agrifood/contract-system/shared/saga"
)

var (
	// ErrSagaRolledBack means every side effect was undone; the request is
	// safe to retry.
	ErrSagaRolledBack = errors.New("contract creation rolled back")
	// ErrManualInterventionRequired means at least one compensation failed
	// and some side effects may still be in place.
	ErrManualInterventionRequired = errors.New("contract creation requires manual intervention")
)

// SagaFailure describes a creation saga that did not complete. It matches
// ErrSagaRolledBack or ErrManualInterventionRequired with errors.Is, as well
// as any error returned by the failed step.
type SagaFailure struct {
	SagaID models.ID
	// ContractID is the stream the saga history was appended to, even when
	// no contract record survived the rollback.
	ContractID models.ID
	Status     saga.Status
	Outcome    saga.Outcome
	FailedStep string
	// Declined is true when the failed step rejected the request rather
	// than faulting.
	Declined bool
	Err      error

	kind error
}

func newSagaFailure(run *saga.Run, contractID models.ID) *SagaFailure {
	failure := &SagaFailure{
		SagaID:     run.ID(),
		ContractID: contractID,
		Status:     run.Status(),
		Outcome:    run.Outcome(),
		Err:        run.Err(),
		kind:       ErrSagaRolledBack,
	}
	if run.RequiresIntervention() {
		failure.kind = ErrManualInterventionRequired
	}
	if stepErr := run.Failure(); stepErr != nil {
		failure.FailedStep = stepErr.StepName
		failure.Declined = saga.IsDeclined(stepErr)
	}
	return failure
}

// escalate records that a side effect could not be undone outside the run
func (e *SagaFailure) escalate(err error) {
	e.kind = ErrManualInterventionRequired
	e.Outcome = saga.OutcomeNeedsIntervention
	if e.Err == nil {
		e.Err = err
		return
	}
	e.Err = fmt.Errorf("%w; %w", e.Err, err)
}

// RequiresIntervention reports whether side effects may still be in place
func (e *SagaFailure) RequiresIntervention() bool {
	return errors.Is(e.kind, ErrManualInterventionRequired)
}

func (e *SagaFailure) Error() string {
	return fmt.Sprintf("%v: saga %s ended %s at step %q: %v", e.kind, e.SagaID, e.Status, e.FailedStep, e.Err)
}

func (e *SagaFailure) Unwrap() []error {
	return []error{e.kind, e.Err}
}
