package saga

// Status represents the lifecycle state of a saga run
type Status string

const (
	StatusStarted      Status = "started"
	StatusInProgress   Status = "in_progress"
	StatusCompleted    Status = "completed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
	StatusFailed       Status = "failed"
)

// transitions lists the only edges a run may take.
var transitions = map[Status][]Status{
	StatusStarted:      {StatusInProgress},
	StatusInProgress:   {StatusCompleted, StatusCompensating},
	StatusCompensating: {StatusCompensated, StatusFailed},
}

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompensated, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo checks if the status can move to next
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsValid checks if the status is one of the known values
func (s Status) IsValid() bool {
	switch s {
	case StatusStarted, StatusInProgress, StatusCompleted,
		StatusCompensating, StatusCompensated, StatusFailed:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// Outcome classifies a finished run for the caller's reporting layer
type Outcome string

const (
	// OutcomePending means the run has not reached a terminal status yet
	OutcomePending Outcome = "pending"
	// OutcomeCompleted means every step succeeded
	OutcomeCompleted Outcome = "completed"
	// OutcomeRolledBack means every executed step was compensated cleanly;
	// the whole saga is safe to retry.
	OutcomeRolledBack Outcome = "rolled_back"
	// OutcomeNeedsIntervention means at least one compensation failed and
	// some side effects may still be in place.
	OutcomeNeedsIntervention Outcome = "needs_intervention"
)
