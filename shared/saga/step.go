package saga

import (
	"context"
)

// Step is one reversible unit of work within a saga.
//
// Execute returns nil on success. An expected refusal (validation rejected,
// resource unavailable) should be returned as Decline(...); any other error
// is treated as a fault. Both end the forward pass and trigger compensation.
//
// Compensate is only ever called after a successful Execute in the same run,
// at most once. It must still check its own state before acting, because
// Execute may have taken a branch without side effects.
//
// Name is used for logs and metrics only.
type Step interface {
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
	Name() string
}

// StepFunc is the function shape of a forward or compensating action
type StepFunc func(ctx context.Context) error

type funcStep struct {
	name       string
	execute    StepFunc
	compensate StepFunc
}

// NewStep builds a Step from plain functions. A nil compensate makes the
// compensation a no-op.
func NewStep(name string, execute StepFunc, compensate StepFunc) Step {
	return &funcStep{
		name:       name,
		execute:    execute,
		compensate: compensate,
	}
}

func (s *funcStep) Execute(ctx context.Context) error {
	if s.execute == nil {
		return nil
	}
	return s.execute(ctx)
}

func (s *funcStep) Compensate(ctx context.Context) error {
	if s.compensate == nil {
		return nil
	}
	return s.compensate(ctx)
}

func (s *funcStep) Name() string {
	return s.name
}
