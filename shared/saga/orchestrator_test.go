package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// callLog records step calls across a run in the order they happen.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) compensations() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, c := range l.calls {
		if len(c) > len("compensate:") && c[:len("compensate:")] == "compensate:" {
			out = append(out, c[len("compensate:"):])
		}
	}
	return out
}

type recordingStep struct {
	name          string
	log           *callLog
	executeErr    error
	compensateErr error
	panicOn       string
	executed      int
	compensated   int
}

func (s *recordingStep) Execute(ctx context.Context) error {
	s.executed++
	s.log.add("execute:" + s.name)
	if s.panicOn == "execute" {
		panic("boom")
	}
	return s.executeErr
}

func (s *recordingStep) Compensate(ctx context.Context) error {
	s.compensated++
	s.log.add("compensate:" + s.name)
	if s.panicOn == "compensate" {
		panic("boom")
	}
	return s.compensateErr
}

func (s *recordingStep) Name() string {
	return s.name
}

func newSteps(log *callLog, names ...string) []*recordingStep {
	steps := make([]*recordingStep, len(names))
	for i, n := range names {
		steps[i] = &recordingStep{name: n, log: log}
	}
	return steps
}

func asSteps(steps []*recordingStep) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = s
	}
	return out
}

func TestOrchestrator_Execute(t *testing.T) {
	declined := Decline("validation rejected")
	ioErr := errors.New("connection reset")

	tests := []struct {
		name                  string
		setup                 func(steps []*recordingStep)
		expectedResult        bool
		expectedStatus        Status
		expectedCompensations []string
		expectedExecuted      []string
		expectedOutcome       Outcome
		expectedHistory       []Status
	}{
		{
			name:             "all steps succeed",
			setup:            func(steps []*recordingStep) {},
			expectedResult:   true,
			expectedStatus:   StatusCompleted,
			expectedExecuted: []string{"validate", "reserve", "create", "notify"},
			expectedOutcome:  OutcomeCompleted,
			expectedHistory:  []Status{StatusStarted, StatusInProgress, StatusCompleted},
		},
		{
			name: "first step declines",
			setup: func(steps []*recordingStep) {
				steps[0].executeErr = declined
			},
			expectedResult:   false,
			expectedStatus:   StatusCompensated,
			expectedExecuted: []string{},
			expectedOutcome:  OutcomeRolledBack,
			expectedHistory:  []Status{StatusStarted, StatusInProgress, StatusCompensating, StatusCompensated},
		},
		{
			name: "third step fails",
			setup: func(steps []*recordingStep) {
				steps[2].executeErr = ioErr
			},
			expectedResult:        false,
			expectedStatus:        StatusCompensated,
			expectedCompensations: []string{"reserve", "validate"},
			expectedExecuted:      []string{"validate", "reserve"},
			expectedOutcome:       OutcomeRolledBack,
			expectedHistory:       []Status{StatusStarted, StatusInProgress, StatusCompensating, StatusCompensated},
		},
		{
			name: "last step fails",
			setup: func(steps []*recordingStep) {
				steps[3].executeErr = declined
			},
			expectedResult:        false,
			expectedStatus:        StatusCompensated,
			expectedCompensations: []string{"create", "reserve", "validate"},
			expectedExecuted:      []string{"validate", "reserve", "create"},
			expectedOutcome:       OutcomeRolledBack,
			expectedHistory:       []Status{StatusStarted, StatusInProgress, StatusCompensating, StatusCompensated},
		},
		{
			name: "compensation failure does not stop the unwind",
			setup: func(steps []*recordingStep) {
				steps[3].executeErr = declined
				steps[2].compensateErr = errors.New("database down")
			},
			expectedResult:        false,
			expectedStatus:        StatusCompensated,
			expectedCompensations: []string{"create", "reserve", "validate"},
			expectedExecuted:      []string{"validate", "reserve", "create"},
			expectedOutcome:       OutcomeNeedsIntervention,
			expectedHistory:       []Status{StatusStarted, StatusInProgress, StatusCompensating, StatusCompensated},
		},
		{
			name: "panicking step is a fault",
			setup: func(steps []*recordingStep) {
				steps[1].panicOn = "execute"
			},
			expectedResult:        false,
			expectedStatus:        StatusCompensated,
			expectedCompensations: []string{"validate"},
			expectedExecuted:      []string{"validate"},
			expectedOutcome:       OutcomeRolledBack,
			expectedHistory:       []Status{StatusStarted, StatusInProgress, StatusCompensating, StatusCompensated},
		},
		{
			name: "panicking compensation is recorded and skipped",
			setup: func(steps []*recordingStep) {
				steps[2].executeErr = declined
				steps[1].panicOn = "compensate"
			},
			expectedResult:        false,
			expectedStatus:        StatusCompensated,
			expectedCompensations: []string{"reserve", "validate"},
			expectedExecuted:      []string{"validate", "reserve"},
			expectedOutcome:       OutcomeNeedsIntervention,
			expectedHistory:       []Status{StatusStarted, StatusInProgress, StatusCompensating, StatusCompensated},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &callLog{}
			steps := newSteps(log, "validate", "reserve", "create", "notify")
			tt.setup(steps)

			orchestrator := NewOrchestrator()
			run := NewRun("", "contract-creation", asSteps(steps)...)

			result := orchestrator.Execute(context.Background(), run)

			assert.Equal(t, tt.expectedResult, result)
			assert.Equal(t, tt.expectedStatus, run.Status())
			assert.Equal(t, tt.expectedCompensations, log.compensations())
			assert.Equal(t, tt.expectedExecuted, run.ExecutedSteps())
			assert.Equal(t, tt.expectedOutcome, run.Outcome())
			assert.Equal(t, tt.expectedHistory, run.History())

			for _, s := range steps {
				assert.LessOrEqual(t, s.executed, 1, "step %s executed more than once", s.name)
				assert.LessOrEqual(t, s.compensated, 1, "step %s compensated more than once", s.name)
			}
		})
	}
}

func TestOrchestrator_FailingStepIsNeverCompensated(t *testing.T) {
	log := &callLog{}
	steps := newSteps(log, "validate", "reserve", "create", "notify")
	steps[3].executeErr = Decline("notification channel unavailable")

	_, ok := NewOrchestrator().Run(context.Background(), "contract-creation", asSteps(steps)...)

	assert.False(t, ok)
	assert.Equal(t, 0, steps[3].compensated)
	assert.Equal(t, []string{
		"execute:validate", "execute:reserve", "execute:create", "execute:notify",
		"compensate:create", "compensate:reserve", "compensate:validate",
	}, log.calls)
}

func TestOrchestrator_EmptyStepList(t *testing.T) {
	run, ok := NewOrchestrator().Run(context.Background(), "empty")

	assert.True(t, ok)
	assert.Equal(t, StatusCompleted, run.Status())
	assert.Empty(t, run.ExecutedSteps())
	assert.NoError(t, run.Err())
}

func TestOrchestrator_ErrorsAreClassified(t *testing.T) {
	log := &callLog{}
	steps := newSteps(log, "validate", "reserve", "create")
	steps[2].executeErr = Decline("amount must be positive")
	steps[1].compensateErr = errors.New("capacity service unavailable")

	run, ok := NewOrchestrator().Run(context.Background(), "contract-creation", asSteps(steps)...)
	require.False(t, ok)

	err := run.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepFailed)
	assert.ErrorIs(t, err, ErrCompensationFailed)
	assert.True(t, IsDeclined(err))

	failure := run.Failure()
	require.NotNil(t, failure)
	assert.Equal(t, "create", failure.StepName)
	assert.Equal(t, 2, failure.Index)

	failures := run.CompensationFailures()
	require.Len(t, failures, 1)
	assert.Equal(t, "reserve", failures[0].StepName)
	assert.Equal(t, 1, failures[0].Index)
	assert.True(t, run.RequiresIntervention())
	assert.Equal(t, []string{"validate"}, run.CompensatedSteps())
}

func TestOrchestrator_EscalationPolicy(t *testing.T) {
	t.Run("escalates when a compensation fails", func(t *testing.T) {
		log := &callLog{}
		steps := newSteps(log, "reserve", "create")
		steps[1].executeErr = Decline("duplicate contract number")
		steps[0].compensateErr = errors.New("release failed")

		orchestrator := NewOrchestrator(WithEscalationPolicy(EscalateOnCompensationFailure))
		run, ok := orchestrator.Run(context.Background(), "contract-creation", asSteps(steps)...)

		assert.False(t, ok)
		assert.Equal(t, StatusFailed, run.Status())
		assert.Equal(t, OutcomeNeedsIntervention, run.Outcome())
		assert.Equal(t, []Status{StatusStarted, StatusInProgress, StatusCompensating, StatusFailed}, run.History())
	})

	t.Run("clean rollback stays compensated", func(t *testing.T) {
		log := &callLog{}
		steps := newSteps(log, "reserve", "create")
		steps[1].executeErr = Decline("duplicate contract number")

		orchestrator := NewOrchestrator(WithEscalationPolicy(EscalateOnCompensationFailure))
		run, ok := orchestrator.Run(context.Background(), "contract-creation", asSteps(steps)...)

		assert.False(t, ok)
		assert.Equal(t, StatusCompensated, run.Status())
	})
}

func TestOrchestrator_StepTimeout(t *testing.T) {
	log := &callLog{}
	var compensated bool

	blocking := NewStep("notify", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	}, nil)
	create := NewStep("create", func(ctx context.Context) error {
		log.add("execute:create")
		return nil
	}, func(ctx context.Context) error {
		compensated = true
		return nil
	})

	orchestrator := NewOrchestrator(WithStepTimeout(20 * time.Millisecond))
	run, ok := orchestrator.Run(context.Background(), "contract-creation", create, blocking)

	assert.False(t, ok)
	assert.Equal(t, StatusCompensated, run.Status())
	assert.True(t, compensated)
	require.NotNil(t, run.Failure())
	assert.ErrorIs(t, run.Failure(), ErrStepTimeout)
}

func TestOrchestrator_CompensationTimeout(t *testing.T) {
	var validateCompensated bool

	validate := NewStep("validate", nil, func(ctx context.Context) error {
		validateCompensated = true
		return nil
	})
	reserve := NewStep("reserve", nil, func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})
	create := NewStep("create", func(ctx context.Context) error {
		return Decline("rejected")
	}, nil)

	orchestrator := NewOrchestrator(WithCompensationTimeout(20 * time.Millisecond))
	run, ok := orchestrator.Run(context.Background(), "contract-creation", validate, reserve, create)

	assert.False(t, ok)
	assert.Equal(t, StatusCompensated, run.Status())
	assert.True(t, validateCompensated)

	failures := run.CompensationFailures()
	require.Len(t, failures, 1)
	assert.Equal(t, "reserve", failures[0].StepName)
	assert.ErrorIs(t, failures[0], ErrStepTimeout)
}

func TestOrchestrator_CancelledContextStillCompensates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var compensationCtxErr error
	reserve := NewStep("reserve", func(ctx context.Context) error {
		cancel()
		return nil
	}, func(ctx context.Context) error {
		compensationCtxErr = ctx.Err()
		return nil
	})
	create := NewStep("create", func(ctx context.Context) error {
		t.Fatal("create must not run after cancellation")
		return nil
	}, nil)

	run, ok := NewOrchestrator().Run(ctx, "contract-creation", reserve, create)

	assert.False(t, ok)
	assert.Equal(t, StatusCompensated, run.Status())
	assert.NoError(t, compensationCtxErr)
	require.NotNil(t, run.Failure())
	assert.Equal(t, "create", run.Failure().StepName)
	assert.ErrorIs(t, run.Err(), context.Canceled)
}

func TestOrchestrator_NilStep(t *testing.T) {
	log := &callLog{}
	steps := newSteps(log, "validate")

	run, ok := NewOrchestrator().Run(context.Background(), "contract-creation", steps[0], nil)

	assert.False(t, ok)
	assert.Equal(t, StatusCompensated, run.Status())
	assert.ErrorIs(t, run.Err(), ErrNilStep)
	assert.Equal(t, []string{"validate"}, log.compensations())
}

func TestOrchestrator_RunExecutesOnce(t *testing.T) {
	log := &callLog{}
	steps := newSteps(log, "validate", "reserve")

	orchestrator := NewOrchestrator()
	run := NewRun("", "contract-creation", asSteps(steps)...)

	assert.True(t, orchestrator.Execute(context.Background(), run))
	assert.True(t, orchestrator.Execute(context.Background(), run))
	assert.Equal(t, 1, steps[0].executed)
	assert.Equal(t, 1, steps[1].executed)
	assert.False(t, orchestrator.Execute(context.Background(), nil))
}

func TestOrchestrator_ConcurrentRuns(t *testing.T) {
	orchestrator := NewOrchestrator()

	const runs = 50
	var wg sync.WaitGroup
	results := make([]*Run, runs)

	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			log := &callLog{}
			steps := newSteps(log, "validate", "reserve", "create")
			if i%2 == 1 {
				steps[2].executeErr = Decline("odd run")
			}
			results[i], _ = orchestrator.Run(context.Background(), "contract-creation", asSteps(steps)...)
		}(i)
	}
	wg.Wait()

	for i, run := range results {
		if i%2 == 1 {
			assert.Equal(t, StatusCompensated, run.Status())
			assert.Equal(t, []string{"validate", "reserve"}, run.ExecutedSteps())
		} else {
			assert.Equal(t, StatusCompleted, run.Status())
			assert.Equal(t, []string{"validate", "reserve", "create"}, run.ExecutedSteps())
		}
	}
}

func TestNewRun_CopiesSteps(t *testing.T) {
	log := &callLog{}
	steps := asSteps(newSteps(log, "validate", "reserve"))

	run := NewRun("saga-1", "contract-creation", steps...)
	steps[0] = nil

	assert.True(t, NewOrchestrator().Execute(context.Background(), run))
	assert.Equal(t, "saga-1", run.ID().String())
	assert.Equal(t, []string{"validate", "reserve"}, run.ExecutedSteps())
	assert.GreaterOrEqual(t, run.Duration(), time.Duration(0))
}
