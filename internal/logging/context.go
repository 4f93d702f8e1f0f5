package logging

import (
	"context"
	"time"
)

type stepLoggerKey struct{}

// WithLogger returns a copy of ctx carrying the run's step logger.
func WithLogger(ctx context.Context, steps StepLogger) context.Context {
	return context.WithValue(ctx, stepLoggerKey{}, steps)
}

// FromContext returns the step logger carried by ctx, or nil.
func FromContext(ctx context.Context) StepLogger {
	if ctx == nil {
		return nil
	}
	steps, _ := ctx.Value(stepLoggerKey{}).(StepLogger)
	return steps
}

// LogFromContext records a step on the run logger in ctx. It is a no-op for
// contexts without one.
func LogFromContext(ctx context.Context, phase, function, details string, err error) {
	if steps := FromContext(ctx); steps != nil {
		steps.LogStep(phase, function, details, err)
	}
}

func LogFromContextWithDuration(ctx context.Context, phase, function, details string, elapsed time.Duration, err error) {
	if steps := FromContext(ctx); steps != nil {
		steps.LogStepWithDuration(phase, function, details, elapsed, err)
	}
}

// MeasureStepWithError records a step begun at start.
func MeasureStepWithError(ctx context.Context, phase, function, details string, start time.Time, err error) {
	LogFromContextWithDuration(ctx, phase, function, details, time.Since(start), err)
}

// StepTimer measures one pipeline phase, e.g.
//
//	timer := NewStepTimer(ctx, PhaseParse, "Parse")
//	program, err := parse(tokens)
//	timer.DoneWithDetails(fmt.Sprintf("decls=%d", len(program.Decls)), err)
//
// The logger is resolved once, so a timer over a context without one costs
// nothing on completion.
type StepTimer struct {
	steps    StepLogger
	phase    string
	function string
	details  string
	started  time.Time
}

func NewStepTimer(ctx context.Context, phase, function string) *StepTimer {
	return &StepTimer{
		steps:    FromContext(ctx),
		phase:    phase,
		function: function,
		started:  time.Now(),
	}
}

func (t *StepTimer) WithDetails(details string) *StepTimer {
	t.details = details
	return t
}

// Done records the step with the details set so far.
func (t *StepTimer) Done(err error) {
	t.DoneWithDetails(t.details, err)
}

func (t *StepTimer) DoneWithDetails(details string, err error) {
	if t.steps == nil {
		return
	}
	t.steps.LogStepWithDuration(t.phase, t.function, details, time.Since(t.started), err)
}
