package observability

import (
	"log/slog"
	"time"
)

// SagaLogger is a logger bound to one saga execution's identity. A saga
// runs at most a handful of named steps end to end, so one bound logger
// covers its whole lifecycle instead of a free function per event that
// each re-derives order_id and execution_id from scratch.
type SagaLogger struct {
	log *slog.Logger
}

// NewSagaLogger binds logger to one order/execution pair. A nil logger (or
// the zero SagaLogger) makes every method a no-op, so callers never need a
// separate "logging enabled" check.
func NewSagaLogger(logger *slog.Logger, orderID, executionID string) SagaLogger {
	if logger == nil {
		return SagaLogger{}
	}
	return SagaLogger{log: logger.With(
		slog.String("order_id", orderID),
		slog.String("execution_id", executionID),
	)}
}

// Started logs the start of the execution.
func (l SagaLogger) Started() {
	if l.log == nil {
		return
	}
	l.log.Info("saga execution starting")
}

// Completed logs successful terminal completion.
func (l SagaLogger) Completed(durationMs float64, stepCount int) {
	if l.log == nil {
		return
	}
	l.log.Info("saga execution completed",
		slog.Float64("duration_ms", durationMs),
		slog.Int("steps_executed", stepCount),
	)
}

// Failed logs a non-success terminal outcome (failure or failed
// compensation).
func (l SagaLogger) Failed(err error, durationMs float64, failedStep string) {
	if l.log == nil {
		return
	}
	l.log.Error("saga execution failed",
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("failed_step", failedStep),
	)
}

// StepStarted logs a step beginning execution.
func (l SagaLogger) StepStarted(stepName string) {
	if l.log == nil {
		return
	}
	l.log.Debug("step starting", slog.String("step_name", stepName))
}

// StepCompleted logs a step's successful completion.
func (l SagaLogger) StepCompleted(stepName string, durationMs float64) {
	if l.log == nil {
		return
	}
	l.log.Debug("step completed",
		slog.String("step_name", stepName),
		slog.Float64("duration_ms", durationMs),
	)
}

// StepFailed logs a step's business or transient failure.
func (l SagaLogger) StepFailed(stepName string, err error) {
	if l.log == nil {
		return
	}
	l.log.Error("step failed",
		slog.String("step_name", stepName),
		slog.String("error", err.Error()),
	)
}

// StepCompensated logs a single step's compensation outcome.
func (l SagaLogger) StepCompensated(stepName string, err error) {
	if l.log == nil {
		return
	}
	if err != nil {
		l.log.Error("step compensation failed",
			slog.String("step_name", stepName),
			slog.String("error", err.Error()),
		)
		return
	}
	l.log.Warn("step compensated", slog.String("step_name", stepName))
}

// Escalated logs that compensation could not undo a step and an
// escalation record was raised for an operator.
func (l SagaLogger) Escalated(stepName string, attempts int, lastErr error) {
	if l.log == nil {
		return
	}
	l.log.Error("escalation raised",
		slog.String("step_name", stepName),
		slog.Int("attempts", attempts),
		slog.String("last_error", lastErr.Error()),
	)
}

// RetryPlanned logs that a retry attempt was accepted and a resume point
// was chosen for it. Retries have no analogue in a one-shot graph run, so
// this event has no teacher counterpart.
func (l SagaLogger) RetryPlanned(resumeStep string, skippedSteps int) {
	if l.log == nil {
		return
	}
	l.log.Info("retry resuming execution",
		slog.String("resume_step", resumeStep),
		slog.Int("skipped_steps", skippedSteps),
	)
}

// TimedOperation measures the duration of an operation. Returns a function
// that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
