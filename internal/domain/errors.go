package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEngine is returned when a job references an unregistered engine.
	ErrUnknownEngine = errors.New("unknown engine")

	// ErrUnknownJob is returned when a job ID has no live record.
	ErrUnknownJob = errors.New("unknown job")

	// ErrEngineExists is returned when an engine name is registered twice.
	ErrEngineExists = errors.New("engine already registered")

	// ErrInvalidOperation is returned when an operation does not fit the job state
	// or the engine does not support it.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrEngineBusy is returned when an engine cannot take more jobs.
	ErrEngineBusy = errors.New("engine queue is full")

	// ErrEngineShutdown is returned when an engine or dispatcher no longer accepts work.
	ErrEngineShutdown = errors.New("engine is shut down")
)

// defaultJobFailure stands in when a failed job reports no error of its own.
var defaultJobFailure = errors.New("job failed without reporting an error")

// JobRuntimeError wraps a job failure with the job's description.
type JobRuntimeError struct {
	Description string
	Cause       error
}

// NewJobRuntimeError wraps cause; a nil cause gets a generic message.
func NewJobRuntimeError(description string, cause error) *JobRuntimeError {
	if cause == nil {
		cause = defaultJobFailure
	}
	return &JobRuntimeError{Description: description, Cause: cause}
}

func (e *JobRuntimeError) Error() string {
	return fmt.Sprintf("job %q failed: %v", e.Description, e.Cause)
}

func (e *JobRuntimeError) Unwrap() error { return e.Cause }

// EngineInternalError reports a failure of an engine's own bookkeeping. It
// is surfaced on the dispatcher's error channel, never as a job failure.
type EngineInternalError struct {
	Engine string
	Cause  error
}

func (e *EngineInternalError) Error() string {
	return fmt.Sprintf("engine %q: %v", e.Engine, e.Cause)
}

func (e *EngineInternalError) Unwrap() error { return e.Cause }
