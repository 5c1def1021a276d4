// Package engine holds the execution strategies the dispatcher routes jobs
// to: a fixed worker pool and a cooperative scheduler.
package engine

import (
	"context"

	"github.com/Harsh-BH/appjob/internal/domain"
)

// Reporter receives every state transition an engine observes. It is safe
// to call from any goroutine and never blocks on listener code.
type Reporter interface {
	Report(id domain.JobID, state domain.JobState, result any, err error)
	Fail(err error)
}

// Engine runs tasks handed over by the dispatcher.
type Engine interface {
	// Start is called once, at registration, before any Accept.
	Start(r Reporter) error
	// Accept takes ownership of a task. Returns ErrEngineBusy when the
	// engine cannot queue more work and ErrEngineShutdown after Shutdown.
	Accept(t *domain.Task) error
	// Cancel requests cancellation. It must not block on the job.
	Cancel(id domain.JobID) error
	// Shutdown stops accepting work and cancels everything in flight.
	Shutdown(ctx context.Context) error
}

// Ticker is implemented by engines that are driven by the host loop.
type Ticker interface {
	Tick()
}

// Suspender is implemented by engines that can park a job between runs.
type Suspender interface {
	Suspend(id domain.JobID) error
	Resume(id domain.JobID) error
}
