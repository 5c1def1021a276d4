package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Harsh-BH/appjob/internal/domain"
	"github.com/Harsh-BH/appjob/internal/metrics"
)

var runTracer = otel.Tracer("appjob/engine")

// Outcome is the state reached by one Run invocation along with the job's
// result or error for terminal states. Busy means Run was not invoked
// because the data lock was held elsewhere; State is then meaningless.
type Outcome struct {
	State  domain.JobState
	Result any
	Err    error
	Busy   bool
}

// Execute performs a single Run of the task's job on the calling goroutine.
// The data locker is held for exactly the duration of Run, panics from the
// job or its locker turn into StateFailed, and a one-shot job that does not
// finish is failed. Acquire may wait until ctx is done.
func Execute(ctx context.Context, engineName string, t *domain.Task, logger *zap.Logger) Outcome {
	return traced(ctx, engineName, t, logger, true)
}

// TryExecute is Execute for callers that must not block: when the data lock
// is busy it returns an Outcome with Busy set without running the job.
func TryExecute(ctx context.Context, engineName string, t *domain.Task, logger *zap.Logger) Outcome {
	return traced(ctx, engineName, t, logger, false)
}

func traced(ctx context.Context, engineName string, t *domain.Task, logger *zap.Logger, wait bool) Outcome {
	desc := t.Job.Describe()

	ctx, span := runTracer.Start(ctx, "job.run",
		trace.WithAttributes(
			attribute.Int64("job.id", int64(t.ID)),
			attribute.String("job.description", desc),
			attribute.String("engine", engineName),
			attribute.Bool("job.periodic", t.Periodic()),
		),
	)
	defer span.End()

	start := time.Now()
	out := execute(ctx, t, desc, logger, wait)
	if out.Busy {
		span.SetAttributes(attribute.Bool("lock.busy", true))
		return out
	}
	metrics.RunDuration.WithLabelValues(engineName).Observe(time.Since(start).Seconds())

	span.SetAttributes(attribute.String("job.state", out.State.String()))
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	}
	return out
}

func execute(ctx context.Context, t *domain.Task, desc string, logger *zap.Logger, wait bool) Outcome {
	job := t.Job

	if t.Locker != nil {
		acquired, err := acquire(ctx, t.Locker, wait)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return Outcome{State: domain.StateCanceled}
			}
			return Outcome{
				State: domain.StateFailed,
				Err:   domain.NewJobRuntimeError(desc, fmt.Errorf("acquire data lock: %w", err)),
			}
		}
		if !acquired {
			return Outcome{Busy: true}
		}
		defer func() {
			// The run context may already be canceled; release must still go through.
			err := recovered(func() error { return t.Locker.Release(context.WithoutCancel(ctx)) })
			if err != nil {
				logger.Error("Failed to release data lock",
					zap.Int64("job_id", int64(t.ID)),
					zap.Error(err),
				)
			}
		}()
	}

	var state domain.JobState
	if err := recovered(func() error { state = job.Run(ctx); return nil }); err != nil {
		logger.Error("Job panic recovered",
			zap.Int64("job_id", int64(t.ID)),
			zap.String("job", desc),
			zap.Error(err),
		)
		return Outcome{State: domain.StateFailed, Err: domain.NewJobRuntimeError(desc, err)}
	}

	switch state {
	case domain.StateCompleted:
		var result any
		if err := recovered(func() error { result, _ = job.Result(); return nil }); err != nil {
			return Outcome{State: domain.StateFailed, Err: domain.NewJobRuntimeError(desc, fmt.Errorf("read result: %w", err))}
		}
		return Outcome{State: state, Result: result}
	case domain.StateFailed:
		var jobErr error
		if err := recovered(func() error { jobErr = job.Err(); return nil }); err != nil {
			jobErr = fmt.Errorf("read error: %w", err)
		}
		return Outcome{State: state, Err: domain.NewJobRuntimeError(desc, jobErr)}
	case domain.StateCanceled:
		return Outcome{State: state}
	case domain.StateRunning:
		if t.Periodic() {
			return Outcome{State: state}
		}
	}

	return Outcome{
		State: domain.StateFailed,
		Err:   domain.NewJobRuntimeError(desc, fmt.Errorf("run returned non-terminal state %s", state)),
	}
}

// acquire takes the lock. Without wait it only tries: lockers that cannot
// try get an already expired context, and running out of it means busy.
func acquire(ctx context.Context, l domain.DataLocker, wait bool) (acquired bool, err error) {
	if wait {
		err = recovered(func() error { return l.Acquire(ctx) })
		return err == nil, err
	}

	if tl, ok := l.(domain.TryLocker); ok {
		err = recovered(func() error {
			var tryErr error
			acquired, tryErr = tl.TryAcquire(ctx)
			return tryErr
		})
		return acquired, err
	}

	expired, cancel := context.WithDeadline(ctx, time.Time{})
	defer cancel()
	err = recovered(func() error { return l.Acquire(expired) })
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return false, nil
	}
	return err == nil, err
}

// recovered calls fn, turning a panic into an error.
func recovered(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
