package dispatcher

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Harsh-BH/appjob/internal/domain"
	"github.com/Harsh-BH/appjob/internal/metrics"
)

// reporter is the engine's only way back into the dispatcher.
type reporter struct {
	d      *Dispatcher
	engine string
}

func (r *reporter) Report(id domain.JobID, state domain.JobState, result any, err error) {
	r.d.apply(r.engine, id, state, result, err)
}

func (r *reporter) Fail(err error) {
	r.d.fail(&domain.EngineInternalError{Engine: r.engine, Cause: err})
}

// validTransition lists the transitions the dispatcher accepts from engines.
// Terminal states have no way out.
func validTransition(from, to domain.JobState) bool {
	switch from {
	case domain.StateCreated:
		return to == domain.StateRunning || to == domain.StateCanceled || to == domain.StateFailed
	case domain.StateRunning:
		return to == domain.StateSuspended || to.IsTerminal()
	case domain.StateSuspended:
		return to == domain.StateRunning || to == domain.StateCanceled
	}
	return false
}

// apply records a transition and queues its notification. Both happen under
// the registry lock so notifications for a job leave in transition order.
func (d *Dispatcher) apply(engineName string, id domain.JobID, state domain.JobState, result any, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[id]
	if !ok {
		metrics.NotificationsDropped.WithLabelValues("unknown_job").Inc()
		d.logger.Debug("Dropping report for unknown job",
			zap.Int64("job_id", int64(id)),
			zap.String("engine", engineName),
			zap.Stringer("state", state),
		)
		return
	}
	if rec.state == domain.StateRunning && state == domain.StateRunning {
		return
	}
	if !validTransition(rec.state, state) {
		d.failLocked(&domain.EngineInternalError{
			Engine: engineName,
			Cause:  fmt.Errorf("job %d: invalid transition %s -> %s", id, rec.state, state),
		})
		return
	}

	now := d.clock()
	rec.state = state
	rec.updated = now

	switch state {
	case domain.StateCompleted:
		rec.result, rec.hasResult = result, result != nil
	case domain.StateFailed:
		if err == nil {
			err = domain.NewJobRuntimeError(rec.description, nil)
		}
		rec.err = err
	}
	if state.IsTerminal() {
		metrics.JobsFinished.WithLabelValues(engineName, state.String()).Inc()
		if rec.reportPeriod > 0 {
			rec.progress = rec.job.Progress()
		}
	}

	d.events.Push(domain.Notification{
		JobID:       id,
		State:       state,
		Result:      result,
		Err:         err,
		Description: rec.description,
		Engine:      engineName,
		Time:        now,
	})
}

func (d *Dispatcher) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failLocked(err)
}

func (d *Dispatcher) failLocked(err error) {
	engineName := ""
	var eie *domain.EngineInternalError
	if errors.As(err, &eie) {
		engineName = eie.Engine
	}
	metrics.EngineErrors.WithLabelValues(engineName).Inc()
	d.logger.Error("Engine internal error", zap.String("engine", engineName), zap.Error(err))

	select {
	case d.errs <- err:
	default:
		d.logger.Warn("Error channel full, dropping engine error", zap.Error(err))
	}
}
