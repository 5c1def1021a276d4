package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/appjob/internal/domain"
	"github.com/Harsh-BH/appjob/internal/metrics"
)

type schedEntry struct {
	task      *domain.Task
	due       time.Time
	started   bool
	running   bool
	canceled  bool
	suspended bool
	// Suspend arrived while Run was executing; applied when it returns.
	suspendPending bool
}

// Scheduler is a cooperative engine: all jobs share one logical thread and
// each due job gets one Run per Tick. Periodic jobs are rescheduled after
// their WaitPeriod; one-shot jobs run once.
type Scheduler struct {
	name         string
	logger       *zap.Logger
	clock        func() time.Time
	tickInterval time.Duration

	ticking sync.Mutex

	mu       sync.Mutex
	entries  map[domain.JobID]*schedEntry
	reporter Reporter
	started  bool
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var (
	_ Engine    = (*Scheduler)(nil)
	_ Ticker    = (*Scheduler)(nil)
	_ Suspender = (*Scheduler)(nil)
)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces time.Now, mainly for tests.
func WithClock(clock func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.clock = clock }
}

// WithTickInterval makes the scheduler tick itself on a background ticker in
// addition to ticks from the host loop.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// NewScheduler creates a cooperative engine.
func NewScheduler(name string, logger *zap.Logger, opts ...SchedulerOption) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		name:    name,
		logger:  logger,
		clock:   time.Now,
		entries: make(map[domain.JobID]*schedEntry),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Start(r Reporter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrEngineShutdown
	}
	if s.started {
		return fmt.Errorf("scheduler %s: %w: already started", s.name, domain.ErrInvalidOperation)
	}
	s.started = true
	s.reporter = r

	if s.tickInterval > 0 {
		s.wg.Add(1)
		go s.tickLoop()
	}
	s.logger.Info("Starting scheduler", zap.String("engine", s.name), zap.Duration("tick_interval", s.tickInterval))
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Accept registers a task. A periodic task first runs after one WaitPeriod;
// a one-shot task is due at the next tick.
func (s *Scheduler) Accept(t *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrEngineShutdown
	}
	if !s.started {
		return fmt.Errorf("scheduler %s: %w: not started", s.name, domain.ErrInvalidOperation)
	}
	if _, dup := s.entries[t.ID]; dup {
		return fmt.Errorf("scheduler %s: job %d: %w: already accepted", s.name, t.ID, domain.ErrInvalidOperation)
	}

	due := s.clock()
	if t.Periodic() {
		due = due.Add(t.Period())
	}
	s.entries[t.ID] = &schedEntry{task: t, due: due}
	metrics.QueueDepth.WithLabelValues(s.name).Inc()
	return nil
}

// Tick runs every due entry once, earliest due first. A Tick that starts
// while another is in progress returns immediately.
func (s *Scheduler) Tick() {
	if !s.ticking.TryLock() {
		return
	}
	defer s.ticking.Unlock()

	now := s.clock()

	s.mu.Lock()
	due := make([]*schedEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.canceled || (!e.suspended && !e.due.After(now)) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if !due[i].due.Equal(due[j].due) {
			return due[i].due.Before(due[j].due)
		}
		return due[i].task.ID < due[j].task.ID
	})

	for _, e := range due {
		s.runEntry(e)
	}
}

func (s *Scheduler) runEntry(e *schedEntry) {
	defer func() {
		if r := recover(); r != nil {
			s.recoverEntry(e, r)
		}
	}()

	if !s.begin(e) {
		return
	}
	out := TryExecute(s.ctx, s.name, e.task, s.logger)
	s.finish(e, out)
}

// begin marks e as running. The first run reports Running in the same
// critical section that sets started, so no Suspend can slip in before it.
func (s *Scheduler) begin(e *schedEntry) bool {
	id := e.task.ID

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[id] != e {
		return false
	}
	if e.canceled {
		s.remove(id)
		s.reporter.Report(id, domain.StateCanceled, nil, nil)
		return false
	}
	if e.suspended {
		return false
	}
	if !e.started {
		e.started = true
		s.reporter.Report(id, domain.StateRunning, nil, nil)
	}
	e.running = true
	return true
}

// finish applies the outcome of one run. A job whose lock was busy stays
// due and is retried on the next tick.
func (s *Scheduler) finish(e *schedEntry, out Outcome) {
	id := e.task.ID

	s.mu.Lock()
	defer s.mu.Unlock()
	e.running = false
	if s.entries[id] != e {
		// Dropped by Shutdown while running; already reported.
		return
	}

	if out.Busy || (out.State == domain.StateRunning && !e.canceled) {
		if !out.Busy {
			e.due = s.clock().Add(e.task.Period())
		}
		if e.suspendPending {
			e.suspendPending = false
			e.suspended = true
			s.reporter.Report(id, domain.StateSuspended, nil, nil)
		}
		return
	}

	if out.State == domain.StateRunning {
		out = Outcome{State: domain.StateCanceled}
	}
	s.remove(id)

	if out.State == domain.StateFailed {
		s.logger.Warn("Job failed",
			zap.String("engine", s.name),
			zap.Int64("job_id", int64(id)),
			zap.Error(out.Err),
		)
	}
	s.reporter.Report(id, out.State, out.Result, out.Err)
}

// recoverEntry handles a panic outside the job itself. The entry is dropped
// and failed so the job still ends in a terminal state.
func (s *Scheduler) recoverEntry(e *schedEntry, r any) {
	id := e.task.ID
	err := fmt.Errorf("scheduler %s: job %d: panic: %v", s.name, id, r)
	s.logger.Error("Scheduler panic recovered", zap.Int64("job_id", int64(id)), zap.Error(err))
	s.reporter.Fail(err)

	s.mu.Lock()
	owned := s.entries[id] == e
	if owned {
		s.remove(id)
	}
	s.mu.Unlock()

	if owned {
		_ = recovered(func() error {
			s.reporter.Report(id, domain.StateFailed, nil, domain.NewJobRuntimeError(e.task.Job.Describe(), err))
			return nil
		})
	}
}

// remove must be called with s.mu held.
func (s *Scheduler) remove(id domain.JobID) {
	delete(s.entries, id)
	metrics.QueueDepth.WithLabelValues(s.name).Dec()
}

// Cancel drops a job that has never run, reporting Canceled right away.
// A started job is asked to stop and reports Canceled at the next tick
// without running again.
func (s *Scheduler) Cancel(id domain.JobID) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrUnknownJob
	}
	if !e.started {
		s.remove(id)
		s.reporter.Report(id, domain.StateCanceled, nil, nil)
		s.mu.Unlock()
		return nil
	}
	e.canceled = true
	e.suspendPending = false
	s.mu.Unlock()

	e.task.Job.RequestCancel()
	return nil
}

// Suspend parks a started job; it is skipped by ticks until resumed. A job
// that is inside Run is parked once Run returns, unless it finished.
func (s *Scheduler) Suspend(id domain.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return domain.ErrUnknownJob
	}
	if !e.started || e.suspended || e.suspendPending || e.canceled {
		return domain.ErrInvalidOperation
	}
	if e.running {
		e.suspendPending = true
		return nil
	}
	e.suspended = true
	s.reporter.Report(id, domain.StateSuspended, nil, nil)
	return nil
}

// Resume makes a suspended job due immediately, or withdraws a Suspend that
// has not taken effect yet.
func (s *Scheduler) Resume(id domain.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return domain.ErrUnknownJob
	}
	if e.suspendPending {
		e.suspendPending = false
		return nil
	}
	if !e.suspended || e.canceled {
		return domain.ErrInvalidOperation
	}
	e.suspended = false
	e.due = s.clock()
	s.reporter.Report(id, domain.StateRunning, nil, nil)
	return nil
}

// Shutdown cancels all registered jobs and stops the background ticker.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := make([]*schedEntry, 0, len(s.entries))
	for id, e := range s.entries {
		pending = append(pending, e)
		s.remove(id)
	}
	s.mu.Unlock()

	for _, e := range pending {
		e.task.Job.RequestCancel()
		s.reporter.Report(e.task.ID, domain.StateCanceled, nil, nil)
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.ticking.Lock()
		s.ticking.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped", zap.String("engine", s.name))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler %s: shutdown: %w", s.name, ctx.Err())
	}
}
