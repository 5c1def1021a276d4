// Package mock provides hand-written test doubles for jobs, listeners,
// lockers and engine reporters.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Harsh-BH/appjob/internal/domain"
	"github.com/Harsh-BH/appjob/internal/engine"
)

// ---- Job mock ----

var _ domain.Job = (*Job)(nil)

// Job is a test double for domain.Job. Without RunFn it completes at once.
type Job struct {
	mu sync.Mutex

	RunFn func(ctx context.Context) domain.JobState
	Desc  string

	result    any
	hasResult bool
	err       error
	progress  domain.Progress

	runs            atomic.Int32
	cancelRequested atomic.Bool
}

func (j *Job) Run(ctx context.Context) domain.JobState {
	j.runs.Add(1)
	if j.RunFn != nil {
		return j.RunFn(ctx)
	}
	return domain.StateCompleted
}

func (j *Job) RequestCancel() { j.cancelRequested.Store(true) }

// CancelRequested reports whether RequestCancel was called.
func (j *Job) CancelRequested() bool { return j.cancelRequested.Load() }

// Runs returns how many times Run was invoked.
func (j *Job) Runs() int { return int(j.runs.Load()) }

func (j *Job) Progress() domain.Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// SetProgress replaces the progress snapshot.
func (j *Job) SetProgress(p domain.Progress) {
	j.mu.Lock()
	j.progress = p
	j.mu.Unlock()
}

func (j *Job) Result() (any, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.hasResult
}

// SetResult stores the value returned by Result.
func (j *Job) SetResult(v any) {
	j.mu.Lock()
	j.result, j.hasResult = v, true
	j.mu.Unlock()
}

func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// SetErr stores the value returned by Err.
func (j *Job) SetErr(err error) {
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
}

func (j *Job) Describe() string {
	if j.Desc == "" {
		return "mock job"
	}
	return j.Desc
}

// ---- PeriodicJob mock ----

var _ domain.PeriodicJob = (*PeriodicJob)(nil)

// PeriodicJob is a Job with a wait period. WaitPeriodFn, when set, wins
// over Period.
type PeriodicJob struct {
	Job
	Period       time.Duration
	WaitPeriodFn func() time.Duration
}

func (j *PeriodicJob) WaitPeriod() time.Duration {
	if j.WaitPeriodFn != nil {
		return j.WaitPeriodFn()
	}
	return j.Period
}

// ---- Listener mock ----

var (
	_ domain.Listener         = (*Listener)(nil)
	_ domain.ProgressListener = (*Listener)(nil)
)

// Listener records every notification and progress report it receives.
type Listener struct {
	mu sync.Mutex

	OnJobStateChangedFn func(n domain.Notification)
	OnJobProgressFn     func(id domain.JobID, p domain.Progress)

	Notifications []domain.Notification
	Progress      []ProgressReport
}

type ProgressReport struct {
	ID       domain.JobID
	Progress domain.Progress
}

func (l *Listener) OnJobStateChanged(n domain.Notification) {
	l.mu.Lock()
	l.Notifications = append(l.Notifications, n)
	l.mu.Unlock()
	if l.OnJobStateChangedFn != nil {
		l.OnJobStateChangedFn(n)
	}
}

func (l *Listener) OnJobProgress(id domain.JobID, p domain.Progress) {
	l.mu.Lock()
	l.Progress = append(l.Progress, ProgressReport{ID: id, Progress: p})
	l.mu.Unlock()
	if l.OnJobProgressFn != nil {
		l.OnJobProgressFn(id, p)
	}
}

// States returns the states delivered for id, in delivery order.
func (l *Listener) States(id domain.JobID) []domain.JobState {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.JobState
	for _, n := range l.Notifications {
		if n.JobID == id {
			out = append(out, n.State)
		}
	}
	return out
}

// Last returns the last notification delivered for id.
func (l *Listener) Last(id domain.JobID) (domain.Notification, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.Notifications) - 1; i >= 0; i-- {
		if l.Notifications[i].JobID == id {
			return l.Notifications[i], true
		}
	}
	return domain.Notification{}, false
}

// ---- DataLocker mock ----

var _ domain.DataLocker = (*Locker)(nil)

// Locker counts Acquire/Release pairs and tracks whether it is held.
type Locker struct {
	AcquireFn func(ctx context.Context) error
	ReleaseFn func(ctx context.Context) error

	acquired atomic.Int32
	released atomic.Int32
	held     atomic.Bool
}

func (l *Locker) Acquire(ctx context.Context) error {
	if l.AcquireFn != nil {
		if err := l.AcquireFn(ctx); err != nil {
			return err
		}
	}
	l.acquired.Add(1)
	l.held.Store(true)
	return nil
}

func (l *Locker) Release(ctx context.Context) error {
	l.released.Add(1)
	l.held.Store(false)
	if l.ReleaseFn != nil {
		return l.ReleaseFn(ctx)
	}
	return nil
}

func (l *Locker) Acquired() int { return int(l.acquired.Load()) }
func (l *Locker) Released() int { return int(l.released.Load()) }
func (l *Locker) Held() bool    { return l.held.Load() }

// ---- Reporter mock ----

var _ engine.Reporter = (*Reporter)(nil)

// Reporter records the transitions an engine reports.
type Reporter struct {
	mu sync.Mutex

	Reports  []Report
	Failures []error

	// ReportFn, when set, runs before a report is recorded.
	ReportFn func(Report)
}

type Report struct {
	ID     domain.JobID
	State  domain.JobState
	Result any
	Err    error
}

func (r *Reporter) Report(id domain.JobID, state domain.JobState, result any, err error) {
	rep := Report{ID: id, State: state, Result: result, Err: err}
	if r.ReportFn != nil {
		r.ReportFn(rep)
	}
	r.mu.Lock()
	r.Reports = append(r.Reports, rep)
	r.mu.Unlock()
}

// FailureCount returns the number of engine failures recorded.
func (r *Reporter) FailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Failures)
}

func (r *Reporter) Fail(err error) {
	r.mu.Lock()
	r.Failures = append(r.Failures, err)
	r.mu.Unlock()
}

// States returns the states reported for id, in order.
func (r *Reporter) States(id domain.JobID) []domain.JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.JobState
	for _, rep := range r.Reports {
		if rep.ID == id {
			out = append(out, rep.State)
		}
	}
	return out
}

// Last returns the last report for id.
func (r *Reporter) Last(id domain.JobID) (Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.Reports) - 1; i >= 0; i-- {
		if r.Reports[i].ID == id {
			return r.Reports[i], true
		}
	}
	return Report{}, false
}

// Terminal reports whether id has reached a terminal state.
func (r *Reporter) Terminal(id domain.JobID) bool {
	rep, ok := r.Last(id)
	return ok && rep.State.IsTerminal()
}
