package domain

import (
	"context"
	"strconv"
	"time"
)

// JobID identifies a job for the lifetime of the process. IDs are issued in
// increasing order and never reused.
type JobID int64

// InvalidJobID denotes "no job".
const InvalidJobID JobID = 0

// String implements fmt.Stringer.
func (id JobID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// JobState represents the lifecycle state of a job.
type JobState int

const (
	StateInvalid JobState = iota
	StateCreated
	StateRunning
	StateSuspended
	StateCompleted
	StateFailed
	StateCanceled
)

var stateNames = map[JobState]string{
	StateInvalid:   "INVALID",
	StateCreated:   "CREATED",
	StateRunning:   "RUNNING",
	StateSuspended: "SUSPENDED",
	StateCompleted: "COMPLETED",
	StateFailed:    "FAILED",
	StateCanceled:  "CANCELED",
}

func (s JobState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN(" + strconv.Itoa(int(s)) + ")"
}

// ParseJobState is the inverse of String. Unknown names yield StateInvalid.
func ParseJobState(name string) JobState {
	for s, n := range stateNames {
		if n == name {
			return s
		}
	}
	return StateInvalid
}

// MarshalText encodes the state by name so it reads well in JSON payloads.
func (s JobState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *JobState) UnmarshalText(b []byte) error {
	*s = ParseJobState(string(b))
	return nil
}

// IsTerminal returns true if the state represents a final state.
func (s JobState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled:
		return true
	}
	return false
}

// Progress is a snapshot of how far a job has come.
type Progress struct {
	Fraction float64 `json:"fraction"`
	Message  string  `json:"message,omitempty"`
}

// Job is a unit of cancelable work driven by an engine.
//
// Run performs the job, or one slice of it for periodic jobs, and returns
// the resulting state: Running means "call me again later" and is only valid
// for periodic jobs. Implementations must poll their cancel flag inside Run.
// Progress, Result and Err must be safe to call concurrently with Run.
type Job interface {
	Run(ctx context.Context) JobState
	RequestCancel()
	Progress() Progress
	Result() (any, bool)
	Err() error
	Describe() string
}

// PeriodicJob is a job that wants to be invoked repeatedly by a cooperative
// engine. WaitPeriod is re-read after every Run that returns StateRunning.
type PeriodicJob interface {
	Job
	WaitPeriod() time.Duration
}

// DataLocker brackets a job's access to a shared resource. Engines call
// Acquire right before Run and Release right after, on every exit path.
type DataLocker interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

// TryLocker is a DataLocker that can attempt acquisition without waiting.
// TryAcquire reports false when the resource is held elsewhere.
type TryLocker interface {
	DataLocker
	TryAcquire(ctx context.Context) (bool, error)
}

// Task is what the dispatcher hands to an engine. Period is nil for one-shot
// jobs and set for periodic ones, so engines never inspect job types.
type Task struct {
	ID     JobID
	Job    Job
	Period func() time.Duration
	Locker DataLocker
}

// NewTask builds the task for a job, tagging periodic jobs.
func NewTask(id JobID, job Job, locker DataLocker) *Task {
	t := &Task{ID: id, Job: job, Locker: locker}
	if p, ok := job.(PeriodicJob); ok {
		t.Period = p.WaitPeriod
	}
	return t
}

// Periodic reports whether the task wants to be re-run.
func (t *Task) Periodic() bool {
	return t.Period != nil
}

// Notification carries one state transition of a job to its listener.
type Notification struct {
	JobID       JobID     `json:"job_id"`
	State       JobState  `json:"state"`
	Result      any       `json:"result,omitempty"`
	Err         error     `json:"-"`
	Description string    `json:"description"`
	Engine      string    `json:"engine"`
	Time        time.Time `json:"time"`
}

// ErrorMessage returns the error text, or an empty string.
func (n Notification) ErrorMessage() string {
	if n.Err == nil {
		return ""
	}
	return n.Err.Error()
}

// Listener owns a job and is told about its state transitions. It is only
// ever invoked from the dispatcher's IdleCallback.
type Listener interface {
	OnJobStateChanged(n Notification)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(n Notification)

func (f ListenerFunc) OnJobStateChanged(n Notification) { f(n) }

// ProgressListener is implemented by listeners that want periodic progress
// reports for jobs started with a report period.
type ProgressListener interface {
	OnJobProgress(id JobID, p Progress)
}
