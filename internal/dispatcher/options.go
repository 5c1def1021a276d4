package dispatcher

import (
	"time"

	"github.com/Harsh-BH/appjob/internal/domain"
)

// DefaultMinReportPeriod is the shortest active progress reporting period.
const DefaultMinReportPeriod = 3 * time.Second

const defaultErrorBuffer = 64

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces time.Now, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(d *Dispatcher) { d.clock = clock }
}

// WithMinReportPeriod sets the lower bound applied to WithReportPeriod.
func WithMinReportPeriod(p time.Duration) Option {
	return func(d *Dispatcher) { d.minReportPeriod = p }
}

// WithErrorBuffer sizes the channel returned by Errors.
func WithErrorBuffer(n int) Option {
	return func(d *Dispatcher) { d.errBuffer = n }
}

type startOptions struct {
	reportPeriod time.Duration
	foreground   bool
	locker       domain.DataLocker
	autoDelete   bool
}

// StartOption configures a single StartJob call.
type StartOption func(*startOptions)

// WithReportPeriod turns on active progress reporting: every period the
// dispatcher snapshots the job's progress during IdleCallback and hands it to
// the listener if it implements domain.ProgressListener. Zero or negative
// disables reporting; shorter periods are raised to the dispatcher minimum.
func WithReportPeriod(p time.Duration) StartOption {
	return func(o *startOptions) { o.reportPeriod = p }
}

// Foreground runs the job on the calling goroutine; StartJob returns once
// the job is terminal.
func Foreground() StartOption {
	return func(o *startOptions) { o.foreground = true }
}

// WithDataLocker brackets every Run of the job with l.
func WithDataLocker(l domain.DataLocker) StartOption {
	return func(o *startOptions) { o.locker = l }
}

// WithAutoDelete drops the job record once its terminal notification has
// been delivered.
func WithAutoDelete() StartOption {
	return func(o *startOptions) { o.autoDelete = true }
}
