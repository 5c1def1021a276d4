// Package jobs contains reusable job building blocks and the job kinds the
// daemon can start on request.
package jobs

import (
	"sync"
	"sync/atomic"

	"github.com/Harsh-BH/appjob/internal/domain"
)

// Base carries the bookkeeping every job needs. Embed it, set Desc and
// implement Run.
type Base struct {
	Desc     string
	canceled atomic.Bool

	mu        sync.Mutex
	progress  domain.Progress
	result    any
	hasResult bool
	err       error
}

func (b *Base) Describe() string { return b.Desc }

func (b *Base) RequestCancel() { b.canceled.Store(true) }

// Canceled reports whether cancellation was requested.
func (b *Base) Canceled() bool { return b.canceled.Load() }

func (b *Base) Progress() domain.Progress {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.progress
}

// SetProgress publishes a progress snapshot. Fraction is clamped to [0, 1].
func (b *Base) SetProgress(fraction float64, message string) {
	fraction = min(max(fraction, 0), 1)
	b.mu.Lock()
	b.progress = domain.Progress{Fraction: fraction, Message: message}
	b.mu.Unlock()
}

func (b *Base) Result() (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result, b.hasResult
}

// Complete stores the result and returns StateCompleted.
func (b *Base) Complete(result any) domain.JobState {
	b.mu.Lock()
	b.result, b.hasResult = result, true
	b.mu.Unlock()
	return domain.StateCompleted
}

func (b *Base) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Fail stores err and returns StateFailed.
func (b *Base) Fail(err error) domain.JobState {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
	return domain.StateFailed
}
