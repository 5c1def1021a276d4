package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Harsh-BH/appjob/internal/domain"
)

// Countdown is a periodic job: every run takes one step off its counter and
// completes when the counter reaches zero. The wait between runs shrinks by
// Shrink after every run, down to Min.
type Countdown struct {
	Base

	mu     sync.Mutex
	steps  int
	left   int
	period time.Duration
	shrink time.Duration
	floor  time.Duration
}

var _ domain.PeriodicJob = (*Countdown)(nil)

// NewCountdown creates a countdown of steps runs, starting with period
// between runs.
func NewCountdown(steps int, period, shrink, floor time.Duration) *Countdown {
	return &Countdown{
		Base:   Base{Desc: fmt.Sprintf("countdown from %d", steps)},
		steps:  steps,
		left:   steps,
		period: period,
		shrink: shrink,
		floor:  floor,
	}
}

func (j *Countdown) WaitPeriod() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.period
}

func (j *Countdown) Run(ctx context.Context) domain.JobState {
	if j.Canceled() {
		return domain.StateCanceled
	}
	if j.steps < 1 {
		return j.Fail(fmt.Errorf("countdown needs at least one step, got %d", j.steps))
	}

	j.mu.Lock()
	j.left--
	left := j.left
	j.period = max(j.period-j.shrink, j.floor)
	j.mu.Unlock()

	done := j.steps - left
	j.SetProgress(float64(done)/float64(j.steps), fmt.Sprintf("%d of %d", done, j.steps))

	if left <= 0 {
		return j.Complete(done)
	}
	return domain.StateRunning
}
