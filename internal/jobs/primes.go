package jobs

import (
	"context"
	"fmt"

	"github.com/Harsh-BH/appjob/internal/domain"
)

const primeCheckEvery = 1024

// PrimeFinder collects all primes up to Limit. It is a one-shot job that
// checks for cancellation while it sieves.
type PrimeFinder struct {
	Base
	limit int
}

var _ domain.Job = (*PrimeFinder)(nil)

// NewPrimeFinder creates a job finding primes in [2, limit].
func NewPrimeFinder(limit int) *PrimeFinder {
	return &PrimeFinder{
		Base:  Base{Desc: fmt.Sprintf("find primes up to %d", limit)},
		limit: limit,
	}
}

func (j *PrimeFinder) Run(ctx context.Context) domain.JobState {
	if j.limit < 2 {
		return j.Fail(fmt.Errorf("limit %d is below the first prime", j.limit))
	}

	composite := make([]bool, j.limit+1)
	var primes []int
	for n := 2; n <= j.limit; n++ {
		if n%primeCheckEvery == 0 {
			if j.Canceled() || ctx.Err() != nil {
				return domain.StateCanceled
			}
			j.SetProgress(float64(n)/float64(j.limit), fmt.Sprintf("%d primes so far", len(primes)))
		}
		if composite[n] {
			continue
		}
		primes = append(primes, n)
		for m := n * n; m <= j.limit; m += n {
			composite[m] = true
		}
	}

	j.SetProgress(1, fmt.Sprintf("%d primes", len(primes)))
	return j.Complete(primes)
}
