package repository

import (
	"context"

	"github.com/Harsh-BH/appjob/internal/domain"
)

// TransitionRepository stores the audit trail of job state changes.
type TransitionRepository interface {
	// Record appends one transition.
	Record(ctx context.Context, t domain.Transition) error

	// History returns the transitions of a job, oldest first.
	History(ctx context.Context, id domain.JobID) ([]domain.Transition, error)
}

// IdempotencyStore deduplicates externally submitted start requests.
type IdempotencyStore interface {
	// AcquireLock claims key. Returns true the first time, false for a duplicate.
	AcquireLock(ctx context.Context, key string) (bool, error)

	// ReleaseLock forgets key so the request may be submitted again.
	ReleaseLock(ctx context.Context, key string) error
}
