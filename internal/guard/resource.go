// Package guard provides in-process DataLockers for resources that allow
// many readers or one writer.
package guard

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/Harsh-BH/appjob/internal/domain"
)

// Resource arbitrates access to one shared resource. Shared lockers take one
// slot; exclusive lockers take all of them.
type Resource struct {
	name  string
	slots int64
	sem   *semaphore.Weighted
}

// NewResource creates a resource allowing up to readers concurrent shared
// holders.
func NewResource(name string, readers int64) *Resource {
	if readers < 1 {
		readers = 1
	}
	return &Resource{name: name, slots: readers, sem: semaphore.NewWeighted(readers)}
}

// Name returns the resource name.
func (r *Resource) Name() string { return r.name }

// Shared returns a locker for read access.
func (r *Resource) Shared() domain.DataLocker {
	return &locker{res: r, weight: 1}
}

// Exclusive returns a locker for write access.
func (r *Resource) Exclusive() domain.DataLocker {
	return &locker{res: r, weight: r.slots}
}

var _ domain.TryLocker = (*locker)(nil)

type locker struct {
	res    *Resource
	weight int64
}

func (l *locker) Acquire(ctx context.Context) error {
	if err := l.res.sem.Acquire(ctx, l.weight); err != nil {
		return fmt.Errorf("guard %s: %w", l.res.name, err)
	}
	return nil
}

func (l *locker) TryAcquire(context.Context) (bool, error) {
	return l.res.sem.TryAcquire(l.weight), nil
}

func (l *locker) Release(context.Context) error {
	l.res.sem.Release(l.weight)
	return nil
}
