package mock

import (
	"context"
	"sync"

	"github.com/Harsh-BH/appjob/internal/domain"
	"github.com/Harsh-BH/appjob/internal/repository"
)

// ---- TransitionRepository mock ----

var _ repository.TransitionRepository = (*TransitionRepository)(nil)

// TransitionRepository is an in-memory test double for repository.TransitionRepository.
type TransitionRepository struct {
	mu sync.Mutex

	RecordFn  func(ctx context.Context, t domain.Transition) error
	HistoryFn func(ctx context.Context, id domain.JobID) ([]domain.Transition, error)

	// Recorded calls for assertions.
	Recorded []domain.Transition
}

func (m *TransitionRepository) Record(ctx context.Context, t domain.Transition) error {
	if m.RecordFn != nil {
		if err := m.RecordFn(ctx, t); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Recorded = append(m.Recorded, t)
	m.mu.Unlock()
	return nil
}

func (m *TransitionRepository) History(ctx context.Context, id domain.JobID) ([]domain.Transition, error) {
	if m.HistoryFn != nil {
		return m.HistoryFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transition
	for _, t := range m.Recorded {
		if t.JobID == id {
			out = append(out, t)
		}
	}
	return out, nil
}

// Len returns the number of recorded transitions.
func (m *TransitionRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Recorded)
}

// ---- IdempotencyStore mock ----

var _ repository.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore is a test double for repository.IdempotencyStore. By
// default it behaves like the real store: the first claim of a key wins.
type IdempotencyStore struct {
	mu sync.Mutex

	AcquireLockFn func(ctx context.Context, key string) (bool, error)
	ReleaseLockFn func(ctx context.Context, key string) error

	AcquireCalls []string
	ReleaseCalls []string

	held map[string]bool
}

func (m *IdempotencyStore) AcquireLock(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	m.AcquireCalls = append(m.AcquireCalls, key)
	m.mu.Unlock()
	if m.AcquireLockFn != nil {
		return m.AcquireLockFn(ctx, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held == nil {
		m.held = make(map[string]bool)
	}
	if m.held[key] {
		return false, nil
	}
	m.held[key] = true
	return true, nil
}

func (m *IdempotencyStore) ReleaseLock(ctx context.Context, key string) error {
	m.mu.Lock()
	m.ReleaseCalls = append(m.ReleaseCalls, key)
	delete(m.held, key)
	m.mu.Unlock()
	if m.ReleaseLockFn != nil {
		return m.ReleaseLockFn(ctx, key)
	}
	return nil
}
