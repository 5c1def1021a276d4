package mock

import (
	"context"
	"sync"

	"github.com/Harsh-BH/appjob/internal/domain"
	"github.com/Harsh-BH/appjob/internal/publisher"
)

// Ensure MockPublisher implements publisher.Publisher.
var _ publisher.Publisher = (*MockPublisher)(nil)

// MockPublisher is a mock message publisher for testing.
type MockPublisher struct {
	mu        sync.Mutex
	Published []domain.Notification
	PublishFn func(ctx context.Context, n domain.Notification) error
	Closed    bool
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, n domain.Notification) error {
	if m.PublishFn != nil {
		return m.PublishFn(ctx, n)
	}
	m.mu.Lock()
	m.Published = append(m.Published, n)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of the published notifications.
func (m *MockPublisher) Events() []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Notification(nil), m.Published...)
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	m.Closed = true
	m.mu.Unlock()
	return nil
}
