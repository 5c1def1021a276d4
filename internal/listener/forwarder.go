// Package listener hands job notifications to slow consumers such as the
// transition log and the message broker without blocking IdleCallback.
package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/appjob/internal/domain"
	"github.com/Harsh-BH/appjob/internal/metrics"
	"github.com/Harsh-BH/appjob/internal/publisher"
	"github.com/Harsh-BH/appjob/internal/repository"
)

const sinkTimeout = 5 * time.Second

// Sink consumes notifications on the forwarder's goroutine.
type Sink interface {
	Handle(ctx context.Context, n domain.Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n domain.Notification) error

func (f SinkFunc) Handle(ctx context.Context, n domain.Notification) error { return f(ctx, n) }

// RecordTo stores every notification as a transition.
func RecordTo(repo repository.TransitionRepository) Sink {
	return SinkFunc(func(ctx context.Context, n domain.Notification) error {
		return repo.Record(ctx, domain.TransitionOf(n))
	})
}

// PublishTo broadcasts every notification through p.
func PublishTo(p publisher.Publisher) Sink {
	return SinkFunc(p.Publish)
}

// Forwarder is a Listener that queues notifications for its sinks. When the
// buffer is full new notifications are dropped and counted.
type Forwarder struct {
	next   domain.Listener
	sinks  []Sink
	ch     chan domain.Notification
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var (
	_ domain.Listener         = (*Forwarder)(nil)
	_ domain.ProgressListener = (*Forwarder)(nil)
)

// NewForwarder creates a forwarder. next, if not nil, is called
// synchronously before the notification is queued.
func NewForwarder(next domain.Listener, buffer int, logger *zap.Logger, sinks ...Sink) *Forwarder {
	if buffer < 1 {
		buffer = 1
	}
	return &Forwarder{
		next:   next,
		sinks:  sinks,
		ch:     make(chan domain.Notification, buffer),
		logger: logger,
	}
}

// Start launches the goroutine feeding the sinks.
func (f *Forwarder) Start() {
	f.wg.Add(1)
	go f.loop()
}

func (f *Forwarder) OnJobStateChanged(n domain.Notification) {
	if f.next != nil {
		f.next.OnJobStateChanged(n)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || len(f.sinks) == 0 {
		return
	}
	select {
	case f.ch <- n:
	default:
		metrics.NotificationsDropped.WithLabelValues("sink_full").Inc()
		f.logger.Warn("Sink buffer full, dropping notification",
			zap.Int64("job_id", int64(n.JobID)),
			zap.Stringer("state", n.State),
		)
	}
}

func (f *Forwarder) OnJobProgress(id domain.JobID, p domain.Progress) {
	if pl, ok := f.next.(domain.ProgressListener); ok {
		pl.OnJobProgress(id, p)
	}
}

func (f *Forwarder) loop() {
	defer f.wg.Done()
	for n := range f.ch {
		for _, s := range f.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			if err := s.Handle(ctx, n); err != nil {
				f.logger.Error("Sink failed",
					zap.Int64("job_id", int64(n.JobID)),
					zap.Stringer("state", n.State),
					zap.Error(err),
				)
			}
			cancel()
		}
	}
}

// Close stops accepting notifications and waits until the queued ones have
// reached the sinks, or ctx expires.
func (f *Forwarder) Close(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.ch)
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("forwarder: close: %w", ctx.Err())
	}
}
