package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/appjob/internal/domain"
	"github.com/Harsh-BH/appjob/internal/metrics"
)

const (
	taskQueued int32 = iota
	taskRunning
	taskCanceled
)

type poolTask struct {
	task   *domain.Task
	status atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
}

// Pool runs each task on one of a fixed number of worker goroutines. Tasks
// wait in a bounded queue; Accept fails with ErrEngineBusy when it is full.
type Pool struct {
	name   string
	size   int
	queue  chan *poolTask
	logger *zap.Logger

	reporter Reporter
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	tasks   map[domain.JobID]*poolTask
	started bool
	closed  bool
}

var _ Engine = (*Pool)(nil)

// NewPool creates a worker pool. Workers are launched by Start.
func NewPool(name string, size, queueSize int, logger *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		name:   name,
		size:   size,
		queue:  make(chan *poolTask, queueSize),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[domain.JobID]*poolTask),
	}
}

// Start launches all worker goroutines.
func (p *Pool) Start(r Reporter) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return domain.ErrEngineShutdown
	}
	if p.started {
		return fmt.Errorf("pool %s: %w: already started", p.name, domain.ErrInvalidOperation)
	}
	p.started = true
	p.reporter = r

	p.logger.Info("Starting worker pool", zap.String("engine", p.name), zap.Int("pool_size", p.size))
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return nil
}

// Accept queues a task for the next free worker.
func (p *Pool) Accept(t *domain.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return domain.ErrEngineShutdown
	}
	if !p.started {
		return fmt.Errorf("pool %s: %w: not started", p.name, domain.ErrInvalidOperation)
	}
	if _, dup := p.tasks[t.ID]; dup {
		return fmt.Errorf("pool %s: job %d: %w: already accepted", p.name, t.ID, domain.ErrInvalidOperation)
	}

	ctx, cancel := context.WithCancel(p.ctx)
	pt := &poolTask{task: t, ctx: ctx, cancel: cancel}

	select {
	case p.queue <- pt:
	default:
		cancel()
		return domain.ErrEngineBusy
	}
	p.tasks[t.ID] = pt
	metrics.QueueDepth.WithLabelValues(p.name).Inc()
	return nil
}

// Cancel removes a queued task, reporting Canceled right away, or asks a
// running one to stop.
func (p *Pool) Cancel(id domain.JobID) error {
	p.mu.Lock()
	pt, ok := p.tasks[id]
	dequeued := ok && pt.status.CompareAndSwap(taskQueued, taskCanceled)
	if dequeued {
		delete(p.tasks, id)
	}
	p.mu.Unlock()
	if !ok {
		return domain.ErrUnknownJob
	}

	if dequeued {
		pt.cancel()
		p.reporter.Report(id, domain.StateCanceled, nil, nil)
		return nil
	}

	pt.task.Job.RequestCancel()
	pt.cancel()
	return nil
}

// Shutdown cancels every queued and running task and waits for the workers
// to exit, or for ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	ids := make([]domain.JobID, 0, len(p.tasks))
	for id := range p.tasks {
		ids = append(ids, id)
	}
	started := p.started
	p.mu.Unlock()

	for _, id := range ids {
		_ = p.Cancel(id)
	}
	p.cancel()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped", zap.String("engine", p.name))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool %s: shutdown: %w", p.name, ctx.Err())
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", zap.String("engine", p.name), zap.Int("worker_id", id))

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("Worker shutting down", zap.String("engine", p.name), zap.Int("worker_id", id))
			return
		case pt := <-p.queue:
			metrics.QueueDepth.WithLabelValues(p.name).Dec()
			p.process(id, pt)
		}
	}
}

func (p *Pool) process(workerID int, pt *poolTask) {
	if !pt.status.CompareAndSwap(taskQueued, taskRunning) {
		// Canceled while queued; Cancel already reported it.
		return
	}
	defer func() {
		pt.cancel()
		p.mu.Lock()
		delete(p.tasks, pt.task.ID)
		p.mu.Unlock()
	}()

	id := pt.task.ID
	final := false
	defer func() {
		if r := recover(); r != nil {
			p.recoverTask(pt, r, final)
		}
	}()

	p.logger.Debug("Worker processing job",
		zap.String("engine", p.name),
		zap.Int("worker_id", workerID),
		zap.Int64("job_id", int64(id)),
	)

	p.reporter.Report(id, domain.StateRunning, nil, nil)

	metrics.WorkersActive.WithLabelValues(p.name).Inc()
	out := p.runToEnd(pt)
	metrics.WorkersActive.WithLabelValues(p.name).Dec()

	if out.State == domain.StateFailed {
		p.logger.Warn("Job failed",
			zap.String("engine", p.name),
			zap.Int64("job_id", int64(id)),
			zap.Error(out.Err),
		)
	}
	final = true
	p.reporter.Report(id, out.State, out.Result, out.Err)
}

// recoverTask keeps the worker alive when reporting panics. The job is failed
// unless its terminal report was already under way.
func (p *Pool) recoverTask(pt *poolTask, r any, final bool) {
	id := pt.task.ID
	err := fmt.Errorf("pool %s: job %d: panic: %v", p.name, id, r)
	p.logger.Error("Worker panic recovered", zap.Int64("job_id", int64(id)), zap.Error(err))
	p.reporter.Fail(err)
	if final {
		return
	}
	_ = recovered(func() error {
		p.reporter.Report(id, domain.StateFailed, nil, domain.NewJobRuntimeError(pt.task.Job.Describe(), err))
		return nil
	})
}

// runToEnd keeps a periodic job on its worker, waiting WaitPeriod between
// runs, until it reaches a terminal state.
func (p *Pool) runToEnd(pt *poolTask) Outcome {
	for {
		out := Execute(pt.ctx, p.name, pt.task, p.logger)
		if out.State != domain.StateRunning {
			return out
		}

		timer := time.NewTimer(pt.task.Period())
		select {
		case <-timer.C:
		case <-pt.ctx.Done():
			timer.Stop()
			return Outcome{State: domain.StateCanceled}
		}
	}
}
