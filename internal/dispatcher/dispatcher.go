// Package dispatcher routes jobs to engines and brings their state changes
// back to listeners on the goroutine that calls IdleCallback.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/appjob/internal/bridge"
	"github.com/Harsh-BH/appjob/internal/domain"
	"github.com/Harsh-BH/appjob/internal/engine"
	"github.com/Harsh-BH/appjob/internal/metrics"
)

type record struct {
	id          domain.JobID
	job         domain.Job
	description string
	engine      string
	listener    domain.Listener

	state     domain.JobState
	result    any
	hasResult bool
	err       error
	progress  domain.Progress

	reportPeriod time.Duration
	nextReport   time.Time
	autoDelete   bool

	// Set for foreground jobs, which are not owned by an engine.
	foreground bool
	cancel     context.CancelFunc

	created time.Time
	updated time.Time
}

// Dispatcher is the registry of engines and jobs. All methods are safe for
// concurrent use; listeners are only ever called from IdleCallback.
type Dispatcher struct {
	logger          *zap.Logger
	clock           func() time.Time
	minReportPeriod time.Duration
	errBuffer       int

	mu      sync.Mutex
	engines map[string]engine.Engine
	records map[domain.JobID]*record
	lastID  domain.JobID
	muted   bool
	closed  bool

	events *bridge.Queue[domain.Notification]
	errs   chan error
}

// New creates a dispatcher with no engines.
func New(logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:          logger,
		clock:           time.Now,
		minReportPeriod: DefaultMinReportPeriod,
		errBuffer:       defaultErrorBuffer,
		engines:         make(map[string]engine.Engine),
		records:         make(map[domain.JobID]*record),
		events:          bridge.NewQueue[domain.Notification](),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.errs = make(chan error, d.errBuffer)
	return d
}

// RegisterEngine starts eng and makes it available under name.
func (d *Dispatcher) RegisterEngine(name string, eng engine.Engine) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return domain.ErrEngineShutdown
	}
	if _, exists := d.engines[name]; exists {
		d.mu.Unlock()
		return fmt.Errorf("register %q: %w", name, domain.ErrEngineExists)
	}
	// Reserve the name so a concurrent registration fails.
	d.engines[name] = nil
	d.mu.Unlock()

	if err := eng.Start(&reporter{d: d, engine: name}); err != nil {
		d.mu.Lock()
		delete(d.engines, name)
		d.mu.Unlock()
		return fmt.Errorf("register %q: start engine: %w", name, err)
	}

	d.mu.Lock()
	d.engines[name] = eng
	d.mu.Unlock()

	d.logger.Info("Engine registered", zap.String("engine", name))
	return nil
}

// Engines returns the registered engine names, sorted.
func (d *Dispatcher) Engines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.engines))
	for name, eng := range d.engines {
		if eng != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// StartJob registers job and hands it to the named engine. The returned ID
// stays valid until DeleteJob. With Foreground the job runs to a terminal
// state before StartJob returns; its notifications still arrive through
// IdleCallback.
func (d *Dispatcher) StartJob(job domain.Job, engineName string, listener domain.Listener, opts ...StartOption) (domain.JobID, error) {
	var o startOptions
	for _, opt := range opts {
		opt(&o)
	}

	now := d.clock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return domain.InvalidJobID, domain.ErrEngineShutdown
	}
	eng := d.engines[engineName]
	if eng == nil {
		d.mu.Unlock()
		return domain.InvalidJobID, fmt.Errorf("start job on %q: %w", engineName, domain.ErrUnknownEngine)
	}

	d.lastID++
	rec := &record{
		id:          d.lastID,
		job:         job,
		description: job.Describe(),
		engine:      engineName,
		listener:    listener,
		state:       domain.StateCreated,
		autoDelete:  o.autoDelete,
		foreground:  o.foreground,
		created:     now,
		updated:     now,
	}
	if o.reportPeriod > 0 {
		rec.reportPeriod = max(o.reportPeriod, d.minReportPeriod)
		rec.nextReport = now.Add(rec.reportPeriod)
	}
	var runCtx context.Context
	if o.foreground {
		runCtx, rec.cancel = context.WithCancel(context.Background())
	}
	d.records[rec.id] = rec
	d.mu.Unlock()

	task := domain.NewTask(rec.id, job, o.locker)
	logger := d.logger.With(zap.Int64("job_id", int64(rec.id)), zap.String("engine", engineName))

	if o.foreground {
		metrics.JobsStarted.WithLabelValues(engineName).Inc()
		logger.Debug("Running job in foreground", zap.String("job", rec.description))
		d.runForeground(runCtx, rec, task)
		return rec.id, nil
	}

	if err := eng.Accept(task); err != nil {
		d.mu.Lock()
		delete(d.records, rec.id)
		d.mu.Unlock()
		logger.Warn("Engine refused job", zap.Error(err))
		return domain.InvalidJobID, fmt.Errorf("start job on %q: %w", engineName, err)
	}

	metrics.JobsStarted.WithLabelValues(engineName).Inc()
	logger.Debug("Job accepted", zap.String("job", rec.description))
	return rec.id, nil
}

func (d *Dispatcher) runForeground(ctx context.Context, rec *record, task *domain.Task) {
	defer rec.cancel()

	rep := &reporter{d: d, engine: rec.engine}
	rep.Report(rec.id, domain.StateRunning, nil, nil)

	for {
		out := engine.Execute(ctx, rec.engine, task, d.logger)
		if out.State != domain.StateRunning {
			rep.Report(rec.id, out.State, out.Result, out.Err)
			return
		}

		timer := time.NewTimer(task.Period())
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			rep.Report(rec.id, domain.StateCanceled, nil, nil)
			return
		}
	}
}

// CancelJob asks the job to stop. It does not wait for the job to reach
// Canceled; the listener learns about it through IdleCallback.
func (d *Dispatcher) CancelJob(id domain.JobID) error {
	d.mu.Lock()
	rec, ok := d.records[id]
	if !ok {
		d.mu.Unlock()
		return domain.ErrUnknownJob
	}
	if rec.state.IsTerminal() {
		d.mu.Unlock()
		return fmt.Errorf("cancel job %d in state %s: %w", id, rec.state, domain.ErrInvalidOperation)
	}
	if rec.foreground {
		cancel, job := rec.cancel, rec.job
		d.mu.Unlock()
		job.RequestCancel()
		cancel()
		return nil
	}
	eng := d.engines[rec.engine]
	d.mu.Unlock()

	return d.cancelOnEngine(eng, rec.engine, id)
}

func (d *Dispatcher) cancelOnEngine(eng engine.Engine, name string, id domain.JobID) error {
	err := eng.Cancel(id)
	if err == nil || errors.Is(err, domain.ErrUnknownJob) || errors.Is(err, domain.ErrInvalidOperation) {
		// The engine is already done with the job; its final report is queued.
		return nil
	}
	return fmt.Errorf("cancel job %d on %q: %w", id, name, err)
}

// CancelAllJobs requests cancellation of every job that is not terminal.
func (d *Dispatcher) CancelAllJobs() {
	d.mu.Lock()
	ids := make([]domain.JobID, 0, len(d.records))
	for id, rec := range d.records {
		if !rec.state.IsTerminal() {
			ids = append(ids, id)
		}
	}
	d.mu.Unlock()

	for _, id := range ids {
		if err := d.CancelJob(id); err != nil && !errors.Is(err, domain.ErrUnknownJob) && !errors.Is(err, domain.ErrInvalidOperation) {
			d.logger.Warn("Failed to cancel job", zap.Int64("job_id", int64(id)), zap.Error(err))
		}
	}
}

// DeleteJob forgets the job, canceling it first if it is still active.
// Notifications still in flight for it are dropped.
func (d *Dispatcher) DeleteJob(id domain.JobID) error {
	d.mu.Lock()
	rec, ok := d.records[id]
	if !ok {
		d.mu.Unlock()
		return domain.ErrUnknownJob
	}
	delete(d.records, id)
	active := !rec.state.IsTerminal()
	eng := d.engines[rec.engine]
	d.mu.Unlock()

	if !active {
		return nil
	}
	if rec.foreground {
		rec.job.RequestCancel()
		rec.cancel()
		return nil
	}
	return d.cancelOnEngine(eng, rec.engine, id)
}

// SuspendJob parks a running job on engines that support it.
func (d *Dispatcher) SuspendJob(id domain.JobID) error {
	s, err := d.suspender(id)
	if err != nil {
		return err
	}
	return s.Suspend(id)
}

// ResumeJob resumes a suspended job.
func (d *Dispatcher) ResumeJob(id domain.JobID) error {
	s, err := d.suspender(id)
	if err != nil {
		return err
	}
	return s.Resume(id)
}

func (d *Dispatcher) suspender(id domain.JobID) (engine.Suspender, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[id]
	if !ok {
		return nil, domain.ErrUnknownJob
	}
	if rec.state.IsTerminal() || rec.foreground {
		return nil, domain.ErrInvalidOperation
	}
	s, ok := d.engines[rec.engine].(engine.Suspender)
	if !ok {
		return nil, fmt.Errorf("engine %q cannot suspend jobs: %w", rec.engine, domain.ErrInvalidOperation)
	}
	return s, nil
}

// Mute stops listener delivery while on. Records keep being updated.
func (d *Dispatcher) Mute(on bool) {
	d.mu.Lock()
	d.muted = on
	d.mu.Unlock()
}

// Pending fires after an engine reports something IdleCallback should
// deliver.
func (d *Dispatcher) Pending() <-chan struct{} {
	return d.events.Ready()
}

// Errors carries EngineInternalErrors. Errors are dropped when nobody reads
// and the buffer is full.
func (d *Dispatcher) Errors() <-chan error {
	return d.errs
}

// IdleCallback must be called regularly from the goroutine that owns the
// listeners. It ticks cooperative engines, delivers queued notifications in
// order and performs active progress reporting. It reports whether any
// listener work was done.
func (d *Dispatcher) IdleCallback() bool {
	d.mu.Lock()
	tickers := make([]engine.Ticker, 0, len(d.engines))
	for _, eng := range d.engines {
		if t, ok := eng.(engine.Ticker); ok {
			tickers = append(tickers, t)
		}
	}
	d.mu.Unlock()

	for _, t := range tickers {
		t.Tick()
	}

	did := false
	for _, n := range d.events.Drain() {
		d.deliver(n)
		did = true
	}
	if d.reportProgress() {
		did = true
	}
	return did
}

func (d *Dispatcher) deliver(n domain.Notification) {
	d.mu.Lock()
	rec, ok := d.records[n.JobID]
	if !ok {
		d.mu.Unlock()
		metrics.NotificationsDropped.WithLabelValues("deleted").Inc()
		return
	}
	if rec.autoDelete && n.State.IsTerminal() {
		delete(d.records, n.JobID)
	}
	listener, muted := rec.listener, d.muted
	d.mu.Unlock()

	if muted {
		metrics.NotificationsDropped.WithLabelValues("muted").Inc()
		return
	}
	if listener == nil {
		return
	}

	d.safeNotify(n.JobID, func() { listener.OnJobStateChanged(n) })
	metrics.NotificationsDelivered.WithLabelValues(n.State.String()).Inc()
}

func (d *Dispatcher) reportProgress() bool {
	now := d.clock()

	type due struct {
		id       domain.JobID
		job      domain.Job
		listener domain.ProgressListener
	}
	var batch []due

	d.mu.Lock()
	if d.muted {
		d.mu.Unlock()
		return false
	}
	for id, rec := range d.records {
		if rec.reportPeriod <= 0 || rec.state.IsTerminal() || now.Before(rec.nextReport) {
			continue
		}
		rec.nextReport = now.Add(rec.reportPeriod)
		pl, _ := rec.listener.(domain.ProgressListener)
		batch = append(batch, due{id: id, job: rec.job, listener: pl})
	}
	d.mu.Unlock()

	sort.Slice(batch, func(i, j int) bool { return batch[i].id < batch[j].id })

	for _, b := range batch {
		p := b.job.Progress()

		d.mu.Lock()
		if rec, ok := d.records[b.id]; ok {
			rec.progress = p
		}
		d.mu.Unlock()

		if b.listener != nil {
			d.safeNotify(b.id, func() { b.listener.OnJobProgress(b.id, p) })
		}
	}
	return len(batch) > 0
}

func (d *Dispatcher) safeNotify(id domain.JobID, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ListenerPanics.Inc()
			d.logger.Error("Listener panic recovered",
				zap.Int64("job_id", int64(id)),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}

// Shutdown cancels every job, forgets all records and shuts the engines down.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	records := d.records
	d.records = make(map[domain.JobID]*record)
	engines := d.engines
	d.mu.Unlock()

	for _, rec := range records {
		if rec.foreground && !rec.state.IsTerminal() {
			rec.job.RequestCancel()
			rec.cancel()
		}
	}

	var errs []error
	for name, eng := range engines {
		if eng == nil {
			continue
		}
		if err := eng.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %q: %w", name, err))
		}
	}
	d.events.Drain()

	d.logger.Info("Dispatcher stopped", zap.Int("dropped_jobs", len(records)))
	return errors.Join(errs...)
}
