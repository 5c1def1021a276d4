package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/appjob/internal/dispatcher"
	"github.com/Harsh-BH/appjob/internal/domain"
	"github.com/Harsh-BH/appjob/internal/jobs"
	"github.com/Harsh-BH/appjob/internal/repository"
)

var (
	// ErrInvalidRequest wraps validation failures of a StartRequest.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrDuplicateRequest is returned when a request ID was already submitted.
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrHistoryDisabled is returned when no transition repository is configured.
	ErrHistoryDisabled = errors.New("transition history is not enabled")
)

// Dispatcher is the part of dispatcher.Dispatcher the service drives.
type Dispatcher interface {
	StartJob(job domain.Job, engineName string, listener domain.Listener, opts ...dispatcher.StartOption) (domain.JobID, error)
	CancelJob(id domain.JobID) error
	DeleteJob(id domain.JobID) error
	SuspendJob(id domain.JobID) error
	ResumeJob(id domain.JobID) error
	Job(id domain.JobID) (dispatcher.JobInfo, error)
	Jobs() []dispatcher.JobInfo
	Engines() []string
}

// Lockers hands out DataLockers for named resources.
type Lockers interface {
	Locker(resource string, exclusive bool) domain.DataLocker
}

// StartRequest describes a job to start.
type StartRequest struct {
	Kind           string          `json:"kind"`
	Params         json.RawMessage `json:"params,omitempty"`
	Engine         string          `json:"engine,omitempty"`
	ReportPeriodMs int             `json:"report_period_ms,omitempty"`
	Foreground     bool            `json:"foreground,omitempty"`
	AutoDelete     bool            `json:"auto_delete,omitempty"`
	Resource       string          `json:"resource,omitempty"`
	Exclusive      bool            `json:"exclusive,omitempty"`
	RequestID      string          `json:"request_id,omitempty"`
}

// JobService starts and manages jobs built from the catalog.
type JobService struct {
	d        Dispatcher
	catalog  *jobs.Catalog
	listener domain.Listener
	logger   *zap.Logger

	lockers        Lockers
	idempotent     repository.IdempotencyStore
	history        repository.TransitionRepository
	defaultEngine  string
	periodicEngine string
}

// ServiceOption configures a JobService.
type ServiceOption func(*JobService)

// WithLockers enables the Resource field of start requests.
func WithLockers(l Lockers) ServiceOption {
	return func(s *JobService) { s.lockers = l }
}

// WithIdempotency rejects repeated request IDs.
func WithIdempotency(store repository.IdempotencyStore) ServiceOption {
	return func(s *JobService) { s.idempotent = store }
}

// WithHistory enables History.
func WithHistory(repo repository.TransitionRepository) ServiceOption {
	return func(s *JobService) { s.history = repo }
}

// WithDefaultEngines sets the engines used when a request names none.
func WithDefaultEngines(oneShot, periodic string) ServiceOption {
	return func(s *JobService) {
		s.defaultEngine = oneShot
		s.periodicEngine = periodic
	}
}

// NewJobService creates a JobService. listener receives the notifications of
// every job the service starts.
func NewJobService(d Dispatcher, catalog *jobs.Catalog, listener domain.Listener, logger *zap.Logger, opts ...ServiceOption) *JobService {
	s := &JobService{
		d:              d,
		catalog:        catalog,
		listener:       listener,
		logger:         logger,
		defaultEngine:  "pool",
		periodicEngine: "scheduler",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the requested job and hands it to the dispatcher.
func (s *JobService) Start(ctx context.Context, req StartRequest) (dispatcher.JobInfo, error) {
	if req.Kind == "" {
		return dispatcher.JobInfo{}, fmt.Errorf("%w: kind is required", ErrInvalidRequest)
	}
	job, err := s.catalog.New(req.Kind, req.Params)
	if err != nil {
		return dispatcher.JobInfo{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	engineName := req.Engine
	if engineName == "" {
		engineName = s.defaultEngine
		if _, periodic := job.(domain.PeriodicJob); periodic {
			engineName = s.periodicEngine
		}
	}

	var opts []dispatcher.StartOption
	if req.ReportPeriodMs > 0 {
		opts = append(opts, dispatcher.WithReportPeriod(time.Duration(req.ReportPeriodMs)*time.Millisecond))
	}
	if req.Foreground {
		opts = append(opts, dispatcher.Foreground())
	}
	if req.AutoDelete {
		opts = append(opts, dispatcher.WithAutoDelete())
	}
	if req.Resource != "" {
		if s.lockers == nil {
			return dispatcher.JobInfo{}, fmt.Errorf("%w: resource locking is not enabled", ErrInvalidRequest)
		}
		opts = append(opts, dispatcher.WithDataLocker(s.lockers.Locker(req.Resource, req.Exclusive)))
	}

	if req.RequestID != "" && s.idempotent != nil {
		acquired, err := s.idempotent.AcquireLock(ctx, req.RequestID)
		if err != nil {
			return dispatcher.JobInfo{}, fmt.Errorf("check request %s: %w", req.RequestID, err)
		}
		if !acquired {
			return dispatcher.JobInfo{}, fmt.Errorf("%w: %s", ErrDuplicateRequest, req.RequestID)
		}
	}

	id, err := s.d.StartJob(job, engineName, s.listener, opts...)
	if err != nil {
		if req.RequestID != "" && s.idempotent != nil {
			if relErr := s.idempotent.ReleaseLock(ctx, req.RequestID); relErr != nil {
				s.logger.Warn("Failed to release request lock", zap.String("request_id", req.RequestID), zap.Error(relErr))
			}
		}
		return dispatcher.JobInfo{}, err
	}

	s.logger.Info("Job started",
		zap.Int64("job_id", int64(id)),
		zap.String("kind", req.Kind),
		zap.String("engine", engineName),
		zap.String("request_id", req.RequestID),
	)

	info, err := s.d.Job(id)
	if err != nil {
		// Auto-deleted foreground jobs can be gone already.
		return dispatcher.JobInfo{ID: id, Engine: engineName, Description: job.Describe(), State: domain.StateInvalid}, nil
	}
	return info, nil
}

// Get returns a snapshot of one job.
func (s *JobService) Get(id domain.JobID) (dispatcher.JobInfo, error) {
	return s.d.Job(id)
}

// List returns snapshots of all jobs.
func (s *JobService) List() []dispatcher.JobInfo {
	return s.d.Jobs()
}

func (s *JobService) Cancel(id domain.JobID) error  { return s.d.CancelJob(id) }
func (s *JobService) Delete(id domain.JobID) error  { return s.d.DeleteJob(id) }
func (s *JobService) Suspend(id domain.JobID) error { return s.d.SuspendJob(id) }
func (s *JobService) Resume(id domain.JobID) error  { return s.d.ResumeJob(id) }

// Engines returns the registered engine names.
func (s *JobService) Engines() []string { return s.d.Engines() }

// Kinds returns the job kinds the catalog can build.
func (s *JobService) Kinds() []string { return s.catalog.Kinds() }

// History returns the stored transitions of a job, which outlive DeleteJob.
func (s *JobService) History(ctx context.Context, id domain.JobID) ([]domain.Transition, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.History(ctx, id)
}
