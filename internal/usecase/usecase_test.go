package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/appjob/internal/dispatcher"
	"github.com/Harsh-BH/appjob/internal/domain"
	"github.com/Harsh-BH/appjob/internal/engine"
	"github.com/Harsh-BH/appjob/internal/guard"
	"github.com/Harsh-BH/appjob/internal/jobs"
	"github.com/Harsh-BH/appjob/internal/mock"
	repomock "github.com/Harsh-BH/appjob/internal/repository/mock"
	"github.com/Harsh-BH/appjob/internal/usecase"
)

func newTestService(t *testing.T, opts ...usecase.ServiceOption) (*usecase.JobService, *dispatcher.Dispatcher, *mock.Listener) {
	t.Helper()

	logger := zap.NewNop()
	d := dispatcher.New(logger)
	if err := d.RegisterEngine("pool", engine.NewPool("pool", 2, 8, logger)); err != nil {
		t.Fatalf("register pool: %v", err)
	}
	if err := d.RegisterEngine("scheduler", engine.NewScheduler("scheduler", logger)); err != nil {
		t.Fatalf("register scheduler: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})

	listener := &mock.Listener{}
	svc := usecase.NewJobService(d, jobs.DefaultCatalog(), listener, logger, opts...)
	return svc, d, listener
}

func TestStart_PicksEngineByJobType(t *testing.T) {
	svc, _, _ := newTestService(t)

	info, err := svc.Start(context.Background(), usecase.StartRequest{Kind: "primes", Params: json.RawMessage(`{"limit": 50}`)})
	if err != nil {
		t.Fatalf("start primes: %v", err)
	}
	if info.Engine != "pool" {
		t.Errorf("expected one-shot job on pool, got %s", info.Engine)
	}

	info, err = svc.Start(context.Background(), usecase.StartRequest{Kind: "countdown"})
	if err != nil {
		t.Fatalf("start countdown: %v", err)
	}
	if info.Engine != "scheduler" {
		t.Errorf("expected periodic job on scheduler, got %s", info.Engine)
	}
}

func TestStart_ForegroundIsTerminal(t *testing.T) {
	svc, d, listener := newTestService(t)

	info, err := svc.Start(context.Background(), usecase.StartRequest{
		Kind:       "primes",
		Params:     json.RawMessage(`{"limit": 20}`),
		Foreground: true,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if info.State != domain.StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", info.State)
	}

	d.IdleCallback()
	if n, ok := listener.Last(info.ID); !ok || n.State != domain.StateCompleted {
		t.Errorf("expected completed notification, got %+v", n)
	}
}

func TestStart_InvalidRequests(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []usecase.StartRequest{
		{},
		{Kind: "teleport"},
		{Kind: "primes", Params: json.RawMessage(`{"limit": -3}`)},
		{Kind: "primes", Resource: "db"},
	}
	for _, req := range cases {
		if _, err := svc.Start(ctx, req); !errors.Is(err, usecase.ErrInvalidRequest) {
			t.Errorf("%+v: expected ErrInvalidRequest, got %v", req, err)
		}
	}

	if _, err := svc.Start(ctx, usecase.StartRequest{Kind: "primes", Engine: "gpu"}); !errors.Is(err, domain.ErrUnknownEngine) {
		t.Errorf("expected ErrUnknownEngine, got %v", err)
	}
}

func TestStart_DuplicateRequestID(t *testing.T) {
	idem := &repomock.IdempotencyStore{}
	svc, _, _ := newTestService(t, usecase.WithIdempotency(idem))
	ctx := context.Background()

	req := usecase.StartRequest{Kind: "primes", RequestID: "req-1"}
	if _, err := svc.Start(ctx, req); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := svc.Start(ctx, req); !errors.Is(err, usecase.ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
}

func TestStart_FailedStartReleasesRequestID(t *testing.T) {
	idem := &repomock.IdempotencyStore{}
	svc, _, _ := newTestService(t, usecase.WithIdempotency(idem))

	req := usecase.StartRequest{Kind: "primes", Engine: "gpu", RequestID: "req-2"}
	if _, err := svc.Start(context.Background(), req); err == nil {
		t.Fatal("expected error")
	}
	if len(idem.ReleaseCalls) != 1 || idem.ReleaseCalls[0] != "req-2" {
		t.Errorf("expected request id released, got %v", idem.ReleaseCalls)
	}
}

func TestStart_WithResourceLock(t *testing.T) {
	svc, _, _ := newTestService(t, usecase.WithLockers(guard.NewRegistry(4)))

	info, err := svc.Start(context.Background(), usecase.StartRequest{
		Kind:       "primes",
		Resource:   "catalog",
		Exclusive:  true,
		Foreground: true,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if info.State != domain.StateCompleted {
		t.Errorf("expected COMPLETED, got %s", info.State)
	}
}

func TestHistory(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.History(context.Background(), 1); !errors.Is(err, usecase.ErrHistoryDisabled) {
		t.Errorf("expected ErrHistoryDisabled, got %v", err)
	}

	repo := &repomock.TransitionRepository{}
	_ = repo.Record(context.Background(), domain.Transition{JobID: 1, State: domain.StateRunning})
	svc, _, _ = newTestService(t, usecase.WithHistory(repo))

	history, err := svc.History(context.Background(), 1)
	if err != nil || len(history) != 1 {
		t.Errorf("expected one transition, got %v (%v)", history, err)
	}
}

func TestEnginesAndKinds(t *testing.T) {
	svc, _, _ := newTestService(t)

	if engines := svc.Engines(); len(engines) != 2 || engines[0] != "pool" || engines[1] != "scheduler" {
		t.Errorf("unexpected engines %v", engines)
	}
	if kinds := svc.Kinds(); len(kinds) != 2 {
		t.Errorf("unexpected kinds %v", kinds)
	}
}
