package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Harsh-BH/appjob/internal/domain"
	"github.com/Harsh-BH/appjob/internal/jobs"
)

func TestPrimeFinder_Completes(t *testing.T) {
	j := jobs.NewPrimeFinder(30)

	if state := j.Run(context.Background()); state != domain.StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", state)
	}
	result, ok := j.Result()
	if !ok {
		t.Fatal("expected a result")
	}
	primes := result.([]int)
	want := []int{2, 3, 5, 7, 11, 13, 17, 19, 23, 29}
	if len(primes) != len(want) {
		t.Fatalf("expected %v, got %v", want, primes)
	}
	for i := range want {
		if primes[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, primes)
		}
	}
	if p := j.Progress(); p.Fraction != 1 {
		t.Errorf("expected full progress, got %v", p.Fraction)
	}
}

func TestPrimeFinder_ObservesCancel(t *testing.T) {
	j := jobs.NewPrimeFinder(1_000_000)
	j.RequestCancel()

	if state := j.Run(context.Background()); state != domain.StateCanceled {
		t.Fatalf("expected CANCELED, got %s", state)
	}
	if _, ok := j.Result(); ok {
		t.Error("canceled job must not have a result")
	}
}

func TestPrimeFinder_RejectsTinyLimit(t *testing.T) {
	j := jobs.NewPrimeFinder(1)
	if state := j.Run(context.Background()); state != domain.StateFailed {
		t.Fatalf("expected FAILED, got %s", state)
	}
	if j.Err() == nil {
		t.Error("expected an error")
	}
}

func TestCountdown_ShrinksPeriodAndCompletes(t *testing.T) {
	j := jobs.NewCountdown(3, 4*time.Second, 2*time.Second, time.Second)

	if j.WaitPeriod() != 4*time.Second {
		t.Fatalf("unexpected initial period %s", j.WaitPeriod())
	}

	if state := j.Run(context.Background()); state != domain.StateRunning {
		t.Fatalf("run 1: expected RUNNING, got %s", state)
	}
	if j.WaitPeriod() != 2*time.Second {
		t.Errorf("expected 2s after one run, got %s", j.WaitPeriod())
	}

	_ = j.Run(context.Background())
	if j.WaitPeriod() != time.Second {
		t.Errorf("expected period floored at 1s, got %s", j.WaitPeriod())
	}

	if state := j.Run(context.Background()); state != domain.StateCompleted {
		t.Fatalf("run 3: expected COMPLETED, got %s", state)
	}
	if result, _ := j.Result(); result != 3 {
		t.Errorf("expected result 3, got %v", result)
	}
}

func TestCatalog_BuildsKnownKinds(t *testing.T) {
	c := jobs.DefaultCatalog()

	job, err := c.New("primes", json.RawMessage(`{"limit": 100}`))
	if err != nil {
		t.Fatalf("primes: %v", err)
	}
	if job.Describe() != "find primes up to 100" {
		t.Errorf("unexpected description %q", job.Describe())
	}

	job, err = c.New("countdown", json.RawMessage(`{"steps": 2, "period": "10ms"}`))
	if err != nil {
		t.Fatalf("countdown: %v", err)
	}
	if _, ok := job.(domain.PeriodicJob); !ok {
		t.Error("countdown must be periodic")
	}

	if kinds := c.Kinds(); len(kinds) != 2 || kinds[0] != "countdown" {
		t.Errorf("unexpected kinds %v", kinds)
	}
}

func TestCatalog_Errors(t *testing.T) {
	c := jobs.DefaultCatalog()

	if _, err := c.New("render", nil); !errors.Is(err, jobs.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := c.New("primes", json.RawMessage(`{"limit": 1}`)); err == nil {
		t.Error("expected limit validation error")
	}
	if _, err := c.New("countdown", json.RawMessage(`{"period": "soon"}`)); err == nil {
		t.Error("expected duration parse error")
	}
	if _, err := c.New("primes", json.RawMessage(`{"limit": "many"}`)); err == nil {
		t.Error("expected decode error")
	}
}
