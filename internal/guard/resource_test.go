package guard_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Harsh-BH/appjob/internal/domain"
	"github.com/Harsh-BH/appjob/internal/guard"
)

func TestResource_SharedHoldersRunTogether(t *testing.T) {
	res := guard.NewResource("catalog", 3)
	ctx := context.Background()

	lockers := []domain.DataLocker{res.Shared(), res.Shared(), res.Shared()}

	for i, l := range lockers {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("shared %d: %v", i, err)
		}
	}
	for _, l := range lockers {
		_ = l.Release(ctx)
	}
}

func TestResource_ExclusiveBlocksShared(t *testing.T) {
	res := guard.NewResource("catalog", 2)
	ctx := context.Background()

	w := res.Exclusive()
	if err := w.Acquire(ctx); err != nil {
		t.Fatalf("exclusive: %v", err)
	}

	timeout, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if err := res.Shared().Acquire(timeout); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected shared acquire to time out, got %v", err)
	}

	_ = w.Release(ctx)
	r := res.Shared()
	if err := r.Acquire(ctx); err != nil {
		t.Fatalf("shared after release: %v", err)
	}
	_ = r.Release(ctx)
}

func TestResource_ExclusiveHoldersNeverOverlap(t *testing.T) {
	res := guard.NewResource("ledger", 4)
	ctx := context.Background()

	var inside, overlaps atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := res.Exclusive()
			if err := l.Acquire(ctx); err != nil {
				t.Error(err)
				return
			}
			if inside.Add(1) > 1 {
				overlaps.Add(1)
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			_ = l.Release(ctx)
		}()
	}
	wg.Wait()

	if overlaps.Load() != 0 {
		t.Errorf("exclusive holders overlapped %d times", overlaps.Load())
	}
}

func TestRegistry_SameNameSameResource(t *testing.T) {
	reg := guard.NewRegistry(2)
	ctx := context.Background()

	w := reg.Locker("db", true)
	if err := w.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer w.Release(ctx)

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := reg.Locker("db", false).Acquire(timeout); err == nil {
		t.Fatal("expected shared locker on the same resource to block")
	}

	other := reg.Locker("cache", true)
	if err := other.Acquire(ctx); err != nil {
		t.Fatalf("other resource: %v", err)
	}
	_ = other.Release(ctx)
}

func TestResource_TryAcquireNeverWaits(t *testing.T) {
	res := guard.NewResource("catalog", 2)
	ctx := context.Background()

	w := res.Exclusive()
	if err := w.Acquire(ctx); err != nil {
		t.Fatalf("exclusive: %v", err)
	}

	r, ok := res.Shared().(domain.TryLocker)
	if !ok {
		t.Fatal("guard lockers should support TryAcquire")
	}
	if got, err := r.TryAcquire(ctx); err != nil || got {
		t.Fatalf("expected busy while exclusive is held, got %v %v", got, err)
	}

	_ = w.Release(ctx)
	if got, err := r.TryAcquire(ctx); err != nil || !got {
		t.Fatalf("expected shared after release, got %v %v", got, err)
	}
	_ = r.Release(ctx)
}
