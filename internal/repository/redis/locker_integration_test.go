//go:build integration

package redis_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Harsh-BH/appjob/internal/repository/redis"
)

// ──────────────────────────────────────────────────────
// Integration tests: require a reachable Redis
// Run with: REDIS_URL=redis://localhost:6379 go test -tags integration ./internal/repository/redis/
// ──────────────────────────────────────────────────────

func newIntegrationClient(t *testing.T) *goredis.Client {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping integration test")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse REDIS_URL: %v", err)
	}
	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unreachable, skipping integration test: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLocker_MutualExclusion(t *testing.T) {
	client := newIntegrationClient(t)
	resource := "test-" + uuid.NewString()

	a := redis.NewLocker(client, resource, redis.WithRetryDelay(10*time.Millisecond))
	b := redis.NewLocker(client, resource, redis.WithRetryDelay(10*time.Millisecond))

	ctx := context.Background()
	if err := a.Acquire(ctx); err != nil {
		t.Fatalf("a acquire: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if err := b.Acquire(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected b to time out while a holds the lock, got %v", err)
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("a release: %v", err)
	}
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("b acquire after release: %v", err)
	}
	if err := b.Release(ctx); err != nil {
		t.Fatalf("b release: %v", err)
	}
}

func TestLocker_TryAcquire(t *testing.T) {
	client := newIntegrationClient(t)
	resource := "test-" + uuid.NewString()
	a := redis.NewLocker(client, resource)
	b := redis.NewLocker(client, resource)

	ctx := context.Background()
	if ok, err := a.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("a try: %v %v", ok, err)
	}
	if ok, err := b.TryAcquire(ctx); err != nil || ok {
		t.Fatalf("b should find the lock busy, got %v %v", ok, err)
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("a release: %v", err)
	}
	if ok, _ := b.TryAcquire(ctx); !ok {
		t.Fatal("b should take the lock after release")
	}
	_ = b.Release(ctx)
}

func TestLocker_ReleaseAfterExpiry(t *testing.T) {
	client := newIntegrationClient(t)
	l := redis.NewLocker(client, "test-"+uuid.NewString(), redis.WithLockTTL(50*time.Millisecond))

	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := l.Release(ctx); !errors.Is(err, redis.ErrLockNotHeld) {
		t.Errorf("expected ErrLockNotHeld, got %v", err)
	}
}

func TestIdempotencyStore_RejectsDuplicates(t *testing.T) {
	client := newIntegrationClient(t)
	store := redis.NewRedisIdempotencyStore(client)
	key := uuid.NewString()

	ctx := context.Background()
	first, err := store.AcquireLock(ctx, key)
	if err != nil || !first {
		t.Fatalf("expected first acquire, got %v %v", first, err)
	}
	second, err := store.AcquireLock(ctx, key)
	if err != nil || second {
		t.Fatalf("expected duplicate, got %v %v", second, err)
	}
	if err := store.ReleaseLock(ctx, key); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, _ := store.AcquireLock(ctx, key)
	if !again {
		t.Error("expected acquire after release")
	}
	_ = store.ReleaseLock(ctx, key)
}
