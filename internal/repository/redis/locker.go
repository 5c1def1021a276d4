package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Harsh-BH/appjob/internal/domain"
)

var _ domain.TryLocker = (*Locker)(nil)

const (
	lockKeyPrefix     = "appjob:lock:"
	defaultLockTTL    = 5 * time.Minute
	defaultRetryDelay = 100 * time.Millisecond
)

// ErrLockNotHeld is returned by Release when the lock expired or was taken
// over by another holder.
var ErrLockNotHeld = errors.New("redis: lock not held")

// releaseScript deletes the key only if it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker is a DataLocker shared across processes through a Redis key.
// Acquire polls until the key is free or ctx is done.
type Locker struct {
	client     goredis.UniversalClient
	key        string
	ttl        time.Duration
	retryDelay time.Duration

	mu    sync.Mutex
	token string
}

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithLockTTL bounds how long a crashed holder keeps the lock.
func WithLockTTL(ttl time.Duration) LockerOption {
	return func(l *Locker) { l.ttl = ttl }
}

// WithRetryDelay sets the polling interval while the lock is busy.
func WithRetryDelay(d time.Duration) LockerOption {
	return func(l *Locker) { l.retryDelay = d }
}

// NewLocker creates a locker guarding resource.
func NewLocker(client goredis.UniversalClient, resource string, opts ...LockerOption) *Locker {
	l := &Locker{
		client:     client,
		key:        lockKeyPrefix + resource,
		ttl:        defaultLockTTL,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Locker) Acquire(ctx context.Context) error {
	for {
		ok, err := l.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(l.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire makes a single attempt to take the key.
func (l *Locker) TryAcquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire lock %s: %w", l.key, err)
	}
	if ok {
		l.mu.Lock()
		l.token = token
		l.mu.Unlock()
	}
	return ok, nil
}

func (l *Locker) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()

	if token == "" {
		return ErrLockNotHeld
	}
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
	if err != nil {
		return fmt.Errorf("redis: release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// LockerFactory builds Redis lockers by resource name. Redis locks are
// always exclusive.
type LockerFactory struct {
	client goredis.UniversalClient
	opts   []LockerOption
}

// NewLockerFactory creates a factory sharing client.
func NewLockerFactory(client goredis.UniversalClient, opts ...LockerOption) *LockerFactory {
	return &LockerFactory{client: client, opts: opts}
}

// Locker returns a new locker for resource.
func (f *LockerFactory) Locker(resource string, _ bool) domain.DataLocker {
	return NewLocker(f.client, resource, f.opts...)
}
