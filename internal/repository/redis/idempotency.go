package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Harsh-BH/appjob/internal/repository"
)

var _ repository.IdempotencyStore = (*redisIdempotency)(nil)

const (
	requestKeyPrefix = "appjob:request:"
	requestTTL       = 24 * time.Hour
)

type redisIdempotency struct {
	client goredis.UniversalClient
}

// NewRedisIdempotencyStore creates a Redis-backed idempotency store using SET NX.
func NewRedisIdempotencyStore(client goredis.UniversalClient) repository.IdempotencyStore {
	return &redisIdempotency{client: client}
}

// AcquireLock uses Redis SETNX to atomically claim a request ID.
func (r *redisIdempotency) AcquireLock(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, requestKeyPrefix+key, time.Now().Unix(), requestTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire request lock: %w", err)
	}
	return ok, nil
}

// ReleaseLock deletes the claim so a failed request can be retried.
func (r *redisIdempotency) ReleaseLock(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, requestKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis: release request lock: %w", err)
	}
	return nil
}
