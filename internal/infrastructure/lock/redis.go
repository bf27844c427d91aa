package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/garyjia/receipt-ledger/internal/application/port"
	"github.com/garyjia/receipt-ledger/internal/domain/entity"
	"github.com/garyjia/receipt-ledger/internal/infrastructure/retry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultTTL bounds how long a crashed holder can block a document
const DefaultTTL = 30 * time.Second

// RedisLocker holds document locks in Redis so that several engine instances
// writing to one shared document root stay single-writer per document.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	policy retry.Policy
	logger *zap.Logger
}

// NewRedisLocker creates a RedisLocker on an existing Redis client
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration, policy retry.Policy, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{
		client: redislock.New(rdb),
		ttl:    ttl,
		policy: policy,
		logger: logger,
	}
}

// Lock obtains key, retrying with the policy's linear backoff. The release
// function uses a fresh context so a cancelled request still frees the lock.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: l.retryStrategy(),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("failed to lock %s: %w: %w", key, entity.ErrStorageContention, ErrLockBusy)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", key, err)
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("Failed to release document lock",
				zap.String("key", key),
				zap.Error(err))
		}
	}, nil
}

func (l *RedisLocker) retryStrategy() redislock.RetryStrategy {
	retries := l.policy.Attempts - 1
	if retries <= 0 {
		return redislock.NoRetry()
	}
	return redislock.LimitRetry(redislock.LinearBackoff(l.policy.Delay), retries)
}

var _ port.DocumentLocker = (*RedisLocker)(nil)
