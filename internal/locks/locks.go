// Package locks provides the distributed cycle locks shared by runtime
// instances, using the Redlock implementation from go-redsync/redsync/v4.
//
// A cycle lock is taken with a single attempt and never released: it expires
// on its own after the plugin's cycle interval, so whichever instance takes
// it first runs the callback once for the whole cluster.
package locks

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"plugin-runtime/internal/circuitbreaker"
	"plugin-runtime/internal/common/errors"
	"plugin-runtime/internal/common/logging"
	"plugin-runtime/internal/redis"
)

const (
	keyPrefix = "lock:"

	// minRoundTrip bounds the per-attempt Redis timeout from below. Redsync
	// derives the timeout from the expiry, which is too short for sub-minute
	// intervals.
	minRoundTrip = 500 * time.Millisecond
)

// Manager hands out expiring distributed locks.
type Manager struct {
	redsync *redsync.Redsync
	breaker *circuitbreaker.Breaker
}

// NewManager creates a lock manager on a connected Redis client. Lock
// attempts fail fast once Redis has stopped answering.
func NewManager(redisClient *redis.Client) (*Manager, error) {
	return NewManagerWithBreaker(redisClient, circuitbreaker.DefaultConfig())
}

// NewManagerWithBreaker is NewManager with explicit circuit breaker settings.
func NewManagerWithBreaker(redisClient *redis.Client, breaker circuitbreaker.Config) (*Manager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}

	pool := goredis.NewPool(redisClient.GetGoRedisClient())
	return &Manager{
		redsync: redsync.New(pool),
		breaker: circuitbreaker.New("redis-locks", breaker, logging.Component("locks")),
	}, nil
}

// AcquireLock makes one attempt to take key for expiration. It reports false
// without error when another holder has the key.
func (m *Manager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	if expiration <= 0 {
		return false, errors.ValidationError("lock expiration must be positive")
	}

	timeoutFactor := 0.05
	if floor := float64(minRoundTrip) / float64(expiration); floor > timeoutFactor {
		timeoutFactor = floor
	}

	mutex := m.redsync.NewMutex(keyPrefix+key,
		redsync.WithExpiry(expiration),
		redsync.WithTries(1),
		redsync.WithTimeoutFactor(timeoutFactor),
	)

	acquired := false
	err := m.breaker.Execute(func() error {
		err := mutex.LockContext(ctx)
		if err == nil {
			acquired = true
			return nil
		}

		var taken *redsync.ErrTaken
		if stderrors.As(err, &taken) || stderrors.Is(err, redsync.ErrFailed) {
			return nil
		}
		return errors.ConnectionError("failed to acquire distributed lock", err).WithContext("key", key)
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}
