package locks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"plugin-runtime/internal/circuitbreaker"
	"plugin-runtime/internal/common/errors"
	"plugin-runtime/internal/redis"
)

func setupManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()

	// Setup mini Redis server for testing
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	redisClient, err := redis.NewClient(&redis.Config{
		Address: s.Addr(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { redisClient.Close() })

	manager, err := NewManager(redisClient)
	require.NoError(t, err)
	return manager, s
}

func TestNewManager_RequiresClient(t *testing.T) {
	_, err := NewManager(nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestManager_AcquireLock(t *testing.T) {
	manager, s := setupManager(t)
	ctx := context.Background()

	t.Run("first holder wins", func(t *testing.T) {
		acquired, err := manager.AcquireLock(ctx, "cycle:p1", time.Minute)
		require.NoError(t, err)
		assert.True(t, acquired)
		assert.True(t, s.Exists("lock:cycle:p1"))
		assert.InDelta(t, time.Minute.Seconds(), s.TTL("lock:cycle:p1").Seconds(), 1)
	})

	t.Run("contention reports false", func(t *testing.T) {
		acquired, err := manager.AcquireLock(ctx, "cycle:p1", time.Minute)
		require.NoError(t, err)
		assert.False(t, acquired)
		assert.True(t, s.Exists("lock:cycle:p1"), "a failed attempt leaves the holder's key alone")
	})

	t.Run("independent keys", func(t *testing.T) {
		acquired, err := manager.AcquireLock(ctx, "cycle:p2", time.Minute)
		require.NoError(t, err)
		assert.True(t, acquired)
	})

	t.Run("lock expires after its ttl", func(t *testing.T) {
		s.FastForward(time.Minute + time.Second)

		acquired, err := manager.AcquireLock(ctx, "cycle:p1", time.Minute)
		require.NoError(t, err)
		assert.True(t, acquired)
	})

	t.Run("rejects non-positive ttl", func(t *testing.T) {
		_, err := manager.AcquireLock(ctx, "cycle:p3", 0)
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})
}

func TestManager_ConcurrentAcquire(t *testing.T) {
	manager, _ := setupManager(t)
	ctx := context.Background()

	results := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			acquired, err := manager.AcquireLock(ctx, "cycle:shared", time.Minute)
			assert.NoError(t, err)
			results <- acquired
		}()
	}

	acquiredCount := 0
	for i := 0; i < 10; i++ {
		if <-results {
			acquiredCount++
		}
	}

	// Only one should acquire the lock
	assert.Equal(t, 1, acquiredCount)
}

func TestManager_ServerDown(t *testing.T) {
	manager, s := setupManager(t)
	s.Close()

	acquired, err := manager.AcquireLock(context.Background(), "cycle:p1", time.Minute)
	assert.False(t, acquired)
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
}

func TestManager_BreakerFailsFast(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	redisClient, err := redis.NewClient(&redis.Config{Address: s.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { redisClient.Close() })

	manager, err := NewManagerWithBreaker(redisClient, circuitbreaker.Config{
		MaxFailures:           2,
		Timeout:               50 * time.Millisecond,
		MaxConcurrentRequests: 1,
	})
	require.NoError(t, err)
	ctx := context.Background()

	s.Close()
	for i := 0; i < 2; i++ {
		_, err := manager.AcquireLock(ctx, "cycle:p1", time.Minute)
		require.Error(t, err)
	}
	require.NoError(t, s.Restart())

	_, err = manager.AcquireLock(ctx, "cycle:p1", time.Minute)
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
	assert.Contains(t, err.Error(), "is open")
	assert.False(t, s.Exists("lock:cycle:p1"), "no attempt is made while the circuit is open")

	assert.Eventually(t, func() bool {
		acquired, err := manager.AcquireLock(ctx, "cycle:p1", time.Minute)
		return err == nil && acquired
	}, time.Second, 20*time.Millisecond)
}
