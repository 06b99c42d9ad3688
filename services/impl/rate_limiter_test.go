package impl

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rms-knowledge-service/config"
	"github.com/rms-knowledge-service/services"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled limiter always allows", func(t *testing.T) {
		limiter := NewRateLimiter(nil, &config.RateLimitConfig{Enabled: false, RequestsPerHour: 1})
		for i := 0; i < 5; i++ {
			decision, err := limiter.Allow(ctx, "user-1", "kitchen_management")
			require.NoError(t, err)
			assert.True(t, decision.Allowed)
		}
	})

	t.Run("redis window blocks past the limit", func(t *testing.T) {
		limiter := NewRateLimiter(testRedis(t), &config.RateLimitConfig{Enabled: true, RequestsPerHour: 3})

		for i := 0; i < 3; i++ {
			decision, err := limiter.Allow(ctx, "user-1", "kitchen_management")
			require.NoError(t, err)
			assert.True(t, decision.Allowed, "request %d", i)
		}

		decision, err := limiter.Allow(ctx, "user-1", "kitchen_management")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Greater(t, decision.RetryAfter, time.Duration(0))
	})

	t.Run("limits scale by access level", func(t *testing.T) {
		limiter := NewRateLimiter(testRedis(t), &config.RateLimitConfig{Enabled: true, RequestsPerHour: 2})

		// restaurant_management gets 2x the baseline.
		for i := 0; i < 4; i++ {
			decision, err := limiter.Allow(ctx, "owner", "restaurant_management")
			require.NoError(t, err)
			assert.True(t, decision.Allowed, "request %d", i)
		}
		decision, err := limiter.Allow(ctx, "owner", "restaurant_management")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)

		// concepts_recipes gets half.
		decision, err = limiter.Allow(ctx, "viewer", "concepts_recipes")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		decision, err = limiter.Allow(ctx, "viewer", "concepts_recipes")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
	})

	t.Run("users do not share windows", func(t *testing.T) {
		limiter := NewRateLimiter(testRedis(t), &config.RateLimitConfig{Enabled: true, RequestsPerHour: 1})

		decision, err := limiter.Allow(ctx, "user-a", "kitchen_management")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)

		decision, err = limiter.Allow(ctx, "user-b", "kitchen_management")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("falls back to the local window without redis", func(t *testing.T) {
		limiter := NewRateLimiter(nil, &config.RateLimitConfig{Enabled: true, RequestsPerHour: 2})

		for i := 0; i < 2; i++ {
			decision, err := limiter.Allow(ctx, "user-1", "kitchen_management")
			require.NoError(t, err)
			assert.True(t, decision.Allowed)
		}
		decision, err := limiter.Allow(ctx, "user-1", "kitchen_management")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
	})
}

func TestSessionLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("local lock serializes a session", func(t *testing.T) {
		locker := NewSessionLocker(nil)

		release, err := locker.Acquire(ctx, "s-1")
		require.NoError(t, err)

		_, err = locker.Acquire(ctx, "s-1")
		assert.ErrorIs(t, err, services.ErrSessionBusy)

		release()
		release2, err := locker.Acquire(ctx, "s-1")
		require.NoError(t, err)
		release2()
	})

	t.Run("different sessions do not contend", func(t *testing.T) {
		locker := NewSessionLocker(nil)

		r1, err := locker.Acquire(ctx, "s-1")
		require.NoError(t, err)
		defer r1()

		r2, err := locker.Acquire(ctx, "s-2")
		require.NoError(t, err)
		defer r2()
	})

	t.Run("redis lock serializes a session", func(t *testing.T) {
		locker := NewSessionLocker(testRedis(t))

		release, err := locker.Acquire(ctx, "s-1")
		require.NoError(t, err)

		_, err = locker.Acquire(ctx, "s-1")
		assert.ErrorIs(t, err, services.ErrSessionBusy)

		release()
		release2, err := locker.Acquire(ctx, "s-1")
		require.NoError(t, err)
		release2()
	})
}
