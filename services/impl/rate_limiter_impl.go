package impl

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rms-knowledge-service/config"
	"github.com/rms-knowledge-service/services"
)

const (
	rateLimitKeyPrefix = "rate_limit"
	rateLimitWindow    = time.Hour
)

// accessLevelMultiplier scales the baseline per-hour limit by subscription.
var accessLevelMultiplier = map[string]float64{
	"restaurant_management": 2.0,
	"kitchen_management":    1.0,
	"concepts_recipes":      0.5,
}

// rateLimiterImpl is a per-principal sliding-window limiter over a Redis
// sorted set; member scores are request timestamps. When Redis is down the
// limiter degrades to an in-memory window rather than blocking traffic.
type rateLimiterImpl struct {
	redis    *redis.Client
	baseline int
	enabled  bool

	mu    sync.Mutex
	local map[string][]time.Time
}

func NewRateLimiter(redisClient *redis.Client, cfg *config.RateLimitConfig) services.RateLimiter {
	return &rateLimiterImpl{
		redis:    redisClient,
		baseline: cfg.RequestsPerHour,
		enabled:  cfg.Enabled,
		local:    make(map[string][]time.Time),
	}
}

func (s *rateLimiterImpl) Allow(ctx context.Context, userID, accessLevel string) (*services.RateDecision, error) {
	if !s.enabled {
		return &services.RateDecision{Allowed: true, Remaining: s.baseline}, nil
	}

	limit := s.limitFor(accessLevel)

	if s.redis != nil {
		decision, err := s.allowRedis(ctx, userID, limit)
		if err == nil {
			return decision, nil
		}
		log.Printf("[WARN] rate limiter redis failure, using in-memory window: %v", err)
	}

	return s.allowLocal(userID, limit), nil
}

func (s *rateLimiterImpl) limitFor(accessLevel string) int {
	multiplier, ok := accessLevelMultiplier[accessLevel]
	if !ok {
		multiplier = 1.0
	}
	limit := int(float64(s.baseline) * multiplier)
	if limit < 1 {
		limit = 1
	}
	return limit
}

func (s *rateLimiterImpl) allowRedis(ctx context.Context, userID string, limit int) (*services.RateDecision, error) {
	key := fmt.Sprintf("%s:%s", rateLimitKeyPrefix, userID)
	now := time.Now()
	windowStart := now.Add(-rateLimitWindow)

	pipe := s.redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	count := int(countCmd.Val())
	if count >= limit {
		retryAfter := s.redisRetryAfter(ctx, key, now)
		return &services.RateDecision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
	}

	member := fmt.Sprintf("%d:%s", now.UnixNano(), uuid.NewString()[:8])
	pipe = s.redis.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, key, rateLimitWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	return &services.RateDecision{Allowed: true, Remaining: limit - count - 1}, nil
}

// redisRetryAfter reads the oldest timestamp still inside the window; the
// caller may retry once it slides out.
func (s *rateLimiterImpl) redisRetryAfter(ctx context.Context, key string, now time.Time) time.Duration {
	oldest, err := s.redis.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return rateLimitWindow
	}
	expiresAt := time.Unix(0, int64(oldest[0].Score)).Add(rateLimitWindow)
	retryAfter := time.Until(expiresAt)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return retryAfter
}

func (s *rateLimiterImpl) allowLocal(userID string, limit int) *services.RateDecision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rateLimitWindow)

	window := s.local[userID][:0]
	for _, t := range s.local[userID] {
		if t.After(windowStart) {
			window = append(window, t)
		}
	}

	if len(window) >= limit {
		s.local[userID] = window
		retryAfter := window[0].Add(rateLimitWindow).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return &services.RateDecision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
	}

	s.local[userID] = append(window, now)
	return &services.RateDecision{Allowed: true, Remaining: limit - len(window) - 1}
}
