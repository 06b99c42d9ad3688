package impl

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rms-knowledge-service/services"
)

const (
	sessionLockPrefix = "session_lock"
	// sessionLockTTL guards against a crashed turn holding its lock forever.
	sessionLockTTL = 2 * time.Minute
)

// sessionLocker serializes turns within one session. The Redis form uses
// SET NX with a TTL so a crashed holder cannot wedge the session; without
// Redis a process-local mutex map serves single-instance deployments.
type sessionLocker struct {
	redis *redis.Client

	mu    sync.Mutex
	local map[string]bool
}

func NewSessionLocker(redisClient *redis.Client) services.SessionLocker {
	return &sessionLocker{
		redis: redisClient,
		local: make(map[string]bool),
	}
}

// Acquire takes the lock for one session or returns ErrSessionBusy. The
// returned release func is safe to call exactly once, on every exit path.
func (s *sessionLocker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	if s.redis != nil {
		release, err := s.acquireRedis(ctx, sessionID)
		if err == nil || err == services.ErrSessionBusy {
			return release, err
		}
		log.Printf("[WARN] session lock redis failure, using local lock: %v", err)
	}
	return s.acquireLocal(sessionID)
}

func (s *sessionLocker) acquireRedis(ctx context.Context, sessionID string) (func(), error) {
	key := fmt.Sprintf("%s:%s", sessionLockPrefix, sessionID)

	acquired, err := s.redis.SetNX(ctx, key, time.Now().UnixNano(), sessionLockTTL).Result()
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, services.ErrSessionBusy
	}

	return func() {
		// Release must not inherit a cancelled request context.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.redis.Del(releaseCtx, key).Err(); err != nil {
			log.Printf("[WARN] failed to release session lock %s: %v", sessionID, err)
		}
	}, nil
}

func (s *sessionLocker) acquireLocal(sessionID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.local[sessionID] {
		return nil, services.ErrSessionBusy
	}
	s.local[sessionID] = true

	return func() {
		s.mu.Lock()
		delete(s.local, sessionID)
		s.mu.Unlock()
	}, nil
}
