// Package ratelimit provides Redis-based rate limiting for realtime actions,
// with an in-process token bucket when Redis is not configured
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a rate limit is exceeded
var ErrRateLimited = errors.New("rate limit exceeded")

// Actions with a configured limit
const (
	ActionChat   = "chat"
	ActionSignal = "signal"
)

// Limit allows Requests per Window for one participant
type Limit struct {
	Requests int
	Window   time.Duration
}

// DefaultLimits returns the recommended limits
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		ActionChat:   {Requests: 20, Window: 10 * time.Second},
		ActionSignal: {Requests: 200, Window: 10 * time.Second},
	}
}

// Limiter checks per-participant action rates
type Limiter struct {
	redis  *redis.Client
	limits map[string]Limit
	local  *xsync.MapOf[string, *rate.Limiter]
	log    *log.Logger
}

// NewLimiter creates a limiter. redis may be nil.
func NewLimiter(redis *redis.Client, limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Limiter{
		redis:  redis,
		limits: limits,
		local:  xsync.NewMapOf[string, *rate.Limiter](),
		log:    log.Default().WithPrefix("RateLimit"),
	}
}

// Check returns ErrRateLimited when participantID has exceeded the limit
// for action. Actions without a limit always pass.
func (l *Limiter) Check(ctx context.Context, action, participantID string) error {
	if l == nil {
		return nil
	}
	limit, ok := l.limits[action]
	if !ok || limit.Requests <= 0 || limit.Window <= 0 {
		return nil
	}

	if l.redis == nil {
		return l.checkLocal(action, participantID, limit)
	}

	key := fmt.Sprintf("ratelimit:%s:%s", action, participantID)
	if err := l.checkLimit(ctx, key, limit.Requests, limit.Window); err != nil {
		l.log.Debug("Participant exceeded limit", "action", action, "participant", participantID)
		return err
	}
	return nil
}

// checkLimit performs the actual rate limit check using Redis INCR
func (l *Limiter) checkLimit(ctx context.Context, key string, limit int, window time.Duration) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		// Fail-open on Redis errors to maintain availability
		l.log.Warn("Redis unavailable, allowing request", "err", err)
		return nil
	}

	if count == 1 {
		l.redis.Expire(ctx, key, window)
	}

	if int(count) > limit {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) checkLocal(action, participantID string, limit Limit) error {
	lim, _ := l.local.LoadOrCompute(action+":"+participantID, func() *rate.Limiter {
		return rate.NewLimiter(rate.Every(limit.Window/time.Duration(limit.Requests)), limit.Requests)
	})
	if !lim.Allow() {
		return ErrRateLimited
	}
	return nil
}

// Forget drops in-process state for a departed participant
func (l *Limiter) Forget(participantID string) {
	if l == nil {
		return
	}
	for action := range l.limits {
		l.local.Delete(action + ":" + participantID)
	}
}
