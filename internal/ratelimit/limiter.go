// Package ratelimit bounds request rates with fixed windows counted in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/research-auth/internal/domain"
)

// Limiter counts hits per key in fixed windows.
// Key format: <prefix>:<key>:<window index>
type Limiter struct {
	client redis.Cmdable
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithKeyPrefix namespaces the Redis keys, default "ratelimit".
func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) { l.prefix = prefix }
}

// NewLimiter allows limit hits per key per window. A nil client or a
// non-positive limit disables limiting.
func NewLimiter(client redis.Cmdable, limit int, window time.Duration, opts ...Option) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{client: client, limit: limit, window: window, prefix: "ratelimit", now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Enabled reports whether the limiter rejects anything at all.
func (l *Limiter) Enabled() bool {
	return l != nil && l.client != nil && l.limit > 0
}

// Allow records a hit for key and reports whether it is within the limit,
// along with the time until the current window resets.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if !l.Enabled() {
		return true, 0, nil
	}

	now := l.now()
	index := now.UnixNano() / int64(l.window)
	resetIn := time.Duration((index+1)*int64(l.window) - now.UnixNano())
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, index)

	var incr *redis.IntCmd
	if _, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, l.window)
		return nil
	}); err != nil {
		return true, 0, fmt.Errorf("rate limit count: %w", err)
	}
	return incr.Val() <= int64(l.limit), resetIn, nil
}

// Recorder counts rejected requests.
type Recorder interface {
	RecordRateLimited(route string)
}

// Middleware rejects callers over the limit with domain.ErrRateLimited.
// Requests are keyed by route and client IP. Redis failures let the request
// through.
func Middleware(l *Limiter, logger *zap.Logger, recorder Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !l.Enabled() {
			return c.Next()
		}

		route := c.Path()
		allowed, resetIn, err := l.Allow(c.UserContext(), route+":"+c.IP())
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("route", route), zap.Error(err))
			return c.Next()
		}
		if !allowed {
			if recorder != nil {
				recorder.RecordRateLimited(route)
			}
			seconds := int(resetIn.Round(time.Second) / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(seconds))
			return domain.ErrRateLimited
		}
		return c.Next()
	}
}
