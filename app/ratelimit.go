package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cgmelamed/whydatawhy/app/config"
	"github.com/cgmelamed/whydatawhy/auth"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// FixedWindowLimiter caps requests per key in a fixed window shared through
// Redis. It fails closed when Redis is unreachable.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewFixedWindowLimiter(cfg config.RedisConfig) (*FixedWindowLimiter, error) {
	if cfg.AnonLimit <= 0 || cfg.AnonWindow <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.LimiterPrefix)
	if prefix == "" {
		prefix = "whydatawhy:ratelimit"
	}
	return &FixedWindowLimiter{
		limit:  cfg.AnonLimit,
		window: cfg.AnonWindow,
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: prefix,
		now:    time.Now,
	}, nil
}

// Allow reports whether key is still within its quota for the current window.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	slot := l.now().UTC().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	return count <= int64(l.limit), nil
}

func (l *FixedWindowLimiter) Close() error {
	return l.client.Close()
}

// AnonymousRateLimit throttles callers without a session by client IP.
// A nil limiter disables throttling.
func AnonymousRateLimit(limiter *FixedWindowLimiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		if _, ok := auth.ClaimsFromContext(c.Request.Context()); ok {
			c.Next()
			return
		}

		allowed, err := limiter.Allow(c.Request.Context(), "anon:"+c.ClientIP())
		if err != nil {
			requestLogger(c, logger).Warn("rate limiter unavailable", zap.Error(err))
		}
		if !allowed {
			rateLimitedTotal.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":  "too many requests, sign in to continue",
				"reason": "rate_limited",
			})
			return
		}
		c.Next()
	}
}
