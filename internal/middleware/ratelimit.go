// ratelimit.go provides Gin middleware that enforces per-client rate limits,
// returning 429 responses when the configured requests-per-minute threshold is
// exceeded. Limits are enforced in Redis when a Redis address is configured so
// that all replicas share one budget; otherwise an in-process token bucket is
// used.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the maximum number of requests allowed per minute
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often the in-memory limiter prunes idle entries
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   5 * time.Minute,
	}
}

// Limiter is the minimal rate-limit decision interface shared by the Redis and
// in-memory implementations.
type Limiter interface {
	// Allow reports whether a request under the given key may proceed, along
	// with the remaining budget for that key.
	Allow(ctx context.Context, key string) (allowed bool, remaining int, err error)
	// Stop releases any background resources held by the limiter.
	Stop()
}

// ---------------------------------------------------------------------------
// Redis-backed limiter
// ---------------------------------------------------------------------------

// RedisLimiter enforces limits through the GCRA implementation in redis_rate,
// so the budget is shared by every keypanel replica pointing at the same Redis.
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	client  *redis.Client
	limit   redis_rate.Limit
}

// NewRedisLimiter creates a limiter backed by the given Redis instance.
func NewRedisLimiter(addr, password string, db int, config RateLimitConfig) *RedisLimiter {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(client),
		client:  client,
		limit: redis_rate.Limit{
			Rate:   config.RequestsPerMinute,
			Burst:  config.BurstSize,
			Period: time.Minute,
		},
	}
}

// Allow consults Redis. If Redis is unreachable the request is allowed; a
// broken rate limiter must not take the whole admin API down with it.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	res, err := rl.limiter.Allow(ctx, "ratelimit:"+key, rl.limit)
	if err != nil {
		slog.Warn("rate limiter: redis unavailable, allowing request", "error", err)
		return true, rl.limit.Burst, err
	}
	return res.Allowed > 0, res.Remaining, nil
}

// Stop closes the underlying Redis client.
func (rl *RedisLimiter) Stop() {
	if err := rl.client.Close(); err != nil {
		slog.Warn("rate limiter: failed to close redis client", "error", err)
	}
}

// ---------------------------------------------------------------------------
// In-memory limiter
// ---------------------------------------------------------------------------

// rateLimitEntry tracks the token bucket for a single client
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// MemoryLimiter implements a per-key token bucket held in process memory. It
// is used when no Redis address is configured; limits then apply per replica.
type MemoryLimiter struct {
	config  RateLimitConfig
	entries map[string]*rateLimitEntry
	mu      sync.Mutex
	stopCh  chan struct{}
}

// NewMemoryLimiter creates an in-memory limiter with the given config
func NewMemoryLimiter(config RateLimitConfig) *MemoryLimiter {
	ml := &MemoryLimiter{
		config:  config,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
	}

	// Start cleanup goroutine
	go ml.cleanup()

	return ml
}

// cleanup periodically removes idle entries
func (ml *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(ml.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ml.mu.Lock()
			now := time.Now()
			for key, entry := range ml.entries {
				// Remove entries that haven't been accessed in 10 minutes
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(ml.entries, key)
				}
			}
			ml.mu.Unlock()
		case <-ml.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (ml *MemoryLimiter) Stop() {
	close(ml.stopCh)
}

// Allow refills the bucket for key based on elapsed time and takes one token.
func (ml *MemoryLimiter) Allow(_ context.Context, key string) (bool, int, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := time.Now()
	entry, exists := ml.entries[key]

	if !exists {
		// New client, give them full burst
		ml.entries[key] = &rateLimitEntry{
			tokens:     float64(ml.config.BurstSize) - 1,
			lastUpdate: now,
		}
		return true, ml.config.BurstSize - 1, nil
	}

	// Refill based on time elapsed, capped at burst size
	elapsed := now.Sub(entry.lastUpdate)
	tokensPerSecond := float64(ml.config.RequestsPerMinute) / 60.0
	entry.tokens = min(float64(ml.config.BurstSize), entry.tokens+elapsed.Seconds()*tokensPerSecond)
	entry.lastUpdate = now

	if entry.tokens >= 1 {
		entry.tokens--
		return true, int(entry.tokens), nil
	}

	return false, 0, nil
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// RateLimitMiddleware creates a Gin middleware that rate limits requests per
// client IP. The limiter decides; this handler only translates the decision
// into HTTP headers and a 429 response.
func RateLimitMiddleware(limiter Limiter, config RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		allowed, remaining, _ := limiter.Allow(c.Request.Context(), key)
		if !allowed {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": 60,
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}

// getRateLimitKey determines the key to use for rate limiting. The panel has a
// single shared admin token, so there is no per-user identity to key on; the
// client IP is the finest granularity available.
func getRateLimitKey(c *gin.Context) string {
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
