// auth.go provides middleware for authenticating admin requests. The panel
// uses a single static admin token ("Authorization: Bearer <token>") whose
// bcrypt hash is stored in configuration; the plaintext token never touches
// the server's disk. Failed attempts are rate limited per IP to slow down
// brute forcing.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AdminContextKey is the context key set when a request is authenticated as admin.
const AdminContextKey = "is_admin_request"

const (
	authMaxAttempts = 5
	authRateWindow  = time.Minute
)

// authRateLimiter tracks per-IP failed attempt counts to prevent brute-force
// attacks on the admin token. Allows authMaxAttempts per window per IP.
type authRateLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{
		attempts: make(map[string][]time.Time),
	}
}

// allow returns true if the IP has not exceeded the rate limit.
func (rl *authRateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-authRateWindow)

	// Prune old entries
	recent := make([]time.Time, 0, len(rl.attempts[ip]))
	for _, t := range rl.attempts[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= authMaxAttempts {
		rl.attempts[ip] = recent
		return false
	}

	rl.attempts[ip] = recent
	return true
}

// record registers a failed attempt for the IP.
func (rl *authRateLimiter) record(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.attempts[ip] = append(rl.attempts[ip], time.Now())
}

// AdminTokenMiddleware validates admin token authentication. It checks that:
//  1. The Authorization header contains a "Bearer <token>" value.
//  2. The IP is not rate-limited (max 5 failed attempts per minute).
//  3. The token matches the configured bcrypt hash.
//
// On success, sets AdminContextKey=true in the gin context and calls c.Next().
// An empty tokenHash means no admin token has been provisioned; every request
// is rejected with 503 rather than silently running an open panel.
func AdminTokenMiddleware(tokenHash string) gin.HandlerFunc {
	rateLimiter := newAuthRateLimiter()

	return func(c *gin.Context) {
		if tokenHash == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "No admin token configured. Generate one with the hash subcommand and set auth.admin_token_hash.",
			})
			return
		}

		// Rate limit check before doing any bcrypt work
		clientIP := c.ClientIP()
		if !rateLimiter.allow(clientIP) {
			slog.Warn("auth middleware: rate limit exceeded", "ip", clientIP)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many authentication attempts. Try again in one minute.",
			})
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required. Use: Authorization: Bearer <token>",
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization scheme. Use: Authorization: Bearer <token>",
			})
			return
		}
		rawToken := strings.TrimSpace(parts[1])

		if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(rawToken)); err != nil {
			rateLimiter.record(clientIP)
			slog.Warn("auth middleware: invalid admin token", "ip", clientIP)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid admin token",
			})
			return
		}

		c.Set(AdminContextKey, true)
		c.Next()
	}
}
