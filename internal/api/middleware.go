// Package api implements the admin REST API for fragline: server and
// session monitoring, session control, filter and policy management, a
// websocket event feed and the prometheus endpoint.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/energizer-project/fragline/internal/config"
)

// RequireToken returns a middleware that checks the bearer token against
// the configured API token. When auth_disabled is set every request passes.
func RequireToken(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ad := cfg.GetApplicationData()
		if ad.Security.AuthDisabled {
			c.Set("operator", "local-admin")
			c.Next()
			return
		}

		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			// browsers cannot set headers on a websocket upgrade
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or invalid authorization header",
			})
			return
		}

		if ad.API.Token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(ad.API.Token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
			})
			return
		}

		c.Set("operator", "token")
		c.Next()
	}
}

// RateLimiter limits requests per client IP with a token bucket each.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rps     int
	burst   int
	now     func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdle = 10 * time.Minute

// NewRateLimiter creates a rate limiter with the specified requests per second.
func NewRateLimiter(rps int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		rps:     rps,
		burst:   rps * 2,
		now:     time.Now,
	}
}

// Allow reports whether ip may make a request now.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.rps <= 0 {
		return true
	}

	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.clients[ip]
	if !ok {
		rl.sweep(now)
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.rps), rl.burst)}
		rl.clients[ip] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// sweep forgets clients idle for limiterIdle. Called with mu held.
func (rl *RateLimiter) sweep(now time.Time) {
	for ip, cl := range rl.clients {
		if now.Sub(cl.lastSeen) > limiterIdle {
			delete(rl.clients, ip)
		}
	}
}

// Middleware returns a Gin middleware that rate limits by client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// SecurityHeaders adds security-related HTTP headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Server", "fragline")

		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Header("X-Frame-Options", "DENY")
			c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		}

		c.Next()
	}
}

// RequestLogger logs incoming HTTP requests.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("api request")
	}
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
