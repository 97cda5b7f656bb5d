// internal/middleware/rate_limit_middleware.go
package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"micropython-service/internal/config"
	"micropython-service/internal/utils"
)

const clientIdleExpiry = 3 * time.Minute

// RateLimitMiddleware applies a token bucket per client IP. Idle clients
// are forgotten by a janitor goroutine that stops with ctx.
func RateLimitMiddleware(ctx context.Context, cfg *config.SecurityConfig, logger *utils.SecurityLogger) gin.HandlerFunc {
	if !cfg.RateLimitEnabled || cfg.RateLimitRequests <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	limit := rate.Limit(float64(cfg.RateLimitRequests) / window.Seconds())
	burst := cfg.RateLimitRequests

	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	clients := make(map[string]*client)
	mu := &sync.Mutex{}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mu.Lock()
				for ip, c := range clients {
					if time.Since(c.lastSeen) > clientIdleExpiry {
						delete(clients, ip)
					}
				}
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		entry, ok := clients[ip]
		if !ok {
			entry = &client{limiter: rate.NewLimiter(limit, burst)}
			clients[ip] = entry
		}
		entry.lastSeen = time.Now()
		mu.Unlock()

		if !entry.limiter.Allow() {
			logger.LogRateLimitViolation(ip, c.FullPath(), cfg.RateLimitRequests, window.String())
			utils.ErrorResponse(c, http.StatusTooManyRequests, "Rate limit exceeded", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}
