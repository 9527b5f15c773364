package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// SharedLimiter is a limiter backed by a store every replica sees.
type SharedLimiter interface {
	Allow(ctx context.Context, key string, ratePerSecond float64, burst int) (bool, error)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles per client IP. With a shared limiter configured the
// budget is enforced across replicas and the local buckets act as a fallback
// when the store is unreachable.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	shared   SharedLimiter
	logger   *slog.Logger
}

func NewRateLimiter(rps float64, burst int, shared SharedLimiter) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		shared:   shared,
		logger:   slog.Default().With("component", "ratelimit"),
	}
}

func (rl *RateLimiter) getVisitor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.rps, rl.burst)
		rl.visitors[ip] = &visitor{limiter, time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup drops visitors idle for 3 minutes until ctx is done.
func (rl *RateLimiter) Cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if time.Since(v.lastSeen) > 3*time.Minute {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) allow(ctx context.Context, ip string) bool {
	if rl.shared != nil {
		ok, err := rl.shared.Allow(ctx, ip, float64(rl.rps), rl.burst)
		if err == nil {
			return ok
		}
		rl.logger.Warn("shared limiter unavailable, using local bucket", "error", err)
	}
	return rl.getVisitor(ip).Allow()
}

func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.allow(c.Request().Context(), c.RealIP()) {
				c.Response().Header().Set("Retry-After", "5")
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			}
			return next(c)
		}
	}
}
