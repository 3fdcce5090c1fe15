package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	apperrors "github.com/jwalitptl/notification-service/pkg/errors"
	"github.com/jwalitptl/notification-service/pkg/metrics"
)

// Limiter admits or rejects one request of a client. A rejected request is
// not counted against the client.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter keeps, per client, the timestamps of admitted requests in a
// trailing window.
type MemoryLimiter struct {
	sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// prune drops timestamps that have left the window. Caller holds the lock.
func (rl *MemoryLimiter) prune(times []time.Time, now time.Time) []time.Time {
	valid := times[:0]
	for _, t := range times {
		if now.Sub(t) < rl.window {
			valid = append(valid, t)
		}
	}
	return valid
}

func (rl *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.Lock()
	defer rl.Unlock()

	now := rl.now()
	valid := rl.prune(rl.requests[key], now)
	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false, nil
	}
	rl.requests[key] = append(valid, now)
	return true, nil
}

// Sweep evicts clients with no request left in the window and returns how
// many were removed.
func (rl *MemoryLimiter) Sweep() int {
	rl.Lock()
	defer rl.Unlock()

	now := rl.now()
	evicted := 0
	for key, times := range rl.requests {
		valid := rl.prune(times, now)
		if len(valid) == 0 {
			delete(rl.requests, key)
			evicted++
		} else {
			rl.requests[key] = valid
		}
	}
	return evicted
}

// Clients returns the number of tracked clients.
func (rl *MemoryLimiter) Clients() int {
	rl.Lock()
	defer rl.Unlock()
	return len(rl.requests)
}

// Run sweeps every interval until ctx is done.
func (rl *MemoryLimiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = rl.window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rl.Sweep(); n > 0 {
				log.Debug().Int("evicted", n).Msg("Rate limiter sweep")
			}
		}
	}
}

// RateLimit rejects clients, keyed by ClientIP, that exceed the limiter.
// Limiter backend errors admit the request.
func RateLimit(l Limiter, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		allowed, err := l.Allow(c.Request.Context(), ip)
		if err != nil {
			log.Error().Err(err).Str("client_ip", ip).Msg("Rate limiter unavailable")
			c.Next()
			return
		}
		if !allowed {
			if m != nil {
				m.RateLimitRejections.Inc()
			}
			_ = c.Error(apperrors.RateLimited())
			c.Abort()
			return
		}

		c.Next()
	}
}
