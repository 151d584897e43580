// Package ratelimit throttles download requests per user.
// Each user gets an independent token bucket backed by golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sipeed/mp3relay/pkg/logger"
)

// Config holds rate limiter configuration.
type Config struct {
	RequestsPerMinute int // 0 disables limiting
	Burst             int
}

// Limiter tracks one bucket per user key.
type Limiter struct {
	config  Config
	mu      sync.Mutex
	buckets map[string]*userBucket
	now     func() time.Time
}

type userBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLimiter(config Config) *Limiter {
	if config.Burst <= 0 {
		config.Burst = 1
	}
	return &Limiter{
		config:  config,
		buckets: make(map[string]*userBucket),
		now:     time.Now,
	}
}

// Enabled reports whether any limit is enforced.
func (l *Limiter) Enabled() bool {
	return l != nil && l.config.RequestsPerMinute > 0
}

func (l *Limiter) bucket(key string) *userBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		limit := rate.Limit(float64(l.config.RequestsPerMinute) / 60.0)
		b = &userBucket{limiter: rate.NewLimiter(limit, l.config.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = l.now()
	return b
}

// Allow consumes one token for key and reports whether the request may proceed.
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}
	return l.bucket(key).limiter.AllowN(l.now(), 1)
}

// RetryAfter estimates how long key has to wait for the next token.
func (l *Limiter) RetryAfter(key string) time.Duration {
	if !l.Enabled() {
		return 0
	}
	b := l.bucket(key)
	now := l.now()
	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return 0
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return delay
}

// Cleanup forgets users idle for longer than maxAge.
func (l *Limiter) Cleanup(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports how many users are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (l *Limiter) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := l.Cleanup(maxAge); removed > 0 {
				logger.DebugCF("ratelimit", "Evicted idle users", map[string]any{
					"removed": removed,
					"tracked": l.Len(),
				})
			}
		}
	}
}
