package server

import (
	"math"
	"sync"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/config"
	"github.com/aetherfit/aetherfit-front/internal/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// defaultLimiterEntries bounds how many clients are tracked at once. The
// least recently seen client loses its bucket first.
const defaultLimiterEntries = 10000

// SignInLimiter limits sign-in attempts per browser client.
type SignInLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
}

// NewSignInLimiter creates a limiter from the configured attempts per minute.
func NewSignInLimiter(cfg config.RateLimitConfig) (*SignInLimiter, error) {
	cache, err := lru.New[string, *rate.Limiter](defaultLimiterEntries)
	if err != nil {
		return nil, err
	}
	return &SignInLimiter{
		limit:    rate.Limit(cfg.PerMinute / 60.0),
		burst:    cfg.Burst,
		limiters: cache,
	}, nil
}

// Allow takes one attempt from key's bucket. When refused it returns how long
// until the next attempt is allowed.
func (l *SignInLimiter) Allow(key string) (bool, time.Duration) {
	limiter := l.limiterFor(key)
	if limiter.Allow() {
		return true, 0
	}

	log.LogWarnWithFields("ratelimit", "Sign-in rate limit exceeded", map[string]any{
		"client": key,
	})
	return false, l.retryAfter()
}

// Tracked returns the number of clients with a bucket.
func (l *SignInLimiter) Tracked() int {
	return l.limiters.Len()
}

func (l *SignInLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, ok := l.limiters.Get(key); ok {
		return limiter
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Add(key, limiter)
	return limiter
}

func (l *SignInLimiter) retryAfter() time.Duration {
	if l.limit <= 0 {
		return time.Minute
	}
	return time.Duration(math.Ceil(1/float64(l.limit))) * time.Second
}
