package role

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/apperr"
	"github.com/aetherfit/aetherfit-front/internal/emailutil"
	"github.com/aetherfit/aetherfit-front/internal/log"
	"github.com/aetherfit/aetherfit-front/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL       = 5 * time.Minute
	DefaultCacheSize = 4096
)

type entry struct {
	role      Role
	fetchedAt time.Time
}

// Resolver caches roles per email and coalesces concurrent lookups.
// It is shared by every client instance.
type Resolver struct {
	fetcher Fetcher
	ttl     time.Duration
	size    int
	now     func() time.Time
	metrics *metrics.Collector

	group singleflight.Group

	// mu guards epoch together with cache writes. Every invalidation bumps
	// epoch, and a fetch only caches its result if epoch did not move.
	mu    sync.Mutex
	epoch uint64
	cache *lru.Cache[string, entry]

	// onWait runs once a caller has joined a flight. Tests only.
	onWait func()
}

// Option configures a Resolver
type Option func(*Resolver)

// WithClock sets the time source used to judge cache expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithCacheSize bounds the number of cached emails.
func WithCacheSize(size int) Option {
	return func(r *Resolver) {
		r.size = size
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver creates a resolver caching results for ttl.
func NewResolver(fetcher Fetcher, ttl time.Duration, opts ...Option) (*Resolver, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Resolver{
		fetcher: fetcher,
		ttl:     ttl,
		size:    DefaultCacheSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.size <= 0 {
		r.size = DefaultCacheSize
	}

	cache, err := lru.New[string, entry](r.size)
	if err != nil {
		return nil, err
	}
	r.cache = cache
	return r, nil
}

// Resolve returns the role for email. A missing backend record is Unknown,
// not an error. Concurrent callers for the same email and credential scope
// share one fetch and observe the same result. A caller whose ctx ends first
// gets ctx.Err() without affecting the others.
func (r *Resolver) Resolve(ctx context.Context, email string) (Role, error) {
	key := emailutil.Normalize(email)
	if key == "" {
		return Unknown, nil
	}

	r.mu.Lock()
	e, ok := r.cache.Get(key)
	epoch := r.epoch
	r.mu.Unlock()
	if ok && r.now().Sub(e.fetchedAt) < r.ttl {
		r.metrics.RecordRoleLookup("hit")
		return e.role, nil
	}
	r.metrics.RecordRoleLookup("miss")

	// flights are per epoch, so a caller arriving after an invalidation
	// never joins a fetch started before it. They are also per scope: a
	// fetch made with one browser's token must not fail another browser.
	flight := strconv.FormatUint(epoch, 10) + ":" + scopeOf(ctx) + ":" + key
	ch := r.group.DoChan(flight, func() (any, error) {
		return r.fetch(context.WithoutCancel(ctx), key, epoch)
	})
	if r.onWait != nil {
		r.onWait()
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			r.metrics.RecordRoleLookup("error")
			return Unknown, res.Err
		}
		return res.Val.(Role), nil
	case <-ctx.Done():
		return Unknown, ctx.Err()
	}
}

func (r *Resolver) fetch(ctx context.Context, email string, epoch uint64) (Role, error) {
	r.metrics.RecordRoleFetch()
	start := r.now()

	role, err := r.fetcher.FetchRole(ctx, email)
	if err != nil {
		log.LogWarnWithFields("role", "Role lookup failed", map[string]any{
			"email": email,
			"error": err.Error(),
		})
		return Unknown, &apperr.RoleResolutionError{Email: email, Err: err}
	}

	r.mu.Lock()
	cached := r.epoch == epoch
	if cached {
		r.cache.Add(email, entry{role: role, fetchedAt: r.now()})
	}
	r.mu.Unlock()

	log.LogDebugWithFields("role", "Role resolved", map[string]any{
		"email":       email,
		"role":        role,
		"cached":      cached,
		"duration_ms": r.now().Sub(start).Milliseconds(),
	})
	return role, nil
}

// Refresh discards the cached role for email and fetches it again. Use it
// right after an action that changed the role.
func (r *Resolver) Refresh(ctx context.Context, email string) (Role, error) {
	r.Invalidate(email)
	return r.Resolve(ctx, email)
}

// Invalidate discards the cached role for email. A fetch already in flight
// will not repopulate it.
func (r *Resolver) Invalidate(email string) {
	key := emailutil.Normalize(email)
	r.mu.Lock()
	r.epoch++
	r.cache.Remove(key)
	r.mu.Unlock()
}

// InvalidateAll discards every cached role.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.epoch++
	r.cache.Purge()
	r.mu.Unlock()

	log.LogInfoWithFields("role", "Role cache invalidated", nil)
}

// TTL returns how long a resolved role is trusted.
func (r *Resolver) TTL() time.Duration {
	return r.ttl
}
