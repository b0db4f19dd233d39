package arns

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ResolutionCache holds per-name cached Resolutions, TTL-bound per §3.
type ResolutionCache interface {
	Get(name string) (Resolution, bool)
	Put(name string, r Resolution)
}

// MemoryResolutionCache is the default ResolutionCache.
type MemoryResolutionCache struct {
	mu    sync.RWMutex
	cache map[string]Resolution
}

func NewMemoryResolutionCache() *MemoryResolutionCache {
	return &MemoryResolutionCache{cache: make(map[string]Resolution)}
}

func (c *MemoryResolutionCache) Get(name string) (Resolution, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.cache[name]
	return r, ok
}

func (c *MemoryResolutionCache) Put(name string, r Resolution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[name] = r
}

// Clock abstracts time for deterministic tests.
type Clock func() time.Time

// Pipeline is the full ArNS Resolver Pipeline (C7): registry debounce tier
// plus the ordered-resolver resolution tier.
type Pipeline struct {
	resolutions   ResolutionCache
	registry      *Debouncer
	resolvers     []Resolver
	maxConcurrent int
	timeout       time.Duration
	now           Clock
	limiter       *rate.Limiter
}

// Config bundles Pipeline construction parameters.
type Config struct {
	Resolvers          []Resolver
	MaxConcurrent      int
	ResolverTimeout    time.Duration
	Registry           *Debouncer // optional; nil disables registry hydration
	ResolutionCache    ResolutionCache
	Now                Clock

	// RateLimit bounds the rate of resolver fan-outs (a cache hit never
	// consumes it); RateBurst is the token bucket's burst size. RateLimit
	// <= 0 disables limiting.
	RateLimit float64
	RateBurst int
}

// New builds a Pipeline.
func New(cfg Config) *Pipeline {
	cache := cfg.ResolutionCache
	if cache == nil {
		cache = NewMemoryResolutionCache()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Pipeline{
		resolutions:   cache,
		registry:      cfg.Registry,
		resolvers:     cfg.Resolvers,
		maxConcurrent: cfg.MaxConcurrent,
		timeout:       cfg.ResolverTimeout,
		now:           now,
		limiter:       limiter,
	}
}

// Resolve implements §4.5's full resolution contract, including the
// DESIGN.md Open Question 2 decision: on resolver exhaustion, a stale
// cached resolution is returned if one exists, else a negative resolution.
func (p *Pipeline) Resolve(ctx context.Context, name string) (Resolution, error) {
	nowMs := p.now().UnixMilli()

	if cached, ok := p.resolutions.Get(name); ok && cached.Fresh(nowMs) {
		if p.registry != nil {
			p.registry.NotifyHit()
		}
		return cached, nil
	}

	if p.registry != nil {
		if err := p.registry.NotifyMiss(ctx); err != nil {
			// Registry hydration failure doesn't fail resolution; the
			// resolver fan-out below is independent of registry state.
			_ = err
		}
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			if cached, ok := p.resolutions.Get(name); ok {
				return cached, nil
			}
			return Resolution{Name: name}, nil
		}
	}

	if res, ok := resolveOrdered(ctx, name, p.resolvers, p.maxConcurrent, p.timeout); ok {
		p.resolutions.Put(name, res)
		return res, nil
	}

	if cached, ok := p.resolutions.Get(name); ok {
		return cached, nil
	}
	return Resolution{Name: name}, nil
}
