package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// ProviderLimiter enforces per-provider request rates against external geo
// APIs. Public OSM services in particular expect no more than one request
// per second per client.
type ProviderLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewProviderLimiter creates an empty limiter registry
func NewProviderLimiter() *ProviderLimiter {
	return &ProviderLimiter{
		limiters: make(map[string]*rate.Limiter),
	}
}

// Register sets the allowed requests per second for a provider. Registering
// an existing provider replaces its limiter.
func (p *ProviderLimiter) Register(provider string, perSecond float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	p.limiters[provider] = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Wait blocks until the provider's limiter permits a request or the context
// is cancelled. Unknown providers are not limited.
func (p *ProviderLimiter) Wait(ctx context.Context, provider string) error {
	p.mu.RLock()
	limiter, ok := p.limiters[provider]
	p.mu.RUnlock()

	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}

// Allow reports whether a request for the provider may proceed immediately
func (p *ProviderLimiter) Allow(provider string) bool {
	p.mu.RLock()
	limiter, ok := p.limiters[provider]
	p.mu.RUnlock()

	if !ok {
		return true
	}
	return limiter.Allow()
}
