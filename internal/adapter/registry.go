package adapter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Breaker tracks provider health. A nil Breaker disables guarding.
type Breaker interface {
	IsHealthy(provider string) bool
	RecordSuccess(provider string)
	RecordFailure(provider string)
}

// Registry maps provider names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]ProviderAdapter
	breaker  Breaker
}

// NewRegistry creates a registry holding adapters, keyed by their Name.
func NewRegistry(adapters ...ProviderAdapter) *Registry {
	r := &Registry{adapters: make(map[string]ProviderAdapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// WithBreaker guards every adapter returned by Get with b.
func (r *Registry) WithBreaker(b Breaker) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breaker = b
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a ProviderAdapter) {
	if a == nil {
		panic("adapter cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[normalize(a.Name())] = a
}

// Get returns the adapter for provider or ErrUnsupportedProvider.
func (r *Registry) Get(provider string) (ProviderAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[normalize(provider)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	if r.breaker == nil {
		return a, nil
	}
	return &guardedAdapter{next: a, breaker: r.breaker}, nil
}

// Verifier returns the webhook verifier of provider's adapter.
func (r *Registry) Verifier(provider string) (WebhookVerifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[normalize(provider)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	v, ok := a.(WebhookVerifier)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not verify webhooks", ErrUnsupportedProvider, provider)
	}
	return v, nil
}

// Providers lists registered provider names in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

// guardedAdapter fails fast while the provider's circuit is open and feeds
// call outcomes back to the breaker.
type guardedAdapter struct {
	next    ProviderAdapter
	breaker Breaker
}

func (g *guardedAdapter) Name() string { return g.next.Name() }

func (g *guardedAdapter) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	name := g.next.Name()
	if !g.breaker.IsHealthy(name) {
		return CheckoutSession{}, fmt.Errorf("%w: %s", ErrCircuitOpen, name)
	}
	session, err := g.next.CreateCheckoutSession(ctx, req)
	if err != nil {
		g.breaker.RecordFailure(name)
		return CheckoutSession{}, err
	}
	g.breaker.RecordSuccess(name)
	return session, nil
}
