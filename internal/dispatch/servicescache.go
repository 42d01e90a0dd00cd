package dispatch

import (
	"context"
	"sync"

	"github.com/dginev/cortex-dispatch/internal/store"
)

// ServicesCache is the shared, mutex-protected services_name -> service
// lookup table from spec.md section 4.6: populated on first Ventilator
// lookup, read-only thereafter by the Sink.
type ServicesCache struct {
	mu   sync.RWMutex
	byID map[int32]*store.Service
	byName map[string]*store.Service
}

// NewServicesCache returns an empty cache.
func NewServicesCache() *ServicesCache {
	return &ServicesCache{
		byID:   make(map[int32]*store.Service),
		byName: make(map[string]*store.Service),
	}
}

// ResolveByName returns the cached Service for name, querying the store and
// memoizing the result on first sight. A name the store has never heard of
// is memoized as "unknown" (nil, false) so repeated mistaken requests don't
// keep hitting the store.
func (c *ServicesCache) ResolveByName(ctx context.Context, svcStore serviceLookup, name string) (*store.Service, bool) {
	c.mu.RLock()
	svc, ok := c.byName[name]
	c.mu.RUnlock()
	if ok {
		return svc, svc != nil
	}

	found, err := svcStore.ServiceByName(ctx, name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil || found == nil {
		c.byName[name] = nil
		return nil, false
	}
	c.byName[name] = found
	c.byID[found.ID] = found
	return found, true
}

// Cached returns the memoized Service for name without a store round-trip;
// used by the Sink, which must not re-query the store per spec.md section
// 4.4 ("memoized, no store round-trip at this point").
func (c *ServicesCache) Cached(name string) (*store.Service, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	svc, ok := c.byName[name]
	return svc, ok && svc != nil
}

// serviceLookup is the Task Store surface the cache needs; narrowed to ease
// testing with a fake.
type serviceLookup interface {
	ServiceByName(ctx context.Context, name string) (*store.Service, error)
}
