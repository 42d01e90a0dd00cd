package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/dginev/cortex-dispatch/internal/store"
)

type fakeServiceLookup struct {
	calls    int
	services map[string]*store.Service
}

func (f *fakeServiceLookup) ServiceByName(_ context.Context, name string) (*store.Service, error) {
	f.calls++
	if svc, ok := f.services[name]; ok {
		return svc, nil
	}
	return nil, errors.New("not found")
}

func TestServicesCache_ResolveByNameMemoizes(t *testing.T) {
	fake := &fakeServiceLookup{services: map[string]*store.Service{
		"cache_worker": {ID: 3, Name: "cache_worker"},
	}}
	cache := NewServicesCache()

	svc, ok := cache.ResolveByName(context.Background(), fake, "cache_worker")
	if !ok || svc.ID != 3 {
		t.Fatalf("expected resolved service id 3, got %+v ok=%v", svc, ok)
	}
	if fake.calls != 1 {
		t.Fatalf("expected 1 store call, got %d", fake.calls)
	}

	svc2, ok := cache.ResolveByName(context.Background(), fake, "cache_worker")
	if !ok || svc2.ID != 3 {
		t.Fatalf("expected memoized service id 3, got %+v ok=%v", svc2, ok)
	}
	if fake.calls != 1 {
		t.Fatalf("expected no additional store call, got %d total", fake.calls)
	}
}

func TestServicesCache_UnknownNameMemoizedAsMiss(t *testing.T) {
	fake := &fakeServiceLookup{services: map[string]*store.Service{}}
	cache := NewServicesCache()

	_, ok := cache.ResolveByName(context.Background(), fake, "ghost")
	if ok {
		t.Fatalf("expected miss for unknown service")
	}
	_, ok = cache.ResolveByName(context.Background(), fake, "ghost")
	if ok {
		t.Fatalf("expected miss to stay a miss")
	}
	if fake.calls != 1 {
		t.Fatalf("expected unknown name memoized after 1 call, got %d", fake.calls)
	}
}

func TestServicesCache_CachedRequiresPriorResolve(t *testing.T) {
	cache := NewServicesCache()
	if _, ok := cache.Cached("cache_worker"); ok {
		t.Fatalf("expected no cached entry before any ResolveByName call")
	}

	fake := &fakeServiceLookup{services: map[string]*store.Service{
		"cache_worker": {ID: 3, Name: "cache_worker"},
	}}
	cache.ResolveByName(context.Background(), fake, "cache_worker")

	svc, ok := cache.Cached("cache_worker")
	if !ok || svc.ID != 3 {
		t.Fatalf("expected cached lookup to find service, got %+v ok=%v", svc, ok)
	}
}
