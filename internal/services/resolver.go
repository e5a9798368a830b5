package services

import (
	"context"
	"time"

	"tally/internal/cache"
)

// HouseholdResolver maps a user to the household it belongs to.
type HouseholdResolver interface {
	ResolveHousehold(ctx context.Context, userID string) (string, error)
}

// CachedResolver memoizes successful lookups. The mapping is treated as
// immutable for the lifetime of an entry; failures are never cached.
type CachedResolver struct {
	next  HouseholdResolver
	cache *cache.LRUCache[string]
}

func NewCachedResolver(next HouseholdResolver, size int, ttl time.Duration) *CachedResolver {
	return &CachedResolver{next: next, cache: cache.NewLRUCache[string](size, ttl)}
}

func (r *CachedResolver) ResolveHousehold(ctx context.Context, userID string) (string, error) {
	return r.cache.Fetch(userID, func() (string, error) {
		return r.next.ResolveHousehold(ctx, userID)
	})
}

// Cache exposes the underlying cache so it can be registered for cleanup.
func (r *CachedResolver) Cache() *cache.LRUCache[string] {
	return r.cache
}
