package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"tally/internal/store"
)

func TestCachedResolver(t *testing.T) {
	ctx := context.Background()
	next := &stubResolver{households: map[string]string{"u1": "h1"}}
	r := NewCachedResolver(next, 10, time.Minute)

	for i := 0; i < 3; i++ {
		h, err := r.ResolveHousehold(ctx, "u1")
		if err != nil || h != "h1" {
			t.Fatalf("ResolveHousehold() = %q, %v", h, err)
		}
	}
	if next.calls != 1 {
		t.Errorf("backend calls = %d, want 1", next.calls)
	}
}

func TestCachedResolver_DoesNotCacheFailures(t *testing.T) {
	ctx := context.Background()
	next := &stubResolver{households: map[string]string{}}
	r := NewCachedResolver(next, 10, time.Minute)

	if _, err := r.ResolveHousehold(ctx, "u1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	next.mu.Lock()
	next.households["u1"] = "h1"
	next.mu.Unlock()

	h, err := r.ResolveHousehold(ctx, "u1")
	if err != nil || h != "h1" {
		t.Fatalf("ResolveHousehold() = %q, %v", h, err)
	}
	if next.calls != 2 {
		t.Errorf("backend calls = %d, want 2", next.calls)
	}
}

func TestCachedResolver_Expiry(t *testing.T) {
	ctx := context.Background()
	next := &stubResolver{households: map[string]string{"u1": "h1"}}
	r := NewCachedResolver(next, 10, time.Minute)

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	r.Cache().SetClock(func() time.Time { return now })

	_, _ = r.ResolveHousehold(ctx, "u1")
	now = now.Add(2 * time.Minute)
	_, _ = r.ResolveHousehold(ctx, "u1")

	if next.calls != 2 {
		t.Errorf("backend calls = %d, want 2 after expiry", next.calls)
	}
}
