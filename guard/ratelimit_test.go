package guard

import (
	"context"
	"testing"
	"time"
)

func testLimiter(store Store) (*RateLimiter, *time.Time) {
	rl := NewRateLimiter(store, "test")
	now := time.Date(2026, 3, 10, 12, 0, 30, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimitFreshWindow(t *testing.T) {
	ctx := context.Background()
	rl, _ := testLimiter(newMemStore())

	allowed, remaining := rl.CheckLimit(ctx)
	if !allowed || remaining != rateCeiling {
		t.Fatalf("fresh window = (%v, %d), want (true, %d)", allowed, remaining, rateCeiling)
	}
}

func TestRateLimitCheckDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	rl, _ := testLimiter(newMemStore())

	for i := 0; i < 10; i++ {
		rl.CheckLimit(ctx)
	}
	_, remaining := rl.CheckLimit(ctx)
	if remaining != rateCeiling {
		t.Fatalf("remaining = %d after checks only, want %d", remaining, rateCeiling)
	}
}

func TestRateLimitCeiling(t *testing.T) {
	ctx := context.Background()
	rl, _ := testLimiter(newMemStore())

	for i := 0; i < rateCeiling-1; i++ {
		rl.Increment(ctx)
	}
	allowed, remaining := rl.CheckLimit(ctx)
	if !allowed || remaining != 1 {
		t.Fatalf("one below ceiling = (%v, %d), want (true, 1)", allowed, remaining)
	}

	rl.Increment(ctx)
	allowed, remaining = rl.CheckLimit(ctx)
	if allowed || remaining != 0 {
		t.Fatalf("at ceiling = (%v, %d), want (false, 0)", allowed, remaining)
	}
}

func TestRateLimitNewWindowResets(t *testing.T) {
	ctx := context.Background()
	rl, now := testLimiter(newMemStore())

	for i := 0; i < rateCeiling; i++ {
		rl.Increment(ctx)
	}
	if allowed, _ := rl.CheckLimit(ctx); allowed {
		t.Fatal("expected window exhausted")
	}

	*now = now.Add(rateWindow)
	allowed, remaining := rl.CheckLimit(ctx)
	if !allowed || remaining != rateCeiling {
		t.Fatalf("next window = (%v, %d), want (true, %d)", allowed, remaining, rateCeiling)
	}
}

func TestRateLimitDegradesOpenWhenStoreDown(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter(downStore{}, "test")

	allowed, remaining := rl.CheckLimit(ctx)
	if !allowed || remaining != rateCeiling {
		t.Fatalf("store down = (%v, %d), want degrade-open (true, %d)", allowed, remaining, rateCeiling)
	}
	rl.Increment(ctx) // must not panic
}
