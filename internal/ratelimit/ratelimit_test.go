package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBackendAllowsUnderLimit(t *testing.T) {
	l := New(Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := l.Allow(ctx, "ip:1.2.3.4", 3, time.Minute)
		if !res.Allowed {
			t.Fatalf("request %d: want allowed, got denied", i)
		}
	}
	res := l.Allow(ctx, "ip:1.2.3.4", 3, time.Minute)
	if res.Allowed {
		t.Fatalf("4th request under a 3/min limit: want denied, got allowed")
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("want positive RetryAfter on deny, got %v", res.RetryAfter)
	}
}

func TestMemoryBackendWindowSlides(t *testing.T) {
	b := newMemoryBackend(100)
	now := time.Now()

	if !b.allow("k", 1, time.Minute, now).Allowed {
		t.Fatalf("first request should be allowed")
	}
	if b.allow("k", 1, time.Minute, now.Add(30*time.Second)).Allowed {
		t.Fatalf("second request inside the window should be denied")
	}
	if !b.allow("k", 1, time.Minute, now.Add(61*time.Second)).Allowed {
		t.Fatalf("request after the window elapsed should be allowed")
	}
}

func TestMemoryBackendEvictsOldestKeyWhenFull(t *testing.T) {
	b := newMemoryBackend(2)
	now := time.Now()

	b.allow("a", 10, time.Minute, now)
	b.allow("b", 10, time.Minute, now)
	b.allow("c", 10, time.Minute, now)

	if len(b.windows) != 2 {
		t.Fatalf("want 2 keys tracked after eviction, got %d", len(b.windows))
	}
	if _, ok := b.windows["a"]; ok {
		t.Fatalf("oldest key 'a' should have been evicted")
	}
}

func TestMemoryBackendSweepPrunesIdleKeys(t *testing.T) {
	b := newMemoryBackend(100)
	now := time.Now()
	b.allow("stale", 10, time.Minute, now.Add(-2*time.Hour))
	b.allow("fresh", 10, time.Minute, now)

	b.sweep(now)

	if _, ok := b.windows["stale"]; ok {
		t.Fatalf("stale key should have been swept")
	}
	if _, ok := b.windows["fresh"]; !ok {
		t.Fatalf("fresh key should survive the sweep")
	}
}

func TestLimiterFallsBackWithoutRedis(t *testing.T) {
	l := New(Config{FallbackCap: 10})
	ctx := context.Background()
	res := l.Allow(ctx, "agent:abc:minute", 1, time.Minute)
	if !res.Allowed {
		t.Fatalf("first request on a fresh limiter should be allowed")
	}
}
