package cache

import (
	"testing"
	"time"
)

func TestTTLCacheExpiresEntries(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewTTLCacheWithClock[string, int](func() time.Time { return now })

	c.Set("token", 7, time.Minute)
	if v, ok := c.Get("token"); !ok || v != 7 {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}

	now = now.Add(time.Minute)
	if _, ok := c.Get("token"); ok {
		t.Fatalf("expected entry to expire at its ttl")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry to be removed, len=%d", c.Len())
	}
}

func TestTTLCacheZeroTTLNeverExpires(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewTTLCacheWithClock[string, string](func() time.Time { return now })
	c.Set("k", "v", 0)
	now = now.Add(24 * time.Hour)
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("expected entry without ttl to persist")
	}
}

func TestTTLCacheSweepsExpiredOnGrowth(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewTTLCacheWithClock[int, int](func() time.Time { return now })
	c.sweepAt = 4
	for i := 0; i < 3; i++ {
		c.Set(i, i, time.Second)
	}
	now = now.Add(2 * time.Second)
	c.Set(99, 99, time.Minute)
	if c.Len() != 1 {
		t.Fatalf("expected sweep to keep only the fresh entry, len=%d", c.Len())
	}
}

func TestNoopCacheMisses(t *testing.T) {
	var c Cache[string, int] = NoopCache[string, int]{}
	c.Set("a", 1, time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("noop cache must miss")
	}
}
