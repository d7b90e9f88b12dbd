package cache

import (
	"testing"
	"time"
)

func TestPinCacheGetMiss(t *testing.T) {
	c := NewPinCache[string, int](4)
	if _, err := c.Get("missing"); err != ErrMiss {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestPinCacheExpiredEntryRemoved(t *testing.T) {
	c := NewPinCache[string, int](4)
	ttl := 10 * time.Millisecond
	c.Put("k", 1, &ttl)
	time.Sleep(20 * time.Millisecond)

	if _, err := c.Get("k"); err != ErrMiss {
		t.Fatalf("expected ErrMiss for expired entry, got %v", err)
	}
	if stats := c.Stats(); stats.UnpinnedSize != 0 {
		t.Fatalf("expected expired entry removed, stats=%+v", stats)
	}
}

func TestPinCapacityEvictsLRU(t *testing.T) {
	c := NewPinCache[string, int](2)
	c.Put("a", 1, nil)
	c.Put("b", 2, nil)
	c.Put("c", 3, nil) // evicts "a", the least-recently-used

	if _, err := c.Get("a"); err != ErrMiss {
		t.Fatalf("expected a to be evicted")
	}
	if v, err := c.Get("b"); err != nil || v != 2 {
		t.Fatalf("expected b present, got %v %v", v, err)
	}
	if v, err := c.Get("c"); err != nil || v != 3 {
		t.Fatalf("expected c present, got %v %v", v, err)
	}
}

func TestPinExcludesFromCapacityAndEviction(t *testing.T) {
	c := NewPinCache[string, int](1)
	c.Put("pinned", 1, nil)
	if err := c.Pin("pinned"); err != nil {
		t.Fatalf("pin failed: %v", err)
	}

	// Capacity is 1 but pinned entries don't count, so both survive.
	c.Put("other", 2, nil)
	c.Put("another", 3, nil)

	if v, err := c.Get("pinned"); err != nil || v != 1 {
		t.Fatalf("expected pinned entry to survive eviction, got %v %v", v, err)
	}
}

func TestPinRejectsEntryWithTTL(t *testing.T) {
	c := NewPinCache[string, int](4)
	ttl := time.Minute
	c.Put("k", 1, &ttl)

	if err := c.Pin("k"); err != ErrPinnedTTL {
		t.Fatalf("expected ErrPinnedTTL, got %v", err)
	}
}

func TestEvictionPrefersExpiredOverLRU(t *testing.T) {
	c := NewPinCache[string, int](2)
	shortTTL := 5 * time.Millisecond
	c.Put("fresh", 2, nil)
	c.Put("stale", 1, &shortTTL)
	time.Sleep(15 * time.Millisecond)

	// "stale" is now expired and is also the most recently used entry, so a
	// pure LRU policy would evict "fresh" on the next insert — the expired
	// entry must be evicted first regardless of recency.
	c.Put("third", 3, nil)

	if _, err := c.Get("stale"); err != ErrMiss {
		t.Fatalf("expected expired entry evicted first")
	}
	if v, err := c.Get("fresh"); err != nil || v != 2 {
		t.Fatalf("expected fresh entry retained, got %v %v", v, err)
	}
}
