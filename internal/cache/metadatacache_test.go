package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMetadataCacheSingleFlight(t *testing.T) {
	var calls int32
	fetch := func(slug string) (string, *time.Duration, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return "value-for-" + slug, nil, nil
	}
	c := NewMetadataCache[string](fetch, time.Minute)

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get("slug")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = v
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 upstream fetch, got %d", got)
	}
	for _, r := range results {
		if r != "value-for-slug" {
			t.Fatalf("waiter got inconsistent value %q", r)
		}
	}
}

func TestMetadataCachePublishesSlugChanged(t *testing.T) {
	fetch := func(slug string) (int, *time.Duration, error) {
		return 42, nil, nil
	}
	c := NewMetadataCache[int](fetch, time.Minute)

	changed := make(chan string, 1)
	c.Subscribe(func(slug string) { changed <- slug })

	if _, err := c.Get("a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case s := <-changed:
		if s != "a" {
			t.Fatalf("expected slug 'a', got %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SlugChanged")
	}
}

func TestMetadataCacheFetchErrorSurfacesToWaiters(t *testing.T) {
	wantErr := errors.New("upstream down")
	fetch := func(slug string) (int, *time.Duration, error) {
		return 0, nil, wantErr
	}
	c := NewMetadataCache[int](fetch, time.Minute)

	if _, err := c.Get("x"); err == nil {
		t.Fatal("expected error from fetch")
	}
}
