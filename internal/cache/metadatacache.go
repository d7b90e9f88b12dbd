package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// SlugChangedListener is notified whenever a slug's cached value has been
// refreshed, whether the refresh was triggered by a reader's Get or by an
// explicit Set.
type SlugChangedListener func(slug string)

// Fetcher retrieves fresh content for slug from upstream. A nil *time.Duration
// return means "no source-provided expiry"; MetadataCache then falls back
// to its configured default TTL.
type Fetcher[V any] func(slug string) (V, *time.Duration, error)

// MetadataCache centralizes TTL-governed retrieval of remote metadata and
// fans changes out to subscribers (spec §4.6). On miss or TTL expiry it
// performs a single-flight refresh: N concurrent Get calls for the same
// slug cause exactly one upstream fetch, and all callers observe the same
// result (value or error).
type MetadataCache[V any] struct {
	mu         sync.RWMutex
	entries    map[string]*metaEntry[V]
	defaultTTL time.Duration
	fetch      Fetcher[V]
	group      singleflight.Group

	subMu       sync.Mutex
	subscribers map[int]SlugChangedListener
	nextSubID   int
}

type metaEntry[V any] struct {
	value    V
	expireAt time.Time
}

func (e *metaEntry[V]) fresh(now time.Time) bool {
	return now.Before(e.expireAt)
}

// NewMetadataCache creates a cache whose upstream refresh is fetch and
// whose default TTL (used when fetch reports no expiry) is defaultTTL.
func NewMetadataCache[V any](fetch Fetcher[V], defaultTTL time.Duration) *MetadataCache[V] {
	return &MetadataCache[V]{
		entries:     make(map[string]*metaEntry[V]),
		defaultTTL:  defaultTTL,
		fetch:       fetch,
		subscribers: make(map[int]SlugChangedListener),
	}
}

// Get returns the value for slug, refreshing via the single-flight
// fetcher on miss or TTL expiry. It never returns data older than its
// TTL: a stale entry is always replaced, not returned, before Get
// returns (unless the refresh itself fails, in which case the error
// propagates to every concurrent waiter).
func (c *MetadataCache[V]) Get(slug string) (V, error) {
	c.mu.RLock()
	e, ok := c.entries[slug]
	c.mu.RUnlock()

	now := time.Now()
	if ok && e.fresh(now) {
		return e.value, nil
	}

	v, err, _ := c.group.Do(slug, func() (any, error) {
		value, ttl, ferr := c.fetch(slug)
		if ferr != nil {
			var zero V
			return zero, ferr
		}
		effectiveTTL := c.defaultTTL
		if ttl != nil {
			effectiveTTL = *ttl
		}
		c.mu.Lock()
		c.entries[slug] = &metaEntry[V]{value: value, expireAt: time.Now().Add(effectiveTTL)}
		c.mu.Unlock()
		c.publish(slug)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Set stores value for slug directly (bypassing the fetcher) with the
// given TTL, and publishes SlugChanged.
func (c *MetadataCache[V]) Set(slug string, value V, ttl time.Duration) {
	c.mu.Lock()
	c.entries[slug] = &metaEntry[V]{value: value, expireAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	c.publish(slug)
}

// Invalidate removes slug's cached value without publishing SlugChanged
// (it is not a content change, just a forced future miss).
func (c *MetadataCache[V]) Invalidate(slug string) {
	c.mu.Lock()
	delete(c.entries, slug)
	c.mu.Unlock()
}

// Subscribe registers listener and returns a token for Unsubscribe.
func (c *MetadataCache[V]) Subscribe(listener SlugChangedListener) int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = listener
	return id
}

// Unsubscribe removes a listener registered via Subscribe.
func (c *MetadataCache[V]) Unsubscribe(token int) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subscribers, token)
}

func (c *MetadataCache[V]) publish(slug string) {
	c.subMu.Lock()
	listeners := make([]SlugChangedListener, 0, len(c.subscribers))
	for _, l := range c.subscribers {
		listeners = append(listeners, l)
	}
	c.subMu.Unlock()
	for _, l := range listeners {
		l(slug)
	}
}
