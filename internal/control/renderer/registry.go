package renderer

import (
	"log"
	"sync"
	"time"

	"github.com/coissac/pmomusic/internal/control/eventbus"
)

// Registry keeps the authoritative in-memory set of discovered
// renderers. Grounded on internal/devices/service.go's Service: a
// RWMutex-guarded map and a "known" bookkeeping side-table (there,
// known IPs; here, per-id lastSeen so mark_as_offline can be driven by
// either an explicit SSDP byebye or a discovery timeout sweep).
type Registry struct {
	mu        sync.RWMutex
	renderers map[string]*Renderer

	bus    *eventbus.Bus
	logger *log.Logger
}

// NewRegistry creates an empty Registry publishing state changes onto
// bus.
func NewRegistry(bus *eventbus.Bus, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		renderers: make(map[string]*Renderer),
		bus:       bus,
		logger:    logger,
	}
}

// Push registers a newly discovered renderer, starting its watcher
// (spec.md §4.4: "push_renderer constructs a Renderer, which starts its
// own watcher in its constructor"). Pushing an id already present
// replaces its backend/strategy and marks it seen, without restarting a
// watcher that is already running.
func (reg *Registry) Push(id string, protocol Protocol, friendlyName, model string, backend Backend, strategy WatchStrategy, hook QueueHook) *Renderer {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if existing, ok := reg.renderers[id]; ok {
		existing.backend = backend
		existing.strategy = strategy
		existing.hook = hook
		existing.touch()
		existing.setOnline(true)
		existing.restartWatching()
		return existing
	}

	r := newRenderer(id, protocol, friendlyName, model, backend, strategy, reg.bus, hook, reg.logger)
	reg.renderers[id] = r
	return r
}

// HasBeenSeenNow restarts the watcher for a previously offline renderer
// (spec.md §4.4's has_been_seen_now) and marks it online. It is a no-op
// for an unknown id.
func (reg *Registry) HasBeenSeenNow(id string) {
	reg.mu.RLock()
	r, ok := reg.renderers[id]
	reg.mu.RUnlock()
	if !ok {
		return
	}
	r.touch()
	wasOffline := !r.Online()
	r.setOnline(true)
	if wasOffline {
		r.restartWatching()
	}
}

// MarkAsOffline flags a renderer offline and stops its watcher
// (spec.md §4.4: "SSDP byebye or discovery timeout → mark_as_offline →
// stop_watching"). It is a no-op for an unknown id.
func (reg *Registry) MarkAsOffline(id string) {
	reg.mu.RLock()
	r, ok := reg.renderers[id]
	reg.mu.RUnlock()
	if !ok {
		return
	}
	r.setOnline(false)
	r.stopWatching()
}

// StopWatching stops id's watcher without removing it from the
// registry. Idempotent.
func (reg *Registry) StopWatching(id string) {
	reg.mu.RLock()
	r, ok := reg.renderers[id]
	reg.mu.RUnlock()
	if ok {
		r.stopWatching()
	}
}

// Get returns the renderer for id, if known.
func (reg *Registry) Get(id string) (*Renderer, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.renderers[id]
	return r, ok
}

// List returns every known renderer in no particular order.
func (reg *Registry) List() []*Renderer {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Renderer, 0, len(reg.renderers))
	for _, r := range reg.renderers {
		out = append(out, r)
	}
	return out
}

// SweepStale marks offline, and stops watching, any renderer not seen
// within staleAfter — the discovery-timeout half of mark_as_offline,
// complementing the SSDP-byebye-driven MarkAsOffline.
func (reg *Registry) SweepStale(staleAfter time.Duration) {
	cutoff := time.Now().Add(-staleAfter)
	for _, r := range reg.List() {
		if !r.Online() {
			continue
		}
		if r.LastSeen().Before(cutoff) {
			reg.MarkAsOffline(r.ID)
		}
	}
}
