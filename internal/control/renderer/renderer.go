package renderer

import (
	"log"
	"sync"
	"time"

	"github.com/coissac/pmomusic/internal/control/eventbus"
)

// Renderer is one discovered playback device as seen by the control
// point. Every state mutation and the events it raises are serialized
// by mu (spec.md §5: "within a single renderer, all state mutations and
// their resulting events are serialized by a per-renderer lock"),
// grounded on internal/scene/lock.go's CoordinatorLock, narrowed here
// from a map-of-device-mutexes to the single mutex a Renderer already
// owns.
type Renderer struct {
	ID           string
	Protocol     Protocol
	FriendlyName string
	Model        string

	mu       sync.Mutex
	online   bool
	lastSeen time.Time
	snapshot Snapshot

	backend  Backend
	strategy WatchStrategy
	watcher  *Watcher
	bus      *eventbus.Bus
	logger   *log.Logger
	hook     QueueHook
}

func newRenderer(id string, protocol Protocol, friendlyName, model string, backend Backend, strategy WatchStrategy, bus *eventbus.Bus, hook QueueHook, logger *log.Logger) *Renderer {
	if logger == nil {
		logger = log.Default()
	}
	r := &Renderer{
		ID:           id,
		Protocol:     protocol,
		FriendlyName: friendlyName,
		Model:        model,
		online:       true,
		lastSeen:     time.Now(),
		backend:      backend,
		strategy:     strategy,
		bus:          bus,
		hook:         hook,
		logger:       logger,
	}
	r.watcher = newWatcher(r)
	r.watcher.start()
	return r
}

// Online reports whether the renderer is currently considered reachable.
func (r *Renderer) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

// Snapshot returns a copy of the last observed state.
func (r *Renderer) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}

// Commander returns the renderer's backend as a Commander, if its
// concrete backend implements the command verbs spec.md §6 names.
func (r *Renderer) Commander() (Commander, bool) {
	c, ok := r.backend.(Commander)
	return c, ok
}

// LastSeen returns the timestamp of the last SSDP alive/discovery
// observation or successful tick.
func (r *Renderer) LastSeen() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeen
}

func (r *Renderer) touch() {
	r.mu.Lock()
	r.lastSeen = time.Now()
	r.mu.Unlock()
}

func (r *Renderer) setOnline(online bool) (changed bool) {
	r.mu.Lock()
	changed = r.online != online
	r.online = online
	r.mu.Unlock()
	return changed
}

// stopWatching idempotently stops the renderer's watcher goroutine
// (spec.md §4.4: "graceful, idempotent; sets an atomic stop flag, joins
// the thread or task").
func (r *Renderer) stopWatching() {
	r.watcher.stop()
}

// restartWatching is invoked when a previously offline renderer is seen
// alive again (spec.md §4.4's has_been_seen_now).
func (r *Renderer) restartWatching() {
	if r.watcher.running() {
		return
	}
	r.watcher = newWatcher(r)
	r.watcher.start()
}
