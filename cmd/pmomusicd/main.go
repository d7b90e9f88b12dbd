// Command pmomusicd is the PMOMusic composition root: it wires the
// UPnP device runtime (internal/upnp/server), the Control-Point
// renderer/queue orchestration (internal/control), and the generic
// discovery/bootstrap pipeline into one running process hosting a
// single HTTP+SSDP listener.
//
// Grounded on cmd/sonos-hub/main.go's signal-handling/shutdown-closure
// convention: a single channel read, a bounded context, and an ordered
// shutdown of every owned subsystem.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coissac/pmomusic/internal/config"
	"github.com/coissac/pmomusic/internal/control/api"
	"github.com/coissac/pmomusic/internal/control/discovery"
	"github.com/coissac/pmomusic/internal/control/eventbus"
	"github.com/coissac/pmomusic/internal/control/queue"
	"github.com/coissac/pmomusic/internal/control/renderer"
	"github.com/coissac/pmomusic/internal/upnp/soap"
	upnpserver "github.com/coissac/pmomusic/internal/upnp/server"
)

func main() {
	logger := log.Default()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("pmomusicd: config: %v", err)
	}

	bus := eventbus.NewBus(cfg.EventBusMailboxSize)
	rendererRegistry := renderer.NewRegistry(bus, logger)
	serverRegistry := renderer.NewServerRegistry()
	invoker := soap.NewClient(time.Duration(cfg.ControlTimeoutMs) * time.Millisecond)

	queues := newQueueTable()

	srv := upnpserver.New(upnpserver.Options{
		Name:               upnpserver.DefaultServerName(),
		Host:               cfg.Host,
		Port:               cfg.Port,
		BaseURL:            cfg.BaseURL,
		SSDPMaxAgeSeconds:  cfg.SSDPMaxAgeSeconds,
		GenaDefaultTimeout: time.Duration(cfg.GenaDefaultTimeoutSec) * time.Second,
		GenaMaxMissed:      cfg.GenaMaxMissedNotifies,
		Logger:             logger,
	})

	cdDevice := newContentDirectoryDevice("pmomusicd Media Server")
	cdInstance, err := srv.RegisterDevice(cdDevice)
	if err != nil {
		logger.Fatalf("pmomusicd: register ContentDirectory device: %v", err)
	}
	bridge := newContentDirectoryBridge(srv, cdInstance)

	bootstrap := discovery.NewBootstrap(rendererRegistry, serverRegistry, bus, invoker,
		time.Duration(cfg.SSDPDiscoveryTimeoutMs)*time.Millisecond, logger)
	bootstrap.OnRegistered = func(rendererID string, protocol renderer.Protocol, qBackend queue.Backend) {
		queues.put(rendererID, queue.NewQueue(qBackend))
	}
	descCache := bootstrap.EnableDescriptionCache(time.Duration(cfg.MetadataCacheDefaultTTLSeconds) * time.Second)
	descCache.Subscribe(bridge.onSlugChanged)

	api.RegisterRoutes(srv.Mux(), api.Deps{
		Renderers:   rendererRegistry,
		Servers:     serverRegistry,
		Queues:      queues.lookup,
		Bus:         bus,
		CommandWait: time.Duration(cfg.ControlTimeoutMs) * time.Millisecond,
	})

	if err := srv.Run(); err != nil {
		logger.Fatalf("pmomusicd: start: %v", err)
	}
	logger.Printf("pmomusicd listening on %s (advertising %s)", srv.Addr(), srv.BaseURL())

	discoveryCtx, cancelDiscovery := context.WithCancel(context.Background())
	go runDiscoveryLoop(discoveryCtx, bootstrap, cfg, logger)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)
	<-shutdownCh

	logger.Printf("pmomusicd: shutting down")
	cancelDiscovery()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, r := range rendererRegistry.List() {
		rendererRegistry.StopWatching(r.ID)
	}
	if err := srv.Stop(ctx); err != nil {
		logger.Printf("pmomusicd: shutdown: %v", err)
	}
}

// runDiscoveryLoop runs an immediate discovery pass followed by
// periodic re-scans every cfg.SSDPRescanIntervalMs, until ctx is
// cancelled.
func runDiscoveryLoop(ctx context.Context, b *discovery.Bootstrap, cfg config.Config, logger *log.Logger) {
	passes := cfg.SSDPDiscoveryPasses
	passInterval := time.Duration(cfg.SSDPPassIntervalMs) * time.Millisecond
	searchTimeout := time.Duration(cfg.SSDPDiscoveryTimeoutMs) * time.Millisecond

	runOnce := func() {
		if err := b.RunOnce(ctx, passes, passInterval, searchTimeout); err != nil {
			logger.Printf("pmomusicd: discovery sweep: %v", err)
		}
		if len(cfg.StaticRendererIPs) > 0 {
			b.ProbeStatic(ctx, cfg.StaticRendererIPs, searchTimeout)
		}
	}

	runOnce()

	ticker := time.NewTicker(time.Duration(cfg.SSDPRescanIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

// queueTable is a mutex-guarded rendererID->*queue.Queue map: the
// composition root's answer to api.QueueLookup, populated as
// discovery.Bootstrap registers renderers.
type queueTable struct {
	mu   sync.RWMutex
	byID map[string]*queue.Queue
}

func newQueueTable() *queueTable {
	return &queueTable{byID: make(map[string]*queue.Queue)}
}

func (t *queueTable) put(id string, q *queue.Queue) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[id] = q
}

func (t *queueTable) lookup(id string) (*queue.Queue, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	q, ok := t.byID[id]
	return q, ok
}
