package discovery

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coissac/pmomusic/internal/cache"
	"github.com/coissac/pmomusic/internal/control/eventbus"
	"github.com/coissac/pmomusic/internal/control/queue"
	"github.com/coissac/pmomusic/internal/control/renderer"
	"github.com/coissac/pmomusic/internal/upnp/soap"
	"github.com/coissac/pmomusic/internal/upnp/ssdp"
)

const (
	mediaRendererDeviceType   = "urn:schemas-upnp-org:device:MediaRenderer:1"
	mediaServerDeviceType     = "urn:schemas-upnp-org:device:MediaServer:1"
	avTransportServiceURN     = "urn:schemas-upnp-org:service:AVTransport"
	renderingControlServiceURN = "urn:schemas-upnp-org:service:RenderingControl"
	ohPlaylistServiceURN      = "urn:av-openhome-org:service:Playlist"
	contentDirectoryServiceURN = "urn:schemas-upnp-org:service:ContentDirectory"
)

// RendererRegistered is called once per renderer RunOnce successfully
// parses and pushes into Renderers, with the queue.Backend matching its
// transport flavor already built — giving the caller (the composition
// root) what it needs to construct and track a queue.Queue keyed by
// rendererID for api.Deps.Queues.
type RendererRegistered func(rendererID string, protocol renderer.Protocol, queueBackend queue.Backend)

// Bootstrap discovers Media Renderers and Media Servers via SSDP,
// fetches and parses each one's description document, and wires the
// result into a renderer.Registry / renderer.ServerRegistry. It is the
// composition root's one-shot (or periodically re-run) discovery pass,
// grounded on internal/discovery/service.go's DiscoverDevices
// SSDP-then-probe-then-parse pipeline, generalized from a fixed
// Sonos-only probe target to the AVTransport/RenderingControl/OpenHome
// service set any UPnP renderer may advertise.
type Bootstrap struct {
	Renderers *renderer.Registry
	Servers   *renderer.ServerRegistry
	Bus       *eventbus.Bus
	Invoker   soap.Invoker
	Strategy  renderer.WatchStrategy
	OnRegistered RendererRegistered
	Logger    *log.Logger

	httpClient *http.Client
	descCache  *cache.MetadataCache[*DeviceDescription]
}

// EnableDescriptionCache makes every subsequent fetchDescription go
// through a MetadataCache[*DeviceDescription] keyed by LOCATION instead
// of re-fetching and re-parsing on every rescan pass: a device's
// description document rarely changes between SSDP sweeps. Returns the
// cache so the caller can Subscribe a listener (e.g. bumping a Media
// Server's SystemUpdateID when a watched device's topology changes).
func (b *Bootstrap) EnableDescriptionCache(ttl time.Duration) *cache.MetadataCache[*DeviceDescription] {
	b.descCache = cache.NewMetadataCache(b.fetchDescriptionUncached, ttl)
	return b.descCache
}

// NewBootstrap builds a Bootstrap with a description-fetch timeout of
// probeTimeout.
func NewBootstrap(reg *renderer.Registry, servers *renderer.ServerRegistry, bus *eventbus.Bus, invoker soap.Invoker, probeTimeout time.Duration, logger *log.Logger) *Bootstrap {
	if logger == nil {
		logger = log.Default()
	}
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Bootstrap{
		Renderers: reg,
		Servers:   servers,
		Bus:       bus,
		Invoker:   invoker,
		Strategy:  renderer.DefaultPollingStrategy(),
		Logger:    logger,
		httpClient: &http.Client{Timeout: probeTimeout},
	}
}

// RunOnce performs one multi-pass M-SEARCH sweep for both device types
// and pushes every reachable, parseable result into the registries.
// It never returns an error for a single unreachable device — failures
// are logged and skipped so one dead renderer can't block discovery of
// the rest.
func (b *Bootstrap) RunOnce(ctx context.Context, passes int, passInterval, searchTimeout time.Duration) error {
	renderers, err := ssdp.Discover(mediaRendererDeviceType, passes, passInterval, searchTimeout)
	if err != nil {
		return fmt.Errorf("discovery: renderer sweep: %w", err)
	}
	for _, resp := range renderers {
		b.probeRenderer(ctx, resp)
	}

	servers, err := ssdp.Discover(mediaServerDeviceType, passes, passInterval, searchTimeout)
	if err != nil {
		return fmt.Errorf("discovery: server sweep: %w", err)
	}
	for _, resp := range servers {
		b.probeServer(ctx, resp)
	}
	return nil
}

// fetchDescription routes through descCache when EnableDescriptionCache
// has been called, and fetches directly otherwise.
func (b *Bootstrap) fetchDescription(ctx context.Context, location string) (*DeviceDescription, error) {
	if b.descCache != nil {
		return b.descCache.Get(location)
	}
	return b.fetchDescriptionUncached(location)
}

// fetchDescriptionUncached is both the direct fetch path and the
// cache.Fetcher passed to EnableDescriptionCache; MetadataCache's
// Fetcher shape carries no context, so probes here always run with
// background context and rely on b.httpClient's own timeout.
func (b *Bootstrap) fetchDescriptionUncached(location string) (*DeviceDescription, *time.Duration, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, location, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("discovery: %s returned %d", location, resp.StatusCode)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	desc, err := ParseDescription(payload, baseURLOf(location))
	return desc, nil, err
}

func (b *Bootstrap) probeRenderer(ctx context.Context, resp ssdp.Response) {
	desc, err := b.fetchDescription(ctx, resp.Location)
	if err != nil {
		b.Logger.Printf("discovery: renderer probe %s: %v", resp.Location, err)
		return
	}

	protocol := renderer.ProtocolUPnP
	var backend renderer.Backend
	var qBackend queue.Backend

	avURL, hasAV := desc.ServiceByType(avTransportServiceURN)
	_, hasOH := desc.ServiceByType(ohPlaylistServiceURN)

	switch {
	case hasAV:
		rcURL, _ := desc.ServiceByType(renderingControlServiceURN)
		backend = renderer.NewAVTransportBackend(b.Invoker, avURL.ControlURL, rcURL.ControlURL)
		qBackend = queue.NewUPnPBackend(b.Invoker, avURL.ControlURL, "0")
	case hasOH:
		// A renderer that advertises OpenHome Playlist but no AVTransport
		// is logged and skipped: it is not registered, so it gets neither
		// a watcher nor an OpenHome queue backend.
		protocol = renderer.ProtocolOpenHome
		b.Logger.Printf("discovery: %s advertises OpenHome Playlist with no AVTransport fallback, skipping renderer registration", desc.FriendlyName)
		return
	default:
		b.Logger.Printf("discovery: %s has neither AVTransport nor OpenHome Playlist, skipping", desc.FriendlyName)
		return
	}

	var hook renderer.QueueHook
	b.Renderers.Push(desc.UDN, protocol, desc.FriendlyName, desc.ModelName, backend, b.Strategy, hook)
	if b.OnRegistered != nil {
		b.OnRegistered(desc.UDN, protocol, qBackend)
	}
}

func (b *Bootstrap) probeServer(ctx context.Context, resp ssdp.Response) {
	desc, err := b.fetchDescription(ctx, resp.Location)
	if err != nil {
		b.Logger.Printf("discovery: server probe %s: %v", resp.Location, err)
		return
	}
	if _, ok := desc.ServiceByType(contentDirectoryServiceURN); !ok {
		return
	}
	b.Servers.Push(desc.UDN, desc.FriendlyName, baseURLOf(resp.Location))
}

// ProbeStatic sends a unicast M-SEARCH to each host in ips (skipping
// discovery's multicast group entirely) and probes whatever answers as
// both a renderer and a server candidate, since a statically configured
// host's device type isn't known in advance. It is the fallback path
// for devices that don't reliably answer multicast M-SEARCH on some
// networks (spec.md §9), fed from config.Config.StaticRendererIPs.
func (b *Bootstrap) ProbeStatic(ctx context.Context, ips []string, searchTimeout time.Duration) {
	for _, ip := range ips {
		renderers, err := ssdp.DiscoverUnicast(ip, mediaRendererDeviceType, searchTimeout)
		if err != nil {
			b.Logger.Printf("discovery: static probe %s (renderer): %v", ip, err)
		}
		for _, resp := range renderers {
			b.probeRenderer(ctx, resp)
		}

		servers, err := ssdp.DiscoverUnicast(ip, mediaServerDeviceType, searchTimeout)
		if err != nil {
			b.Logger.Printf("discovery: static probe %s (server): %v", ip, err)
		}
		for _, resp := range servers {
			b.probeServer(ctx, resp)
		}
	}
}

func baseURLOf(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	u.Path = ""
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/")
}
