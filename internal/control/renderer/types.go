// Package renderer implements the Control-Point view of a discovered
// playback device (spec.md §3 "Renderer (Control Point view)", §4.4):
// a registry of known renderers and a per-renderer watcher that keeps
// each one's RendererSnapshot eventually consistent without a single
// central polling loop.
//
// Grounded on internal/devices/service.go's Service (topology map
// guarded by RWMutex, single-flight discovery, periodic rescan via
// ticker+cancel) for the registry half, and on
// internal/sonos/events/manager.go's renewal-loop shape for the
// watcher's tick loop.
package renderer

import "time"

// Protocol is the backend wire protocol a Renderer speaks.
type Protocol string

const (
	ProtocolUPnP       Protocol = "UPnP"
	ProtocolOpenHome   Protocol = "OpenHome"
	ProtocolHybrid     Protocol = "Hybrid"
	ProtocolLinkPlay   Protocol = "LinkPlay"
	ProtocolArylic     Protocol = "Arylic"
	ProtocolChromecast Protocol = "Chromecast"
)

// TransportState mirrors the AVTransport TransportState values this
// module cares about.
type TransportState string

const (
	StatePlaying       TransportState = "PLAYING"
	StatePaused        TransportState = "PAUSED_PLAYBACK"
	StateStopped       TransportState = "STOPPED"
	StateTransitioning TransportState = "TRANSITIONING"
	StateNoMedia       TransportState = "NO_MEDIA_PRESENT"
)

// TrackMetadata is the minimal per-track description the watcher diffs
// against.
type TrackMetadata struct {
	Title       string
	Artist      string
	Album       string
	Genre       string
	AlbumArtURI string
	Duration    time.Duration
}

// Snapshot is the last observed state of a renderer, per spec.md §3's
// RendererSnapshot.
type Snapshot struct {
	TransportState     TransportState
	Position           time.Duration
	Duration           time.Duration
	Volume             int
	Muted              bool
	Track              TrackMetadata
	QueueLength        int
	PlaylistDescriptor string
}

// WatchKind selects the watch strategy a Renderer's backend uses,
// spec.md §4.4.
type WatchKind string

const (
	WatchPolling WatchKind = "Polling"
	WatchPush    WatchKind = "Push"
	WatchHybrid  WatchKind = "Hybrid"
)

// WatchStrategy pairs a WatchKind with its polling cadence.
// TransportIntervalMs sets the watcher's tick interval, and every tick
// fetches transport state, position, volume/mute and track metadata
// together. The watcher does not read VolumeIntervalMs, so volume/mute
// are polled at TransportIntervalMs as well.
type WatchStrategy struct {
	Kind                WatchKind
	TransportIntervalMs int
	VolumeIntervalMs    int
}

// DefaultPollingStrategy is the strategy for UPnP, LinkPlay, and Arylic
// backends.
func DefaultPollingStrategy() WatchStrategy {
	return WatchStrategy{Kind: WatchPolling, TransportIntervalMs: 500, VolumeIntervalMs: 1000}
}

// DefaultHybridStrategy is the strategy for OpenHome and Chromecast
// backends: polling at the given interval while push callbacks (wired
// by the caller, outside this package) supplement it.
func DefaultHybridStrategy(pollingIntervalMs int) WatchStrategy {
	return WatchStrategy{Kind: WatchHybrid, TransportIntervalMs: pollingIntervalMs, VolumeIntervalMs: pollingIntervalMs}
}
