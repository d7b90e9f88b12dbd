package renderer

import (
	"context"
	"time"
)

// Backend is the per-protocol network interface a Watcher drives.
// Implementations live outside this package (UPnP SOAP calls, OpenHome
// calls, LinkPlay/Arylic HTTP, Chromecast) and are supplied to
// Registry.Push alongside the Renderer's static metadata.
type Backend interface {
	FetchTransportState(ctx context.Context) (TransportState, error)
	FetchPosition(ctx context.Context) (position, duration time.Duration, err error)
	FetchVolume(ctx context.Context) (volume int, muted bool, err error)
	FetchTrackMetadata(ctx context.Context) (TrackMetadata, error)
	// Play resumes playback at the current queue position; used by the
	// watcher's auto-advance to issue play after advancing the queue.
	Play(ctx context.Context) error
}

// Commander is an optional capability a Backend may additionally
// implement to accept control-point commands — spec.md §6's
// play/pause/stop/next/seek/volume/mute HTTP surface. The Watcher only
// ever drives the read-oriented Backend interface; Commander is
// consulted by internal/control/api. Kept separate from Backend because
// a pure read-only backend (e.g. a future Chromecast sender stub) can
// satisfy Backend without committing to every command verb.
type Commander interface {
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	SeekTo(ctx context.Context, position time.Duration) error
	SetVolume(ctx context.Context, volume int) error
	SetMute(ctx context.Context, muted bool) error
}

// QueueHook lets the watcher drive queue auto-advance (spec.md §4.4)
// without this package depending on internal/control/queue directly.
type QueueHook interface {
	// QueueLength reports the current queue length for rendererID.
	QueueLength(rendererID string) int
	// IsLastItem reports whether the renderer's queue cursor was on its
	// final item when it stopped.
	IsLastItem(rendererID string) bool
	// Advance moves the queue cursor to the next item. It returns an
	// error only on a backend failure; the caller issues Play itself.
	Advance(rendererID string) error
}
