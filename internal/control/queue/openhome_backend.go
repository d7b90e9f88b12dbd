package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/coissac/pmomusic/internal/control/eventbus"
	"github.com/coissac/pmomusic/internal/upnp/didl"
	"github.com/coissac/pmomusic/internal/upnp/soap"
)

// OpenHomePlaylistServiceType is the OpenHome Playlist:1 service type
// URN used as the SOAP envelope namespace.
const OpenHomePlaylistServiceType = "urn:av-openhome-org:service:Playlist:1"

// OpenHomeBackend is the OpenHome Playlist queue backend, spec.md §4.5:
// "the interesting case". OpenHome forbids mutating a device's own
// per-track metadata, so this backend keeps a control-point-side
// ohMetadataCache keyed by the OH track id the device assigns on
// Insert, consulted in preference to device-reported metadata on every
// snapshot.
//
// Grounded on internal/sonos/uri_builder.go's URI/metadata construction
// idiom for building the DIDL-Lite passed to Insert, and on
// internal/sonos/zonecache.go's map+mutex cache-aside shape for the
// override cache itself.
type OpenHomeBackend struct {
	invoker    soap.Invoker
	controlURL string
	bus        *eventbus.Bus
	rendererID string

	mu    sync.Mutex
	cache map[string]TrackMetadata // OH track id -> override metadata
}

// NewOpenHomeBackend builds a Backend driving the OpenHome Playlist
// service at controlURL. Events published when update_metadata is
// called are tagged with rendererID for the event bus.
func NewOpenHomeBackend(invoker soap.Invoker, controlURL, rendererID string, bus *eventbus.Bus) *OpenHomeBackend {
	return &OpenHomeBackend{
		invoker:    invoker,
		controlURL: controlURL,
		bus:        bus,
		rendererID: rendererID,
		cache:      make(map[string]TrackMetadata),
	}
}

func (b *OpenHomeBackend) invoke(ctx context.Context, action string, args map[string]string) (map[string]string, error) {
	return b.invoker.Invoke(ctx, b.controlURL, OpenHomePlaylistServiceType, action, args)
}

func metadataToOHDIDL(item PlaybackItem) string {
	doc := didl.Document{Objects: []didl.Object{{
		ID:          item.ID,
		Restricted:  true,
		Title:       item.Metadata.Title,
		Class:       "object.item.audioItem.musicTrack",
		Artist:      item.Metadata.Artist,
		Album:       item.Metadata.Album,
		Genre:       item.Metadata.Genre,
		AlbumArtURI: item.Metadata.AlbumArtURI,
		Resources:   []didl.Resource{{URL: item.URI}},
	}}}
	return doc.Encode()
}

// storeMetadata writes item's metadata into the override cache under id,
// the write-through half of spec.md §4.5's invariant: "Every
// append/replace/sync that supplies TrackMetadata writes into the cache
// keyed by the OH track id the device assigns."
func (b *OpenHomeBackend) storeMetadata(id string, md TrackMetadata) {
	if id == "" {
		return
	}
	b.mu.Lock()
	b.cache[id] = md
	b.mu.Unlock()
}

// Append inserts item after the playlist's current last track (AfterId
// "0" with OpenHome's convention meaning "at the end" is device
// specific; this backend always appends after the last known device id,
// defaulting to "0" for an empty playlist) and caches its metadata under
// the device-assigned id.
func (b *OpenHomeBackend) Append(ctx context.Context, item PlaybackItem) (string, error) {
	afterID := "0"
	if snap, err := b.deviceIDArray(ctx); err == nil && len(snap) > 0 {
		afterID = snap[len(snap)-1]
	}
	out, err := b.invoke(ctx, "Insert", map[string]string{
		"AfterId":  afterID,
		"Uri":      item.URI,
		"Metadata": metadataToOHDIDL(item),
	})
	if err != nil {
		return "", err
	}
	newID := out["NewId"]
	b.storeMetadata(newID, item.Metadata)
	return newID, nil
}

// ReplaceAt deletes the id currently at index and inserts item in its
// place, caching the new id's metadata.
func (b *OpenHomeBackend) ReplaceAt(ctx context.Context, index int, item PlaybackItem) (string, error) {
	ids, err := b.deviceIDArray(ctx)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(ids) {
		return "", fmt.Errorf("openhome: replace_at index %d out of range (len %d)", index, len(ids))
	}
	afterID := "0"
	if index > 0 {
		afterID = ids[index-1]
	}
	if _, err := b.invoke(ctx, "DeleteId", map[string]string{"Value": ids[index]}); err != nil {
		return "", err
	}
	out, err := b.invoke(ctx, "Insert", map[string]string{
		"AfterId":  afterID,
		"Uri":      item.URI,
		"Metadata": metadataToOHDIDL(item),
	})
	if err != nil {
		return "", err
	}
	newID := out["NewId"]
	b.mu.Lock()
	delete(b.cache, ids[index])
	b.cache[newID] = item.Metadata
	b.mu.Unlock()
	return newID, nil
}

func (b *OpenHomeBackend) RemoveAt(ctx context.Context, index int) error {
	ids, err := b.deviceIDArray(ctx)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(ids) {
		return fmt.Errorf("openhome: remove_at index %d out of range (len %d)", index, len(ids))
	}
	if _, err := b.invoke(ctx, "DeleteId", map[string]string{"Value": ids[index]}); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.cache, ids[index])
	b.mu.Unlock()
	return nil
}

func (b *OpenHomeBackend) Clear(ctx context.Context) error {
	if _, err := b.invoke(ctx, "DeleteAll", map[string]string{}); err != nil {
		return err
	}
	b.mu.Lock()
	b.cache = make(map[string]TrackMetadata)
	b.mu.Unlock()
	return nil
}

// deviceIDArray returns the Playlist's current ordered id list. It goes
// through deviceReadList (IdArray, whose "Array" output argument holds
// the ids as a string, followed by ReadList) and keeps only each item's
// id.
func (b *OpenHomeBackend) deviceIDArray(ctx context.Context) ([]string, error) {
	items, err := b.deviceReadList(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids, nil
}

// deviceReadList fetches the full device-reported queue (ids, uris, and
// device metadata, before the override cache is applied).
func (b *OpenHomeBackend) deviceReadList(ctx context.Context) ([]PlaybackItem, error) {
	idsOut, err := b.invoke(ctx, "IdArray", map[string]string{})
	if err != nil {
		return nil, err
	}
	idList := splitOHIDs(idsOut["Array"])
	if len(idList) == 0 {
		return nil, nil
	}
	out, err := b.invoke(ctx, "ReadList", map[string]string{"IdList": joinOHIDs(idList)})
	if err != nil {
		return nil, err
	}
	return parseOHTrackList(out["TrackList"], idList), nil
}

// DeviceSnapshot returns the device's own view of the queue, before the
// override cache is applied (Queue.Snapshot layers the cache on top via
// ApplyMetadataOverride).
func (b *OpenHomeBackend) DeviceSnapshot(ctx context.Context) ([]PlaybackItem, error) {
	return b.deviceReadList(ctx)
}

// ApplyMetadataOverride replaces each item's metadata with the cached
// override when one exists, and garbage-collects cache entries whose id
// is no longer present among items — spec.md §4.5: "snapshot()
// garbage-collects cache entries whose id is no longer present in the
// device queue, as a side effect."
func (b *OpenHomeBackend) ApplyMetadataOverride(items []PlaybackItem) []PlaybackItem {
	b.mu.Lock()
	defer b.mu.Unlock()

	live := make(map[string]struct{}, len(items))
	out := make([]PlaybackItem, len(items))
	for i, item := range items {
		live[item.ID] = struct{}{}
		if md, ok := b.cache[item.ID]; ok {
			item.Metadata = md
		}
		out[i] = item
	}
	for id := range b.cache {
		if _, ok := live[id]; !ok {
			delete(b.cache, id)
		}
	}
	return out
}

// UpdateMetadata updates only the override cache for id and emits
// MetadataChanged; spec.md §4.5: "no device call is made."
func (b *OpenHomeBackend) UpdateMetadata(id string, md TrackMetadata) {
	b.storeMetadata(id, md)
	if b.bus != nil {
		b.bus.Publish(eventbus.MetadataChanged, b.rendererID, md)
	}
}

// CacheKeys returns the current set of ids held in the override cache,
// for OpenHome cache GC assertions (spec.md §8).
func (b *OpenHomeBackend) CacheKeys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.cache))
	for id := range b.cache {
		out = append(out, id)
	}
	return out
}

func (b *OpenHomeBackend) AttachPlaylist(ctx context.Context, descriptor string) error {
	_, err := b.invoke(ctx, "SeekId", map[string]string{"Value": descriptor})
	return err
}

func (b *OpenHomeBackend) DetachPlaylist(ctx context.Context) error {
	_, err := b.invoke(ctx, "Stop", map[string]string{})
	return err
}
