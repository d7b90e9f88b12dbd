package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/coissac/pmomusic/internal/control/eventbus"
	"github.com/coissac/pmomusic/internal/upnp/didl"
)

// fakeUPnPDevice is a minimal in-memory AVTransport+ContentDirectory
// stand-in driving UPnPBackend in tests. appendFailAt, when >= 0, makes
// the (0-indexed) Nth AddURIToQueue call return an error, for exercising
// TransferQueue's failure path.
type fakeUPnPDevice struct {
	mu           sync.Mutex
	nextTrackNum int
	queue        []PlaybackItem
	descriptor   string
	appendFailAt int
	appendCalls  int
}

func newFakeUPnPDevice() *fakeUPnPDevice {
	return &fakeUPnPDevice{nextTrackNum: 1, appendFailAt: -1}
}

func (f *fakeUPnPDevice) Invoke(ctx context.Context, controlURL, serviceType, action string, args map[string]string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch action {
	case "AddURIToQueue":
		if f.appendCalls == f.appendFailAt {
			f.appendCalls++
			return nil, errors.New("fake: device rejected AddURIToQueue")
		}
		f.appendCalls++
		trackNum := f.nextTrackNum
		f.nextTrackNum++
		item := decodeOneItem(args["EnqueuedURIMetaData"])
		item.ID = strconv.Itoa(trackNum)
		item.URI = args["EnqueuedURI"]
		f.queue = append(f.queue, item)
		return map[string]string{"FirstTrackNumberEnqueued": strconv.Itoa(trackNum)}, nil
	case "RemoveTrackFromQueue":
		obj := strings.TrimPrefix(args["ObjectID"], "Q:0/")
		for i, it := range f.queue {
			if it.ID == obj {
				f.queue = append(f.queue[:i], f.queue[i+1:]...)
				break
			}
		}
		return map[string]string{}, nil
	case "RemoveAllTracksFromQueue":
		f.queue = nil
		return map[string]string{}, nil
	case "SetAVTransportURI":
		f.descriptor = args["CurrentURI"]
		return map[string]string{}, nil
	case "Stop":
		return map[string]string{}, nil
	case "Browse":
		doc := didl.Document{}
		for _, it := range f.queue {
			doc.Objects = append(doc.Objects, didl.Object{
				ID: it.ID, Title: it.Metadata.Title, Artist: it.Metadata.Artist,
				Class: "object.item.audioItem.musicTrack", Resources: []didl.Resource{{URL: it.URI}},
			})
		}
		return map[string]string{"Result": doc.Encode()}, nil
	default:
		return nil, fmt.Errorf("fake: unhandled action %s", action)
	}
}

func decodeOneItem(rawDIDL string) PlaybackItem {
	doc, err := didl.Decode(rawDIDL)
	if err != nil || len(doc.Objects) == 0 {
		return PlaybackItem{}
	}
	obj := doc.Objects[0]
	return PlaybackItem{Metadata: TrackMetadata{Title: obj.Title, Artist: obj.Artist, Album: obj.Album, Genre: obj.Genre, AlbumArtURI: obj.AlbumArtURI}}
}

func TestUPnPBackendAppendAndSnapshot(t *testing.T) {
	dev := newFakeUPnPDevice()
	backend := NewUPnPBackend(dev, "http://renderer/avtransport", "0")
	q := NewQueue(backend)
	ctx := context.Background()

	if _, err := q.Append(ctx, PlaybackItem{URI: "http://x/a.flac", Metadata: TrackMetadata{Title: "A"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := q.Append(ctx, PlaybackItem{URI: "http://x/b.flac", Metadata: TrackMetadata{Title: "B"}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	snap, err := q.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap) != 2 || snap[0].Metadata.Title != "A" || snap[1].Metadata.Title != "B" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

// fakeOHDevice is a minimal in-memory OpenHome Playlist stand-in.
// Device-reported metadata (set at Insert time) is deliberately
// distinct from what tests later push through UpdateMetadata, so
// assertions can tell override-cache values apart from device values.
type fakeOHDevice struct {
	mu     sync.Mutex
	nextID int
	ids    []string
	items  map[string]PlaybackItem // device-reported
}

func newFakeOHDevice() *fakeOHDevice {
	return &fakeOHDevice{nextID: 1, items: make(map[string]PlaybackItem)}
}

func (f *fakeOHDevice) Invoke(ctx context.Context, controlURL, serviceType, action string, args map[string]string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch action {
	case "Insert":
		id := strconv.Itoa(f.nextID)
		f.nextID++
		item := decodeOneItem(args["Metadata"])
		item.ID = id
		item.URI = args["Uri"]
		f.items[id] = item

		after := args["AfterId"]
		if after == "0" || len(f.ids) == 0 {
			f.ids = append([]string{id}, f.ids...)
		} else {
			idx := indexOf(f.ids, after)
			out := append([]string{}, f.ids[:idx+1]...)
			out = append(out, id)
			out = append(out, f.ids[idx+1:]...)
			f.ids = out
		}
		return map[string]string{"NewId": id}, nil
	case "DeleteId":
		id := args["Value"]
		idx := indexOf(f.ids, id)
		if idx >= 0 {
			f.ids = append(f.ids[:idx], f.ids[idx+1:]...)
		}
		delete(f.items, id)
		return map[string]string{}, nil
	case "DeleteAll":
		f.ids = nil
		f.items = make(map[string]PlaybackItem)
		return map[string]string{}, nil
	case "IdArray":
		return map[string]string{"Array": joinOHIDs(f.ids)}, nil
	case "ReadList":
		doc := didl.Document{}
		for _, id := range f.ids {
			it := f.items[id]
			doc.Objects = append(doc.Objects, didl.Object{
				ID: id, Title: it.Metadata.Title, Artist: it.Metadata.Artist,
				Class: "object.item.audioItem.musicTrack", Resources: []didl.Resource{{URL: it.URI}},
			})
		}
		return map[string]string{"TrackList": doc.Encode()}, nil
	case "SeekId", "Stop":
		return map[string]string{}, nil
	default:
		return nil, fmt.Errorf("fake: unhandled action %s", action)
	}
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

// TestOpenHomeMetadataOverride covers spec.md §8's "OpenHome metadata
// override" property and scenario 4: update_metadata never reaches the
// device, and snapshot always returns the latest cached metadata.
func TestOpenHomeMetadataOverride(t *testing.T) {
	dev := newFakeOHDevice()
	bus := eventbus.NewBus(8)
	backend := NewOpenHomeBackend(dev, "http://renderer/playlist", "r1", bus)
	q := NewQueue(backend)
	ctx := context.Background()

	idA, err := q.Append(ctx, PlaybackItem{URI: "http://x/a", Metadata: TrackMetadata{Title: "X"}})
	if err != nil {
		t.Fatalf("append A: %v", err)
	}
	idB, err := q.Append(ctx, PlaybackItem{URI: "http://x/b", Metadata: TrackMetadata{Title: "Y"}})
	if err != nil {
		t.Fatalf("append B: %v", err)
	}

	if err := q.UpdateMetadata(idA, TrackMetadata{Title: "X'"}); err != nil {
		t.Fatalf("update metadata: %v", err)
	}

	// The device's own record for idA must be unchanged (no device call
	// was made by UpdateMetadata).
	dev.mu.Lock()
	deviceTitle := dev.items[idA].Metadata.Title
	dev.mu.Unlock()
	if deviceTitle != "X" {
		t.Fatalf("device metadata should be untouched, got %q", deviceTitle)
	}

	snap, err := q.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("expected 2 items, got %d", len(snap))
	}
	byID := map[string]PlaybackItem{}
	for _, it := range snap {
		byID[it.ID] = it
	}
	if byID[idA].Metadata.Title != "X'" {
		t.Fatalf("expected overridden title X', got %q", byID[idA].Metadata.Title)
	}
	if byID[idB].Metadata.Title != "Y" {
		t.Fatalf("expected device title Y for B, got %q", byID[idB].Metadata.Title)
	}
}

// TestOpenHomeCacheGC covers spec.md §8's "OpenHome cache GC" property
// and scenario 4's sync_queue tail: after sync_queue, the override
// cache's key set equals exactly the ids present in the device queue.
func TestOpenHomeCacheGC(t *testing.T) {
	dev := newFakeOHDevice()
	backend := NewOpenHomeBackend(dev, "http://renderer/playlist", "r1", nil)
	q := NewQueue(backend)
	ctx := context.Background()

	if _, err := q.Append(ctx, PlaybackItem{URI: "http://x/a", Metadata: TrackMetadata{Title: "A"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := q.Append(ctx, PlaybackItem{URI: "http://x/b", Metadata: TrackMetadata{Title: "B"}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := q.SyncQueue(ctx, []PlaybackItem{{URI: "http://x/c", Metadata: TrackMetadata{Title: "Z"}}}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if _, err := q.Snapshot(ctx); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	keys := backend.CacheKeys()
	dev.mu.Lock()
	deviceIDs := append([]string{}, dev.ids...)
	dev.mu.Unlock()

	if len(keys) != len(deviceIDs) {
		t.Fatalf("cache keys %v should match device ids %v", keys, deviceIDs)
	}
	for _, id := range keys {
		if indexOf(deviceIDs, id) < 0 {
			t.Fatalf("cache key %s not present in device queue %v", id, deviceIDs)
		}
	}
}

func TestTransferQueueSuccess(t *testing.T) {
	srcDev := newFakeUPnPDevice()
	dstDev := newFakeUPnPDevice()
	src := NewQueue(NewUPnPBackend(srcDev, "http://src", "0"))
	dst := NewQueue(NewUPnPBackend(dstDev, "http://dst", "0"))
	ctx := context.Background()

	for _, title := range []string{"a", "b", "c"} {
		if _, err := src.Append(ctx, PlaybackItem{URI: "http://x/" + title, Metadata: TrackMetadata{Title: title}}); err != nil {
			t.Fatalf("seed append: %v", err)
		}
	}

	bus := eventbus.NewBus(8)
	if err := TransferQueue(ctx, bus, "r1", "r2", src, dst, "x-rincon-queue:r2#0"); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	dstSnap, err := dst.Snapshot(ctx)
	if err != nil {
		t.Fatalf("dst snapshot: %v", err)
	}
	if len(dstSnap) != 3 {
		t.Fatalf("expected 3 items in dst, got %d", len(dstSnap))
	}
	if dstDev.descriptor != "x-rincon-queue:r2#0" {
		t.Fatalf("expected dst playlist attached, got %q", dstDev.descriptor)
	}
}

func TestTransferQueueFailureLeavesDstEmpty(t *testing.T) {
	srcDev := newFakeUPnPDevice()
	dstDev := newFakeUPnPDevice()
	dstDev.appendFailAt = 1 // second append fails
	src := NewQueue(NewUPnPBackend(srcDev, "http://src", "0"))
	dst := NewQueue(NewUPnPBackend(dstDev, "http://dst", "0"))
	ctx := context.Background()

	for _, title := range []string{"a", "b"} {
		if _, err := src.Append(ctx, PlaybackItem{URI: "http://x/" + title, Metadata: TrackMetadata{Title: title}}); err != nil {
			t.Fatalf("seed append: %v", err)
		}
	}

	bus := eventbus.NewBus(8)
	sub := bus.Subscribe(eventbus.TransferFailed)
	defer bus.Unsubscribe(sub)

	if err := TransferQueue(ctx, bus, "r1", "r2", src, dst, "descriptor"); err == nil {
		t.Fatal("expected transfer error")
	}

	select {
	case evt := <-sub.C:
		if evt.RendererID != "r2" {
			t.Fatalf("expected TransferFailed for r2, got %s", evt.RendererID)
		}
	default:
		t.Fatal("expected TransferFailed published")
	}

	dstSnap, err := dst.Snapshot(ctx)
	if err != nil {
		t.Fatalf("dst snapshot: %v", err)
	}
	if len(dstSnap) != 0 {
		t.Fatalf("expected dst left empty, got %d items", len(dstSnap))
	}
}
