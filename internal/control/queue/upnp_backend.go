package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/coissac/pmomusic/internal/upnp/didl"
	"github.com/coissac/pmomusic/internal/upnp/soap"
)

// AVTransportServiceType is the UPnP AVTransport:1 service type URN
// used as the SOAP envelope namespace for every action this backend
// invokes.
const AVTransportServiceType = "urn:schemas-upnp-org:service:AVTransport:1"

// UPnPBackend is the AVTransport queue backend, spec.md §4.5: "stateless
// mirror of the device's own queue — operations are direct SOAP calls."
// It holds no queue state itself; every call round-trips to the device.
//
// Grounded on internal/sonos/play.go's PlayService queue-mode switch
// (REPLACE_AND_PLAY/PLAY_NEXT/ADD_TO_END/QUEUE_ONLY), which drives the
// same AddURIToQueue/RemoveTrackFromQueue/RemoveAllTracksFromQueue verbs
// this backend issues directly rather than through a mode enum.
type UPnPBackend struct {
	invoker    soap.Invoker
	controlURL string
	instanceID string
}

// NewUPnPBackend builds a Backend that drives the AVTransport service at
// controlURL. instanceID is the AVTransport InstanceID argument (almost
// always "0").
func NewUPnPBackend(invoker soap.Invoker, controlURL, instanceID string) *UPnPBackend {
	if instanceID == "" {
		instanceID = "0"
	}
	return &UPnPBackend{invoker: invoker, controlURL: controlURL, instanceID: instanceID}
}

func (b *UPnPBackend) invoke(ctx context.Context, action string, args map[string]string) (map[string]string, error) {
	args["InstanceID"] = b.instanceID
	return b.invoker.Invoke(ctx, b.controlURL, AVTransportServiceType, action, args)
}

func metadataToDIDL(item PlaybackItem) string {
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

// Append issues AddURIToQueue with DesiredFirstTrackNumberEnqueued=0 (end
// of queue) and returns the device-assigned FirstTrackNumberEnqueued as
// the new entry's id.
func (b *UPnPBackend) Append(ctx context.Context, item PlaybackItem) (string, error) {
	out, err := b.invoke(ctx, "AddURIToQueue", map[string]string{
		"EnqueuedURI":                     item.URI,
		"EnqueuedURIMetaData":             metadataToDIDL(item),
		"DesiredFirstTrackNumberEnqueued": "0",
		"EnqueueAsNext":                   "0",
	})
	if err != nil {
		return "", err
	}
	return out["FirstTrackNumberEnqueued"], nil
}

// ReplaceAt removes the track at 0-based index (AVTransport queue
// position index+1) and enqueues item at the same position — AVTransport
// has no single "replace" verb.
func (b *UPnPBackend) ReplaceAt(ctx context.Context, index int, item PlaybackItem) (string, error) {
	pos := strconv.Itoa(index + 1)
	if _, err := b.invoke(ctx, "RemoveTrackFromQueue", map[string]string{
		"ObjectID": fmt.Sprintf("Q:0/%s", pos),
	}); err != nil {
		return "", err
	}
	out, err := b.invoke(ctx, "AddURIToQueue", map[string]string{
		"EnqueuedURI":                     item.URI,
		"EnqueuedURIMetaData":             metadataToDIDL(item),
		"DesiredFirstTrackNumberEnqueued": pos,
		"EnqueueAsNext":                   "0",
	})
	if err != nil {
		return "", err
	}
	return out["FirstTrackNumberEnqueued"], nil
}

func (b *UPnPBackend) RemoveAt(ctx context.Context, index int) error {
	_, err := b.invoke(ctx, "RemoveTrackFromQueue", map[string]string{
		"ObjectID": fmt.Sprintf("Q:0/%d", index+1),
	})
	return err
}

func (b *UPnPBackend) Clear(ctx context.Context) error {
	_, err := b.invoke(ctx, "RemoveAllTracksFromQueue", map[string]string{})
	return err
}

// DeviceSnapshot Browses the device's own "Q:0" queue container over
// ContentDirectory and decodes the returned DIDL-Lite into
// PlaybackItems in device-reported order.
func (b *UPnPBackend) DeviceSnapshot(ctx context.Context) ([]PlaybackItem, error) {
	out, err := b.invoker.Invoke(ctx, b.controlURL,
		"urn:schemas-upnp-org:service:ContentDirectory:1", "Browse", map[string]string{
			"ObjectID":       "Q:0",
			"BrowseFlag":     "BrowseDirectChildren",
			"Filter":         "*",
			"StartingIndex":  "0",
			"RequestedCount": "0",
			"SortCriteria":   "",
		})
	if err != nil {
		return nil, err
	}
	doc, err := didl.Decode(out["Result"])
	if err != nil {
		return nil, err
	}
	items := make([]PlaybackItem, 0, len(doc.Objects))
	for _, obj := range doc.Objects {
		uri := ""
		if len(obj.Resources) > 0 {
			uri = obj.Resources[0].URL
		}
		items = append(items, PlaybackItem{
			ID:      obj.ID,
			TrackID: obj.ID,
			URI:     uri,
			Metadata: TrackMetadata{
				Title:       obj.Title,
				Artist:      obj.Artist,
				Album:       obj.Album,
				Genre:       obj.Genre,
				AlbumArtURI: obj.AlbumArtURI,
			},
		})
	}
	return items, nil
}

// AttachPlaylist sets descriptor as the transport's current URI
// (SetAVTransportURI with empty metadata).
func (b *UPnPBackend) AttachPlaylist(ctx context.Context, descriptor string) error {
	_, err := b.invoke(ctx, "SetAVTransportURI", map[string]string{
		"CurrentURI":         descriptor,
		"CurrentURIMetaData": "",
	})
	return err
}

// DetachPlaylist stops the transport, unbinding it from any attached
// playlist descriptor.
func (b *UPnPBackend) DetachPlaylist(ctx context.Context) error {
	_, err := b.invoke(ctx, "Stop", map[string]string{})
	return err
}
