package queue

import (
	"strings"

	"github.com/coissac/pmomusic/internal/upnp/didl"
)

// decodeDIDLList decodes raw as one DIDL-Lite document (ReadList's
// TrackList is one DIDL-Lite item per requested track id, in id order)
// into PlaybackItems carrying device-reported metadata.
func decodeDIDLList(raw string) ([]PlaybackItem, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	doc, err := didl.Decode(raw)
	if err != nil {
		return nil, err
	}
	items := make([]PlaybackItem, len(doc.Objects))
	for i, obj := range doc.Objects {
		uri := ""
		if len(obj.Resources) > 0 {
			uri = obj.Resources[0].URL
		}
		items[i] = PlaybackItem{
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
		}
	}
	return items, nil
}

// splitOHIDs / joinOHIDs convert between the OpenHomeBackend's internal
// ordered-id representation and the space-joined id list IdArray/
// ReadList pass over the wire (OpenHome's real IdArray response is a
// base64-packed array of big-endian uint32s; decoding that binary
// format is this backend's Invoker's concern, not the queue model's —
// by the time Invoke returns, args are already flat strings).
func splitOHIDs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

func joinOHIDs(ids []string) string {
	return strings.Join(ids, " ")
}

// parseOHTrackList decodes a ReadList TrackList response (one DIDL-Lite
// <item> per requested id, concatenated in id order) into PlaybackItems
// keyed by the ids already known from IdArray.
func parseOHTrackList(raw string, ids []string) []PlaybackItem {
	doc, err := decodeDIDLList(raw)
	if err != nil || len(doc) != len(ids) {
		out := make([]PlaybackItem, len(ids))
		for i, id := range ids {
			out[i] = PlaybackItem{ID: id}
		}
		return out
	}
	out := make([]PlaybackItem, len(ids))
	for i, id := range ids {
		out[i] = doc[i]
		out[i].ID = id
	}
	return out
}
