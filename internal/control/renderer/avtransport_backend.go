package renderer

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/coissac/pmomusic/internal/upnp/didl"
	"github.com/coissac/pmomusic/internal/upnp/soap"
)

// AVTransport/RenderingControl service type URNs, spec.md §6.
const (
	avTransportServiceType       = "urn:schemas-upnp-org:service:AVTransport:1"
	renderingControlServiceType  = "urn:schemas-upnp-org:service:RenderingControl:1"
)

// AVTransportBackend is the default Backend+Commander for renderers
// speaking plain UPnP AVTransport/RenderingControl — the Polling
// strategy backends named in spec.md §4.4 (UPnP, LinkPlay, Arylic all
// speak this wire format; LinkPlay/Arylic additionally layer vendor
// HTTP quirks on top, supplied by a distinct Backend in the composition
// root when needed).
//
// Grounded directly on internal/sonos/soap/actions.go's
// GetTransportInfo/GetPositionInfo/Play/Pause/Stop/Seek/GetVolume/
// SetVolume/GetMute/SetMute action set and argument shapes, replayed
// here over the generic soap.Invoker instead of a Sonos-only *Client
// hardcoded to port 1400.
type AVTransportBackend struct {
	invoker             soap.Invoker
	avTransportURL      string
	renderingControlURL string
	instanceID          string
}

// NewAVTransportBackend builds a Backend driving the AVTransport
// service at avTransportURL and the RenderingControl service at
// renderingControlURL, both taken from the renderer's device
// description.
func NewAVTransportBackend(invoker soap.Invoker, avTransportURL, renderingControlURL string) *AVTransportBackend {
	return &AVTransportBackend{
		invoker:             invoker,
		avTransportURL:      avTransportURL,
		renderingControlURL: renderingControlURL,
		instanceID:          "0",
	}
}

func (b *AVTransportBackend) transport(ctx context.Context, action string, args map[string]string) (map[string]string, error) {
	args["InstanceID"] = b.instanceID
	return b.invoker.Invoke(ctx, b.avTransportURL, avTransportServiceType, action, args)
}

func (b *AVTransportBackend) rendering(ctx context.Context, action string, args map[string]string) (map[string]string, error) {
	args["InstanceID"] = b.instanceID
	args["Channel"] = "Master"
	return b.invoker.Invoke(ctx, b.renderingControlURL, renderingControlServiceType, action, args)
}

func (b *AVTransportBackend) FetchTransportState(ctx context.Context) (TransportState, error) {
	out, err := b.transport(ctx, "GetTransportInfo", map[string]string{})
	if err != nil {
		return "", err
	}
	return TransportState(out["CurrentTransportState"]), nil
}

func (b *AVTransportBackend) FetchPosition(ctx context.Context) (time.Duration, time.Duration, error) {
	out, err := b.transport(ctx, "GetPositionInfo", map[string]string{})
	if err != nil {
		return 0, 0, err
	}
	return parseHMS(out["RelTime"]), parseHMS(out["TrackDuration"]), nil
}

func (b *AVTransportBackend) FetchVolume(ctx context.Context) (int, bool, error) {
	volOut, err := b.rendering(ctx, "GetVolume", map[string]string{})
	if err != nil {
		return 0, false, err
	}
	muteOut, err := b.rendering(ctx, "GetMute", map[string]string{})
	if err != nil {
		return 0, false, err
	}
	vol, _ := strconv.Atoi(volOut["CurrentVolume"])
	muted := muteOut["CurrentMute"] == "1" || strings.EqualFold(muteOut["CurrentMute"], "true")
	return vol, muted, nil
}

func (b *AVTransportBackend) FetchTrackMetadata(ctx context.Context) (TrackMetadata, error) {
	out, err := b.transport(ctx, "GetMediaInfo", map[string]string{})
	if err != nil {
		return TrackMetadata{}, err
	}
	doc, err := didl.Decode(out["CurrentURIMetaData"])
	if err != nil || len(doc.Objects) == 0 {
		return TrackMetadata{}, nil
	}
	obj := doc.Objects[0]
	return TrackMetadata{
		Title:       obj.Title,
		Artist:      obj.Artist,
		Album:       obj.Album,
		Genre:       obj.Genre,
		AlbumArtURI: obj.AlbumArtURI,
	}, nil
}

func (b *AVTransportBackend) Play(ctx context.Context) error {
	_, err := b.transport(ctx, "Play", map[string]string{"Speed": "1"})
	return err
}

func (b *AVTransportBackend) Pause(ctx context.Context) error {
	_, err := b.transport(ctx, "Pause", map[string]string{})
	return err
}

func (b *AVTransportBackend) Stop(ctx context.Context) error {
	_, err := b.transport(ctx, "Stop", map[string]string{})
	return err
}

func (b *AVTransportBackend) SeekTo(ctx context.Context, position time.Duration) error {
	_, err := b.transport(ctx, "Seek", map[string]string{
		"Unit":   "REL_TIME",
		"Target": formatHMS(position),
	})
	return err
}

func (b *AVTransportBackend) SetVolume(ctx context.Context, volume int) error {
	_, err := b.rendering(ctx, "SetVolume", map[string]string{"DesiredVolume": strconv.Itoa(volume)})
	return err
}

func (b *AVTransportBackend) SetMute(ctx context.Context, muted bool) error {
	desired := "0"
	if muted {
		desired = "1"
	}
	_, err := b.rendering(ctx, "SetMute", map[string]string{"DesiredMute": desired})
	return err
}

// parseHMS parses a UPnP "H+:MM:SS[.F+]" duration string. Malformed or
// empty input (NOT_IMPLEMENTED, a common AVTransport response when no
// media is loaded) yields zero rather than an error, matching this
// runtime's tolerant-decode convention elsewhere (didl.Decode).
func parseHMS(s string) time.Duration {
	s = strings.SplitN(s, ".", 2)[0]
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	sec, errS := strconv.Atoi(parts[2])
	if errH != nil || errM != nil || errS != nil {
		return 0
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
}

func formatHMS(d time.Duration) string {
	total := int(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return pad2(h) + ":" + pad2(m) + ":" + pad2(s)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
