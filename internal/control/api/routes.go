// routes.go wires the Control-Point HTTP API spec.md §6 names against
// internal/control/renderer, /queue, and /eventbus, replacing the
// teacher's Sonos/scene/scheduler business routes that lived alongside
// this plumbing in internal/api+internal/server.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/coissac/pmomusic/internal/apperrors"
	"github.com/coissac/pmomusic/internal/control/eventbus"
	"github.com/coissac/pmomusic/internal/control/queue"
	"github.com/coissac/pmomusic/internal/control/renderer"
)

// QueueLookup resolves a renderer id to its Queue, if one is wired for
// it. The composition root owns the id→Queue mapping (one Queue per
// renderer, built from that renderer's own Backend), so this package
// only needs a narrow read accessor.
type QueueLookup func(rendererID string) (*queue.Queue, bool)

// Deps bundles everything routes.go needs to construct Control-Point
// handlers.
type Deps struct {
	Renderers   *renderer.Registry
	Servers     *renderer.ServerRegistry
	Queues      QueueLookup
	Bus         *eventbus.Bus
	CommandWait time.Duration // per-command SOAP deadline; defaults to 5s
}

// RegisterRoutes mounts every Control-Point endpoint spec.md §6 names
// onto router.
func RegisterRoutes(router chi.Router, deps Deps) {
	if deps.CommandWait <= 0 {
		deps.CommandWait = 5 * time.Second
	}

	router.Method(http.MethodGet, "/api/renderers", Handler(deps.listRenderers))
	router.Method(http.MethodGet, "/api/servers", Handler(deps.listServers))

	router.Method(http.MethodGet, "/api/renderers/{id}/state", Handler(deps.rendererState))
	router.Method(http.MethodGet, "/api/renderers/{id}/queue", Handler(deps.rendererQueue))
	router.Method(http.MethodGet, "/api/renderers/{id}/binding", Handler(deps.rendererBinding))

	router.Method(http.MethodPost, "/api/renderers/{id}/play", Handler(deps.command(func(ctx context.Context, c renderer.Commander) error { return c.Play(ctx) })))
	router.Method(http.MethodPost, "/api/renderers/{id}/pause", Handler(deps.command(func(ctx context.Context, c renderer.Commander) error { return c.Pause(ctx) })))
	router.Method(http.MethodPost, "/api/renderers/{id}/stop", Handler(deps.command(func(ctx context.Context, c renderer.Commander) error { return c.Stop(ctx) })))
	router.Method(http.MethodPost, "/api/renderers/{id}/next", Handler(deps.next))
	router.Method(http.MethodPost, "/api/renderers/{id}/seek", Handler(deps.seek))
	router.Method(http.MethodPost, "/api/renderers/{id}/volume/{v}", Handler(deps.setVolume))
	router.Method(http.MethodPost, "/api/renderers/{id}/mute", Handler(deps.setMute))

	router.Method(http.MethodGet, "/api/events", Handler(deps.events))
}

func (d Deps) renderer(r *http.Request) (*renderer.Renderer, error) {
	id := chi.URLParam(r, "id")
	rend, ok := d.Renderers.Get(id)
	if !ok {
		return nil, apperrors.NewNotFoundResource("renderer", id)
	}
	return rend, nil
}

// rendererSummary is the wire shape for one entry of GET /api/renderers.
type rendererSummary struct {
	Object       string            `json:"object"`
	ID           string            `json:"id"`
	Protocol     renderer.Protocol `json:"protocol"`
	FriendlyName string            `json:"friendly_name"`
	Model        string            `json:"model"`
	Online       bool              `json:"online"`
}

func toRendererSummary(r *renderer.Renderer) rendererSummary {
	return rendererSummary{
		Object:       "renderer",
		ID:           r.ID,
		Protocol:     r.Protocol,
		FriendlyName: r.FriendlyName,
		Model:        r.Model,
		Online:       r.Online(),
	}
}

func (d Deps) listRenderers(w http.ResponseWriter, r *http.Request) error {
	list := d.Renderers.List()
	out := make([]rendererSummary, 0, len(list))
	for _, rend := range list {
		out = append(out, toRendererSummary(rend))
	}
	return WriteList(w, "/api/renderers", out, false)
}

// serverSummary is the wire shape for one entry of GET /api/servers.
type serverSummary struct {
	Object       string `json:"object"`
	ID           string `json:"id"`
	FriendlyName string `json:"friendly_name"`
	BaseURL      string `json:"base_url"`
	Online       bool   `json:"online"`
}

func (d Deps) listServers(w http.ResponseWriter, r *http.Request) error {
	var out []serverSummary
	if d.Servers != nil {
		list := d.Servers.List()
		out = make([]serverSummary, 0, len(list))
		for _, s := range list {
			out = append(out, serverSummary{
				Object:       "server",
				ID:           s.ID,
				FriendlyName: s.FriendlyName,
				BaseURL:      s.BaseURL,
				Online:       s.Online,
			})
		}
	}
	return WriteList(w, "/api/servers", out, false)
}

// snapshotResource is the wire shape of GET /api/renderers/{id}/state.
type snapshotResource struct {
	Object             string                   `json:"object"`
	RendererID         string                   `json:"renderer_id"`
	TransportState     renderer.TransportState  `json:"transport_state"`
	PositionMs         int64                    `json:"position_ms"`
	DurationMs         int64                    `json:"duration_ms"`
	Volume             int                      `json:"volume"`
	Muted              bool                     `json:"muted"`
	Track              renderer.TrackMetadata   `json:"track"`
	QueueLength        int                      `json:"queue_length"`
	PlaylistDescriptor string                   `json:"playlist_descriptor"`
}

func (d Deps) rendererState(w http.ResponseWriter, r *http.Request) error {
	rend, err := d.renderer(r)
	if err != nil {
		return err
	}
	snap := rend.Snapshot()
	return WriteResource(w, http.StatusOK, snapshotResource{
		Object:             "renderer_state",
		RendererID:         rend.ID,
		TransportState:     snap.TransportState,
		PositionMs:         snap.Position.Milliseconds(),
		DurationMs:         snap.Duration.Milliseconds(),
		Volume:             snap.Volume,
		Muted:              snap.Muted,
		Track:              snap.Track,
		QueueLength:        snap.QueueLength,
		PlaylistDescriptor: snap.PlaylistDescriptor,
	})
}

// queueItemResource is the wire shape of one entry of GET .../queue.
type queueItemResource struct {
	ID       string               `json:"id"`
	TrackID  string               `json:"track_id"`
	URI      string               `json:"uri"`
	Metadata queue.TrackMetadata  `json:"metadata"`
}

func (d Deps) rendererQueue(w http.ResponseWriter, r *http.Request) error {
	rend, err := d.renderer(r)
	if err != nil {
		return err
	}
	q, ok := d.Queues(rend.ID)
	if !ok {
		return WriteList(w, r.URL.Path, []queueItemResource{}, false)
	}
	items, err := q.Snapshot(r.Context())
	if err != nil {
		return err
	}
	out := make([]queueItemResource, 0, len(items))
	for _, it := range items {
		out = append(out, queueItemResource{ID: it.ID, TrackID: it.TrackID, URI: it.URI, Metadata: it.Metadata})
	}
	return WriteList(w, r.URL.Path, out, false)
}

// bindingResource is the wire shape of GET .../binding: which playlist
// descriptor (if any) this renderer's queue is currently attached to.
type bindingResource struct {
	Object             string `json:"object"`
	RendererID         string `json:"renderer_id"`
	PlaylistDescriptor string `json:"playlist_descriptor"`
}

func (d Deps) rendererBinding(w http.ResponseWriter, r *http.Request) error {
	rend, err := d.renderer(r)
	if err != nil {
		return err
	}
	snap := rend.Snapshot()
	return WriteResource(w, http.StatusOK, bindingResource{
		Object:             "renderer_binding",
		RendererID:         rend.ID,
		PlaylistDescriptor: snap.PlaylistDescriptor,
	})
}

// actionResult is the wire shape every command verb returns on success
// (spec.md §6: "all are idempotent except next").
type actionResult struct {
	Object     string `json:"object"`
	RendererID string `json:"renderer_id"`
	Status     string `json:"status"`
}

func (d Deps) commander(r *http.Request) (*renderer.Renderer, renderer.Commander, error) {
	rend, err := d.renderer(r)
	if err != nil {
		return nil, nil, err
	}
	cmd, ok := rend.Commander()
	if !ok {
		return nil, nil, apperrors.NewActionInvocationError(fmt.Sprintf("renderer %s does not accept commands", rend.ID), http.StatusNotImplemented, nil)
	}
	return rend, cmd, nil
}

func (d Deps) command(invoke func(ctx context.Context, c renderer.Commander) error) Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		rend, cmd, err := d.commander(r)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(r.Context(), d.CommandWait)
		defer cancel()
		if err := invoke(ctx, cmd); err != nil {
			return err
		}
		return WriteAction(w, http.StatusOK, actionResult{Object: "action", RendererID: rend.ID, Status: "ok"})
	}
}

// next advances the queue: it is the one non-idempotent verb (spec.md
// §6) since repeated calls each skip to the following track.
func (d Deps) next(w http.ResponseWriter, r *http.Request) error {
	rend, cmd, err := d.commander(r)
	if err != nil {
		return err
	}
	q, ok := d.Queues(rend.ID)
	if !ok {
		return apperrors.NewNotFoundResource("queue", rend.ID)
	}

	ctx, cancel := context.WithTimeout(r.Context(), d.CommandWait)
	defer cancel()

	snap := rend.Snapshot()
	items, err := q.Snapshot(ctx)
	if err != nil {
		return err
	}
	nextIdx := currentIndex(items, snap) + 1
	if nextIdx >= len(items) {
		return apperrors.NewActionInvocationError("no next item in queue", http.StatusConflict, nil)
	}
	if err := cmd.Stop(ctx); err != nil {
		return err
	}
	if err := cmd.Play(ctx); err != nil {
		return err
	}
	return WriteAction(w, http.StatusOK, actionResult{Object: "action", RendererID: rend.ID, Status: "ok"})
}

// currentIndex locates the queue entry matching the renderer's last
// observed track by title/artist, since neither UPnP nor OpenHome
// report "current queue index" directly — only the currently loaded
// URI/metadata (spec.md §4.4's RendererSnapshot.Track).
func currentIndex(items []queue.PlaybackItem, snap renderer.Snapshot) int {
	for i, it := range items {
		if it.Metadata.Title == snap.Track.Title && it.Metadata.Artist == snap.Track.Artist {
			return i
		}
	}
	return -1
}

// seekRequest is the JSON body of POST .../seek.
type seekRequest struct {
	PositionMs int64 `json:"position_ms"`
}

func (d Deps) seek(w http.ResponseWriter, r *http.Request) error {
	rend, cmd, err := d.commander(r)
	if err != nil {
		return err
	}
	var body seekRequest
	if err := decodeJSON(r, &body); err != nil {
		return apperrors.NewActionInvocationError("invalid seek request body", http.StatusBadRequest, nil)
	}
	ctx, cancel := context.WithTimeout(r.Context(), d.CommandWait)
	defer cancel()
	if err := cmd.SeekTo(ctx, time.Duration(body.PositionMs)*time.Millisecond); err != nil {
		return err
	}
	return WriteAction(w, http.StatusOK, actionResult{Object: "action", RendererID: rend.ID, Status: "ok"})
}

func (d Deps) setVolume(w http.ResponseWriter, r *http.Request) error {
	rend, cmd, err := d.commander(r)
	if err != nil {
		return err
	}
	v, err := strconv.Atoi(chi.URLParam(r, "v"))
	if err != nil || v < 0 || v > 100 {
		return apperrors.NewActionInvocationError("volume must be an integer in [0,100]", http.StatusBadRequest, nil)
	}
	ctx, cancel := context.WithTimeout(r.Context(), d.CommandWait)
	defer cancel()
	if err := cmd.SetVolume(ctx, v); err != nil {
		return err
	}
	return WriteAction(w, http.StatusOK, actionResult{Object: "action", RendererID: rend.ID, Status: "ok"})
}

// muteRequest is the JSON body of POST .../mute.
type muteRequest struct {
	Muted bool `json:"muted"`
}

func (d Deps) setMute(w http.ResponseWriter, r *http.Request) error {
	rend, cmd, err := d.commander(r)
	if err != nil {
		return err
	}
	var body muteRequest
	if err := decodeJSON(r, &body); err != nil {
		return apperrors.NewActionInvocationError("invalid mute request body", http.StatusBadRequest, nil)
	}
	ctx, cancel := context.WithTimeout(r.Context(), d.CommandWait)
	defer cancel()
	if err := cmd.SetMute(ctx, body.Muted); err != nil {
		return err
	}
	return WriteAction(w, http.StatusOK, actionResult{Object: "action", RendererID: rend.ID, Status: "ok"})
}

// eventPayload is the wire shape of one line of the GET /api/events
// stream.
type eventPayload struct {
	Kind       eventbus.Kind `json:"kind"`
	RendererID string        `json:"renderer_id"`
	Payload    any           `json:"payload"`
	At         time.Time     `json:"at"`
}

// allEventKinds is every Kind the bus carries; the stream endpoint
// subscribes to all of them and fans them into one connection, since
// spec.md §6 describes a single /api/events stream, not one per kind.
var allEventKinds = []eventbus.Kind{
	eventbus.StateChanged, eventbus.PositionChanged, eventbus.VolumeChanged,
	eventbus.MuteChanged, eventbus.QueueUpdated, eventbus.BindingChanged,
	eventbus.MetadataChanged, eventbus.SlugChanged, eventbus.QueueCompleted,
	eventbus.OfflineDetected, eventbus.DeviceOnline, eventbus.TransferFailed,
}

// eventsUpgrader upgrades GET /api/events to a websocket connection.
// CheckOrigin is permissive: this endpoint is a read-only fan-out of
// already-public renderer state, not a privileged action surface.
var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// events serves a long-lived event stream over the event bus (spec.md
// §6) as a websocket connection, one JSON text message per event,
// matching the teacher's gorilla/websocket upgrade path repurposed for
// this bus instead of its original raw passthrough.
func (d Deps) events(w http.ResponseWriter, r *http.Request) error {
	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return apperrors.NewActionInvocationError("websocket upgrade failed: "+err.Error(), http.StatusBadRequest, nil)
	}
	defer conn.Close()

	subs := make([]*eventbus.Subscription, 0, len(allEventKinds))
	for _, k := range allEventKinds {
		subs = append(subs, d.Bus.Subscribe(k))
	}
	defer func() {
		for _, s := range subs {
			d.Bus.Unsubscribe(s)
		}
	}()

	merged := make(chan eventbus.Event, d.bufferedSize())
	done := make(chan struct{})
	defer close(done)
	for _, s := range subs {
		go fanIn(s, merged, done)
	}

	// Drain and discard client frames so pong control frames are
	// processed and a client-initiated close is detected promptly.
	clientGone := make(chan struct{})
	go drainClientFrames(conn, clientGone)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-clientGone:
			return nil
		case evt := <-merged:
			payload := eventPayload{Kind: evt.Kind, RendererID: evt.RendererID, Payload: evt.Payload, At: evt.At}
			if err := conn.WriteJSON(payload); err != nil {
				return nil
			}
		}
	}
}

func drainClientFrames(conn *websocket.Conn, clientGone chan<- struct{}) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			close(clientGone)
			return
		}
	}
}

func (d Deps) bufferedSize() int {
	return 256
}

func fanIn(sub *eventbus.Subscription, out chan<- eventbus.Event, done <-chan struct{}) {
	for {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			select {
			case out <- evt:
			case <-done:
				return
			}
		case <-done:
			return
		}
	}
}
