package renderer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coissac/pmomusic/internal/control/eventbus"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu       sync.Mutex
	state    TransportState
	position time.Duration
	volume   int
	muted    bool
	track    TrackMetadata
	failFrom int32
	calls    int32
	played   int32
}

func (f *fakeBackend) FetchTransportState(ctx context.Context) (TransportState, error) {
	if f.shouldFail() {
		return "", errors.New("fake transport error")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeBackend) FetchPosition(ctx context.Context) (time.Duration, time.Duration, error) {
	if f.shouldFail() {
		return 0, 0, errors.New("fake position error")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position, 3 * time.Minute, nil
}

func (f *fakeBackend) FetchVolume(ctx context.Context) (int, bool, error) {
	if f.shouldFail() {
		return 0, false, errors.New("fake volume error")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume, f.muted, nil
}

func (f *fakeBackend) FetchTrackMetadata(ctx context.Context) (TrackMetadata, error) {
	if f.shouldFail() {
		return TrackMetadata{}, errors.New("fake metadata error")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.track, nil
}

func (f *fakeBackend) Play(ctx context.Context) error {
	atomic.AddInt32(&f.played, 1)
	return nil
}

func (f *fakeBackend) shouldFail() bool {
	atomic.AddInt32(&f.calls, 1)
	return atomic.LoadInt32(&f.failFrom) != 0
}

func (f *fakeBackend) set(state TransportState, position time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
	f.position = position
}

type fakeHook struct {
	mu       sync.Mutex
	length   int
	isLast   bool
	advanced int
}

func (h *fakeHook) QueueLength(rendererID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.length
}

func (h *fakeHook) IsLastItem(rendererID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.isLast
}

func (h *fakeHook) Advance(rendererID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.advanced++
	return nil
}

func fastStrategy() WatchStrategy {
	return WatchStrategy{Kind: WatchPolling, TransportIntervalMs: 10, VolumeIntervalMs: 10}
}

func TestPushStartsWatcherAndPublishesStateChange(t *testing.T) {
	bus := eventbus.NewBus(8)
	sub := bus.Subscribe(eventbus.StateChanged)
	defer bus.Unsubscribe(sub)

	backend := &fakeBackend{state: StatePlaying}
	reg := NewRegistry(bus, nil)
	reg.Push("r1", ProtocolUPnP, "Kitchen", "TestModel", backend, fastStrategy(), nil)
	defer reg.StopWatching("r1")

	select {
	case evt := <-sub.C:
		require.Equal(t, "r1", evt.RendererID)
		require.Equal(t, StatePlaying, evt.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for StateChanged")
	}
}

func TestHasBeenSeenNowRestartsStoppedWatcher(t *testing.T) {
	bus := eventbus.NewBus(8)
	backend := &fakeBackend{state: StatePlaying}
	reg := NewRegistry(bus, nil)
	reg.Push("r1", ProtocolUPnP, "Kitchen", "TestModel", backend, fastStrategy(), nil)

	reg.MarkAsOffline("r1")
	r, _ := reg.Get("r1")
	require.False(t, r.Online())
	require.False(t, r.watcher.running())

	reg.HasBeenSeenNow("r1")
	require.True(t, r.Online())
	require.True(t, r.watcher.running())
	reg.StopWatching("r1")
}

func TestThreeConsecutiveFailuresMarkOffline(t *testing.T) {
	bus := eventbus.NewBus(8)
	sub := bus.Subscribe(eventbus.OfflineDetected)
	defer bus.Unsubscribe(sub)

	backend := &fakeBackend{state: StatePlaying}
	atomic.StoreInt32(&backend.failFrom, 1)

	reg := NewRegistry(bus, nil)
	reg.Push("r1", ProtocolUPnP, "Kitchen", "TestModel", backend, fastStrategy(), nil)
	defer reg.StopWatching("r1")

	select {
	case evt := <-sub.C:
		require.Equal(t, "r1", evt.RendererID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OfflineDetected")
	}

	r, _ := reg.Get("r1")
	require.False(t, r.Online())
}

func TestArylicQuirkCorrection(t *testing.T) {
	observed := applyQuirkCorrection(ProtocolArylic, Snapshot{Position: 1 * time.Second}, Snapshot{TransportState: StateStopped, Position: 2 * time.Second})
	require.Equal(t, StatePlaying, observed.TransportState)

	notCorrected := applyQuirkCorrection(ProtocolUPnP, Snapshot{Position: 1 * time.Second}, Snapshot{TransportState: StateStopped, Position: 2 * time.Second})
	require.Equal(t, StateStopped, notCorrected.TransportState)
}

func TestAutoAdvanceOnStoppedNotLastItem(t *testing.T) {
	bus := eventbus.NewBus(8)
	backend := &fakeBackend{state: StatePlaying}
	hook := &fakeHook{length: 3, isLast: false}

	reg := NewRegistry(bus, nil)
	reg.Push("r1", ProtocolUPnP, "Kitchen", "TestModel", backend, fastStrategy(), hook)
	defer reg.StopWatching("r1")

	time.Sleep(50 * time.Millisecond)
	backend.set(StateStopped, 10*time.Second)

	require.Eventually(t, func() bool {
		hook.mu.Lock()
		defer hook.mu.Unlock()
		return hook.advanced > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.True(t, atomic.LoadInt32(&backend.played) > 0)
}

func TestAutoAdvanceCompletesQueueOnLastItem(t *testing.T) {
	bus := eventbus.NewBus(8)
	sub := bus.Subscribe(eventbus.QueueCompleted)
	defer bus.Unsubscribe(sub)

	backend := &fakeBackend{state: StatePlaying}
	hook := &fakeHook{length: 1, isLast: true}

	reg := NewRegistry(bus, nil)
	reg.Push("r1", ProtocolUPnP, "Kitchen", "TestModel", backend, fastStrategy(), hook)
	defer reg.StopWatching("r1")

	time.Sleep(50 * time.Millisecond)
	backend.set(StateStopped, 10*time.Second)

	select {
	case evt := <-sub.C:
		require.Equal(t, "r1", evt.RendererID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for QueueCompleted")
	}

	hook.mu.Lock()
	defer hook.mu.Unlock()
	require.Equal(t, 0, hook.advanced)
}
