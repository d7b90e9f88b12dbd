package renderer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coissac/pmomusic/internal/control/eventbus"
)

const maxConsecutiveFailures = 3

// Watcher polls (or, for Hybrid strategies, polls while push callbacks
// supplement it externally) one Renderer's transport/position/volume/
// mute state and reconciles it against the last RendererSnapshot,
// publishing a matching event per changed field. Grounded on
// internal/sonos/events/manager.go's renewal-loop shape: a ticker
// goroutine, a cooperative stop channel checked each iteration, and a
// done-channel join on stop.
type Watcher struct {
	r *Renderer

	stopOnce    sync.Once
	stopCh      chan struct{}
	done        chan struct{}
	runningFlag int32

	consecutiveFailures int
}

func newWatcher(r *Renderer) *Watcher {
	return &Watcher{
		r:      r,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (w *Watcher) running() bool {
	return atomic.LoadInt32(&w.runningFlag) == 1
}

func (w *Watcher) start() {
	atomic.StoreInt32(&w.runningFlag, 1)
	go w.loop()
}

// stop sets the cooperative stop flag and blocks until the loop
// goroutine has exited. Safe to call multiple times and safe to call
// on a Watcher that never started.
func (w *Watcher) stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	if !w.running() {
		return
	}
	<-w.done
	atomic.StoreInt32(&w.runningFlag, 0)
}

func (w *Watcher) loop() {
	defer close(w.done)

	interval := time.Duration(w.r.strategy.TransportIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
		}

		select {
		case <-w.stopCh:
			return
		default:
		}

		if err := w.tick(); err != nil {
			w.consecutiveFailures++
			if w.consecutiveFailures >= maxConsecutiveFailures {
				if w.r.setOnline(false) {
					w.r.bus.Publish(eventbus.OfflineDetected, w.r.ID, err.Error())
				}
			}
			continue
		}
		w.consecutiveFailures = 0
		if w.r.setOnline(true) {
			w.r.bus.Publish(eventbus.DeviceOnline, w.r.ID, nil)
		}
	}
}

func (w *Watcher) tick() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state, err := w.r.backend.FetchTransportState(ctx)
	if err != nil {
		return err
	}
	position, duration, err := w.r.backend.FetchPosition(ctx)
	if err != nil {
		return err
	}
	volume, muted, err := w.r.backend.FetchVolume(ctx)
	if err != nil {
		return err
	}
	track, err := w.r.backend.FetchTrackMetadata(ctx)
	if err != nil {
		return err
	}

	w.r.mu.Lock()
	prev := w.r.snapshot
	observed := Snapshot{
		TransportState: state,
		Position:       position,
		Duration:       duration,
		Volume:         volume,
		Muted:          muted,
		Track:          track,
		QueueLength:    prev.QueueLength,
	}
	if w.r.hook != nil {
		observed.QueueLength = w.r.hook.QueueLength(w.r.ID)
	}
	observed = applyQuirkCorrection(w.r.Protocol, prev, observed)
	w.r.snapshot = observed
	w.r.lastSeen = time.Now()
	w.publishDiff(prev, observed)
	w.r.mu.Unlock()

	w.handleAutoAdvance(prev, observed)

	return nil
}

// applyQuirkCorrection compensates known backend misreporting before
// diffing (spec.md §4.4): Arylic devices report STOPPED while still
// advancing position, so that combination is reinterpreted as PLAYING.
func applyQuirkCorrection(protocol Protocol, prev, observed Snapshot) Snapshot {
	if protocol == ProtocolArylic && observed.TransportState == StateStopped && observed.Position > prev.Position {
		observed.TransportState = StatePlaying
	}
	return observed
}

func (w *Watcher) publishDiff(prev, observed Snapshot) {
	if prev.TransportState != observed.TransportState {
		w.r.bus.Publish(eventbus.StateChanged, w.r.ID, observed.TransportState)
	}
	if prev.Position != observed.Position || prev.Duration != observed.Duration {
		w.r.bus.Publish(eventbus.PositionChanged, w.r.ID, observed.Position)
	}
	if prev.Volume != observed.Volume {
		w.r.bus.Publish(eventbus.VolumeChanged, w.r.ID, observed.Volume)
	}
	if prev.Muted != observed.Muted {
		w.r.bus.Publish(eventbus.MuteChanged, w.r.ID, observed.Muted)
	}
	if prev.QueueLength != observed.QueueLength {
		w.r.bus.Publish(eventbus.QueueUpdated, w.r.ID, observed.QueueLength)
	}
	if prev.Track != observed.Track {
		w.r.bus.Publish(eventbus.MetadataChanged, w.r.ID, observed.Track)
	}
}

// handleAutoAdvance implements spec.md §4.4: a transition into STOPPED
// with a non-empty queue advances to the next item and plays it, unless
// the stopped item was the queue's last, in which case QueueCompleted is
// published instead.
func (w *Watcher) handleAutoAdvance(prev, observed Snapshot) {
	if observed.TransportState != StateStopped || prev.TransportState == StateStopped {
		return
	}
	if w.r.hook == nil || observed.QueueLength == 0 {
		return
	}
	if w.r.hook.IsLastItem(w.r.ID) {
		w.r.bus.Publish(eventbus.QueueCompleted, w.r.ID, nil)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.r.hook.Advance(w.r.ID); err != nil {
		return
	}
	_ = w.r.backend.Play(ctx)
}
