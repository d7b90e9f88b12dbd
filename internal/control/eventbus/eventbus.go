// Package eventbus implements the non-blocking multi-producer,
// multi-subscriber event dispatch described in spec.md §4.8: watchers,
// caches, and backends publish; the /api/events websocket endpoint and
// in-process listeners subscribe.
//
// The bus itself has no teacher precedent (internal/server/server.go
// only ever upgraded a single raw websocket connection); the bounded
// mailbox and non-blocking publish idiom are grounded on the
// fail-the-slow-consumer-never-the-producer posture implicit in
// internal/sonos/events/manager.go's missed-notify counters, adapted
// here into an explicit per-subscriber drop counter.
package eventbus

import (
	"sync"
	"time"
)

// Kind identifies the category of an Event.
type Kind string

const (
	StateChanged    Kind = "StateChanged"
	PositionChanged Kind = "PositionChanged"
	VolumeChanged   Kind = "VolumeChanged"
	MuteChanged     Kind = "MuteChanged"
	QueueUpdated    Kind = "QueueUpdated"
	BindingChanged  Kind = "BindingChanged"
	MetadataChanged Kind = "MetadataChanged"
	SlugChanged     Kind = "SlugChanged"
	QueueCompleted  Kind = "QueueCompleted"
	OfflineDetected Kind = "OfflineDetected"
	DeviceOnline    Kind = "DeviceOnline"
	TransferFailed  Kind = "TransferFailed"
)

// Event is one published notification.
type Event struct {
	Kind       Kind
	RendererID string
	Payload    any
	At         time.Time
}

// Subscription is a bounded mailbox of events of one Kind. Consumers
// drain C; when C is full, Publish drops the new event and increments
// Dropped rather than blocking the producer (spec.md §4.8's
// drop_newest policy).
type Subscription struct {
	C       <-chan Event
	kind    Kind
	id      uint64
	ch      chan Event
	dropped *int64
	mu      *sync.Mutex
}

// Dropped returns the number of events dropped for this subscription
// because its mailbox was full.
func (s *Subscription) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.dropped
}

type subscriber struct {
	id      uint64
	ch      chan Event
	dropped int64
	mu      sync.Mutex
}

// Bus dispatches Events to subscribers, keyed by Kind. Unknown kinds
// (a Publish with no subscribers for that Kind) are silently ignored,
// matching spec.md §4.8.
type Bus struct {
	mu      sync.Mutex
	subs    map[Kind]map[uint64]*subscriber
	nextID  uint64
	mailbox int
	now     func() time.Time
}

// NewBus creates a Bus whose subscriber mailboxes are sized mailbox
// entries deep.
func NewBus(mailbox int) *Bus {
	if mailbox <= 0 {
		mailbox = 32
	}
	return &Bus{
		subs:    make(map[Kind]map[uint64]*subscriber),
		mailbox: mailbox,
		now:     time.Now,
	}
}

// Subscribe registers interest in events of kind and returns a
// Subscription whose C channel delivers them. Unsubscribe must be
// called to release it.
func (b *Bus) Subscribe(kind Kind) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		id: b.nextID,
		ch: make(chan Event, b.mailbox),
	}
	b.nextID++

	if b.subs[kind] == nil {
		b.subs[kind] = make(map[uint64]*subscriber)
	}
	b.subs[kind][sub.id] = sub

	return &Subscription{
		C:       sub.ch,
		kind:    kind,
		id:      sub.id,
		ch:      sub.ch,
		dropped: &sub.dropped,
		mu:      &sub.mu,
	}
}

// Unsubscribe removes a Subscription. It is idempotent.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if byKind, ok := b.subs[s.kind]; ok {
		delete(byKind, s.id)
		if len(byKind) == 0 {
			delete(b.subs, s.kind)
		}
	}
}

// Publish delivers an event of the given kind to every current
// subscriber of that kind. Delivery never blocks: a subscriber whose
// mailbox is full has the event dropped and its drop counter
// incremented instead. Per-producer ordering to each subscriber that
// keeps up is preserved because Publish enqueues into every
// subscriber's channel synchronously, in the order its caller invokes
// Publish.
func (b *Bus) Publish(kind Kind, rendererID string, payload any) {
	b.mu.Lock()
	byKind := b.subs[kind]
	targets := make([]*subscriber, 0, len(byKind))
	for _, sub := range byKind {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	evt := Event{Kind: kind, RendererID: rendererID, Payload: payload, At: b.now()}
	for _, sub := range targets {
		select {
		case sub.ch <- evt:
		default:
			sub.mu.Lock()
			sub.dropped++
			sub.mu.Unlock()
		}
	}
}
