package eventbus

import (
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBus(4)
	sub := b.Subscribe(VolumeChanged)
	defer b.Unsubscribe(sub)

	b.Publish(VolumeChanged, "r1", 20)

	select {
	case evt := <-sub.C:
		if evt.RendererID != "r1" || evt.Payload != 20 {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishIgnoresUnknownKind(t *testing.T) {
	b := NewBus(4)
	// No subscriber for MuteChanged; must not panic or block.
	b.Publish(MuteChanged, "r1", true)
}

func TestPublishDropsNewestWhenMailboxFull(t *testing.T) {
	b := NewBus(1)
	sub := b.Subscribe(PositionChanged)
	defer b.Unsubscribe(sub)

	b.Publish(PositionChanged, "r1", 1)
	b.Publish(PositionChanged, "r1", 2) // mailbox full, dropped

	if sub.Dropped() != 1 {
		t.Fatalf("expected 1 dropped event, got %d", sub.Dropped())
	}

	evt := <-sub.C
	if evt.Payload != 1 {
		t.Fatalf("expected first event to survive, got %+v", evt)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(4)
	sub := b.Subscribe(StateChanged)
	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // idempotent

	b.Publish(StateChanged, "r1", "PLAYING")

	select {
	case evt := <-sub.C:
		t.Fatalf("expected no delivery after unsubscribe, got %+v", evt)
	default:
	}
}

func TestPerProducerOrderingPreserved(t *testing.T) {
	b := NewBus(8)
	sub := b.Subscribe(QueueUpdated)
	defer b.Unsubscribe(sub)

	for i := 0; i < 5; i++ {
		b.Publish(QueueUpdated, "r1", i)
	}

	for i := 0; i < 5; i++ {
		evt := <-sub.C
		if evt.Payload != i {
			t.Fatalf("expected payload %d, got %v", i, evt.Payload)
		}
	}
}

func TestMultipleSubscribersReceiveIndependently(t *testing.T) {
	b := NewBus(4)
	s1 := b.Subscribe(MuteChanged)
	s2 := b.Subscribe(MuteChanged)
	defer b.Unsubscribe(s1)
	defer b.Unsubscribe(s2)

	b.Publish(MuteChanged, "r1", true)

	for _, s := range []*Subscription{s1, s2} {
		select {
		case evt := <-s.C:
			if evt.Payload != true {
				t.Fatalf("unexpected event: %+v", evt)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}
