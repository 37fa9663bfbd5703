package events

import (
	"testing"
	"time"
)

func recvEvent(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestGlobalSubscriberReceivesAll(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch := b.Subscribe()
	b.Publish(Event{Type: SessionCreated, SessionID: "a"})
	b.Publish(Event{Type: SessionClosed, SessionID: "b"})

	first := recvEvent(t, ch)
	if first.Type != SessionCreated || first.SessionID != "a" {
		t.Errorf("first event = %+v", first)
	}
	second := recvEvent(t, ch)
	if second.Type != SessionClosed || second.SessionID != "b" {
		t.Errorf("second event = %+v", second)
	}
	if first.Timestamp.IsZero() {
		t.Error("expected publish to stamp the event")
	}
}

func TestSessionSubscriberIsFiltered(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch := b.SubscribeSession("a")
	b.Publish(Event{Type: SessionCreated, SessionID: "b"})
	b.Publish(Event{Type: SessionRenamed, SessionID: "a", Name: "renamed"})

	evt := recvEvent(t, ch)
	if evt.SessionID != "a" || evt.Type != SessionRenamed {
		t.Errorf("session subscriber got %+v", evt)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected extra event %+v", extra)
	default:
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch := b.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+10; i++ {
			b.Publish(Event{Type: SessionCreated, SessionID: "a"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if len(ch) != subscriberBuffer {
		t.Errorf("buffered = %d, want %d", len(ch), subscriberBuffer)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch := b.Subscribe()
	b.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("expected closed channel after Unsubscribe")
	}

	// Publishing after unsubscribe must not panic
	b.Publish(Event{Type: SessionCreated, SessionID: "a"})

	// Unknown channels are ignored
	b.Unsubscribe(make(chan Event))
}

func TestCloseIsIdempotent(t *testing.T) {
	b := NewBus()
	global := b.Subscribe()
	scoped := b.SubscribeSession("a")

	b.Close()
	b.Close()

	if _, open := <-global; open {
		t.Error("global channel open after Close")
	}
	if _, open := <-scoped; open {
		t.Error("session channel open after Close")
	}

	// Subscribing after close yields an already-closed channel
	late := b.Subscribe()
	if _, open := <-late; open {
		t.Error("expected closed channel from post-Close Subscribe")
	}

	b.Publish(Event{Type: SessionCreated, SessionID: "a"})
}
