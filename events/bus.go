// Package events carries session lifecycle notifications to interested
// collaborators (UI layers, automation). Delivery is best-effort: a
// subscriber that stops draining its channel loses events rather than
// blocking the publisher.
package events

import (
	"sync"
	"time"

	"github.com/tandemhq/tandem-core/logger"
)

// Type identifies a lifecycle event.
type Type string

const (
	SessionCreated       Type = "session_created"
	SessionClosed        Type = "session_closed"
	SessionRenamed       Type = "session_renamed"
	SessionResumed       Type = "session_resumed"
	SessionRestarted     Type = "session_restarted"
	SessionConfigUpdated Type = "session_config_updated"
)

// Event is one lifecycle notification.
type Event struct {
	Type      Type
	SessionID string
	Name      string
	Timestamp time.Time
}

// subscriberBuffer is the channel depth per subscriber. Slow subscribers
// drop events past this depth.
const subscriberBuffer = 64

// Bus fans lifecycle events out to subscribers. A subscriber gets either the
// global feed or one session's feed. All methods are safe for concurrent use.
type Bus struct {
	mu      sync.RWMutex
	global  map[chan Event]struct{}
	session map[string]map[chan Event]struct{}
	closed  bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		global:  make(map[chan Event]struct{}),
		session: make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe returns a channel receiving all events. The caller must drain it
// or accept drops, and must Unsubscribe when done.
func (b *Bus) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.global[ch] = struct{}{}
	return ch
}

// SubscribeSession returns a channel receiving only the given session's
// events.
func (b *Bus) SubscribeSession(sessionID string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	subs, ok := b.session[sessionID]
	if !ok {
		subs = make(map[chan Event]struct{})
		b.session[sessionID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe or
// SubscribeSession. Unknown channels are ignored.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.global[ch]; ok {
		delete(b.global, ch)
		close(ch)
		return
	}
	for sessionID, subs := range b.session {
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(b.session, sessionID)
			}
			return
		}
	}
}

// Publish delivers an event to global subscribers and the session's
// subscribers. Publish never blocks; a full subscriber channel drops the
// event with a debug log.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for ch := range b.global {
		b.send(ch, evt)
	}
	for ch := range b.session[evt.SessionID] {
		b.send(ch, evt)
	}
}

func (b *Bus) send(ch chan Event, evt Event) {
	select {
	case ch <- evt:
	default:
		logger.WithComponent("events").Debug("dropping event for slow subscriber",
			"type", string(evt.Type), "sessionID", evt.SessionID)
	}
}

// Close shuts the bus down. All subscriber channels are closed and further
// publishes are dropped. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.global {
		close(ch)
	}
	b.global = make(map[chan Event]struct{})
	for _, subs := range b.session {
		for ch := range subs {
			close(ch)
		}
	}
	b.session = make(map[string]map[chan Event]struct{})
}
