// Package events provides a publish/subscribe bus for operational
// observability. The dispatcher, session gate, and history recorder
// publish; the stats collector subscribes. The bus is nil-safe: calling
// Publish on a nil *Bus is a no-op, so components do not need guard
// checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceDispatch identifies events from the command dispatcher.
	SourceDispatch = "dispatch"
	// SourceSession identifies events from the WebSocket gate.
	SourceSession = "session"
	// SourceHistory identifies events from the history recorder.
	SourceHistory = "history"
)

// Kind constants describe the type of event within a source.
const (
	// KindDispatchDone signals a finished dispatch.
	// Data: api, action, user_id, ok, duration_ms.
	KindDispatchDone = "dispatch_done"

	// KindConnected signals an authenticated, bound connection.
	// Data: conn_id, user_id.
	KindConnected = "connected"
	// KindRejected signals a connection closed by the gate.
	// Data: conn_id, reason.
	KindRejected = "rejected"
	// KindDisconnected signals a closed connection.
	// Data: conn_id, user_id.
	KindDisconnected = "disconnected"

	// KindRecordDropped signals a history entry lost to a full queue or
	// a failed write.
	// Data: user_id, api, reason.
	KindRecordDropped = "record_dropped"
)

// Event represents a single operational event published by a component.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Slow subscribers miss
// events rather than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel handed to callers back to
	// the channel stored in subs, so Unsubscribe can close it.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers, stamping Timestamp when
// it is zero. Safe to call on a nil receiver.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Unknown
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
