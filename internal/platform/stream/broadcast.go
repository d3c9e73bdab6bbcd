// Package stream fans live telemetry events out to server-sent-event
// subscribers. Every subscriber owns a bounded queue; a subscriber that
// stops draining is closed and dropped so publishers never block on a
// stalled connection.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Event types carried on the stream.
const (
	EventVitals    = "vitals"
	EventAlert     = "alert"
	EventHeartbeat = "heartbeat"
)

// subscriberBuffer is the per-subscriber queue depth. A subscriber this
// far behind a live vitals feed is not worth waiting for.
const subscriberBuffer = 100

// Event is one stream frame: a named type and its JSON payload.
type Event struct {
	Type string
	Data json.RawMessage
}

// Subscriber receives events until its queue overflows or it is
// unsubscribed; either way the Events channel is closed.
type Subscriber struct {
	ch chan Event
}

// Events returns the subscriber's receive channel. It is closed when the
// subscription ends.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Broadcaster delivers every published event to every live subscriber.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new subscriber with an empty queue.
func (b *Broadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{
		ch: make(chan Event, subscriberBuffer),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// more than once.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish queues the event for every subscriber without blocking. A
// subscriber whose queue is full is evicted.
func (b *Broadcaster) Publish(event Event) {
	var evicted []*Subscriber

	b.mu.RLock()
	for sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			evicted = append(evicted, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range evicted {
		b.Unsubscribe(sub)
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every live subscription. Stream handlers observe the closed
// channel and return, which lets the HTTP server drain during shutdown.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// WriteFrame writes one SSE frame: "event: <type>" then "data: <json>".
func WriteFrame(w io.Writer, event Event) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, event.Data)
	return err
}
