package discovery

import (
	"sync"
	"time"

	"equitable/internal/metrics"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber
// whose buffer stays full longer than the bus's slow threshold is
// dropped. Channels are allocated one slot larger so the drop reason
// still fits after the buffer fills.
const subscriberBuffer = 64

// Subscriber receives a job's events. Its channel is closed when the
// job reaches a terminal state or the subscriber is dropped.
type Subscriber struct {
	ch        chan Event
	slowSince time.Time
}

// C is the subscriber's event channel.
func (s *Subscriber) C() <-chan Event { return s.ch }

// Bus fans a job's events out to its stream subscribers. Publishing
// never blocks on a slow consumer.
type Bus struct {
	mu        sync.Mutex
	subs      map[*Subscriber]bool
	closed    bool
	slowAfter time.Duration
}

func NewBus(slowAfter time.Duration) *Bus {
	if slowAfter <= 0 {
		slowAfter = 5 * time.Second
	}
	return &Bus{
		subs:      make(map[*Subscriber]bool),
		slowAfter: slowAfter,
	}
}

// Subscribe registers a new subscriber. On a closed bus the returned
// subscriber's channel is already closed.
func (b *Bus) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan Event, subscriberBuffer+1)}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = true
	return sub
}

// SubscribeWith registers a new subscriber whose channel is seeded
// with the given event ahead of any later publishes. On a closed bus
// the seed is dropped and the channel is already closed.
func (b *Bus) SubscribeWith(ev Event) *Subscriber {
	sub := &Subscriber{ch: make(chan Event, subscriberBuffer+1)}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.ch)
		return sub
	}
	sub.ch <- ev
	b.subs[sub] = true
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[sub] {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish delivers the event to every subscriber that can take it. A
// subscriber with a full buffer is given slowAfter to drain; after
// that it receives a final error event in its reserved slot and its
// channel is closed.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	now := time.Now()
	for sub := range b.subs {
		if len(sub.ch) < subscriberBuffer {
			sub.ch <- ev
			sub.slowSince = time.Time{}
			continue
		}
		if sub.slowSince.IsZero() {
			sub.slowSince = now
			continue
		}
		if now.Sub(sub.slowSince) >= b.slowAfter {
			delete(b.subs, sub)
			sub.ch <- Event{Type: EventError, JobID: ev.JobID, Time: now.UTC(),
				Data: ErrorData{Message: "subscriber too slow, closing stream"}}
			close(sub.ch)
			metrics.RecordSubscriberDropped()
		}
	}
}

// Close closes every subscriber channel. Further publishes are no-ops
// and further subscribes get closed channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}
