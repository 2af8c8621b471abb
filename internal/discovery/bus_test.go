package discovery

import (
	"testing"
	"time"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus(time.Second)
	sub := bus.Subscribe()

	bus.Publish(Event{Type: EventProgress, JobID: "j1"})
	bus.Publish(Event{Type: EventComplete, JobID: "j1"})
	bus.Close()

	var got []Event
	for ev := range sub.C() {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != EventProgress || got[1].Type != EventComplete {
		t.Fatalf("unexpected event order: %v", got)
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(time.Second)
	sub := bus.Subscribe()
	bus.Unsubscribe(sub)

	if _, open := <-sub.C(); open {
		t.Fatal("expected channel closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(Event{Type: EventProgress})
}

func TestBusSubscribeAfterClose(t *testing.T) {
	bus := NewBus(time.Second)
	bus.Close()

	sub := bus.Subscribe()
	if _, open := <-sub.C(); open {
		t.Fatal("expected closed channel from a closed bus")
	}
}

func TestBusSubscribeWithSeedsChannel(t *testing.T) {
	bus := NewBus(time.Second)
	seed := Event{Type: EventJobStarted, JobID: "j1"}

	sub := bus.SubscribeWith(seed)
	bus.Publish(Event{Type: EventComplete, JobID: "j1"})
	bus.Close()

	var got []Event
	for ev := range sub.C() {
		got = append(got, ev)
	}
	if len(got) != 2 || got[0].Type != EventJobStarted || got[1].Type != EventComplete {
		t.Fatalf("expected seeded job_started then complete, got %v", got)
	}

	// On a closed bus the seed is dropped.
	late := bus.SubscribeWith(seed)
	if _, open := <-late.C(); open {
		t.Fatal("expected closed channel from a closed bus")
	}
}

func TestBusDropsSlowSubscriber(t *testing.T) {
	bus := NewBus(10 * time.Millisecond)
	slow := bus.Subscribe()
	fast := bus.Subscribe()

	// A well-behaved subscriber drains as events arrive.
	fastDone := make(chan int)
	go func() {
		n := 0
		for range fast.C() {
			n++
		}
		fastDone <- n
	}()

	// Fill the slow subscriber's buffer without draining it.
	for i := 0; i < subscriberBuffer+1; i++ {
		bus.Publish(Event{Type: EventProgress})
	}

	// Give the slow window time to elapse, then publish again to
	// trigger the drop.
	time.Sleep(20 * time.Millisecond)
	bus.Publish(Event{Type: EventProgress})

	// The slow subscriber drains its buffer, then a final error event
	// explaining the drop, then the channel closes.
	var drained []Event
	for ev := range slow.C() {
		drained = append(drained, ev)
	}
	if len(drained) != subscriberBuffer+1 {
		t.Fatalf("expected %d events before close, got %d", subscriberBuffer+1, len(drained))
	}
	last := drained[len(drained)-1]
	if last.Type != EventError {
		t.Fatalf("expected a final error event on drop, got %s", last.Type)
	}
	if msg := last.Data.(ErrorData).Message; msg == "" {
		t.Fatal("drop error event must carry a message")
	}

	// The fast subscriber keeps receiving until the bus closes.
	bus.Publish(Event{Type: EventComplete})
	bus.Close()

	select {
	case n := <-fastDone:
		if n < subscriberBuffer {
			t.Fatalf("fast subscriber received too few events: %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("fast subscriber never finished draining")
	}
}
