package events

import (
	"testing"
	"time"

	"github.com/goalvault/goalvault/internal/app/domain/deposit"
)

func TestPublishReachesSubscribers(t *testing.T) {
	hub := NewHub()

	ch1, cancel1 := hub.Subscribe("att-1")
	defer cancel1()
	ch2, cancel2 := hub.Subscribe("att-1")
	defer cancel2()
	other, cancelOther := hub.Subscribe("att-2")
	defer cancelOther()

	hub.Publish(deposit.Attempt{ID: "att-1", State: deposit.StateApproving})

	for i, ch := range []<-chan deposit.Attempt{ch1, ch2} {
		select {
		case att := <-ch:
			if att.State != deposit.StateApproving {
				t.Fatalf("subscriber %d: wrong snapshot %q", i, att.State)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received", i)
		}
	}

	select {
	case att := <-other:
		t.Fatalf("unrelated subscriber received %+v", att)
	default:
	}
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewHub()

	ch, cancel := hub.Subscribe("att-1")
	cancel()

	if _, open := <-ch; open {
		t.Fatalf("expected closed channel after cancel")
	}

	// Publishing after cancel must not panic or block.
	hub.Publish(deposit.Attempt{ID: "att-1"})
	cancel() // second cancel is a no-op
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()

	_, cancel := hub.Subscribe("att-1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// More publishes than the subscriber buffer holds.
		for i := 0; i < 100; i++ {
			hub.Publish(deposit.Attempt{ID: "att-1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publisher blocked on a slow subscriber")
	}
}
