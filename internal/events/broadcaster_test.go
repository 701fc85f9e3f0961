package events

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublish_DeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster(4, quietLogger(), Hooks{})
	a := b.Subscribe()
	c := b.Subscribe()

	b.Publish(CallStarted("call-1", "+40700"))

	for _, sub := range []*Subscription{a, c} {
		select {
		case e := <-sub.C:
			if e.Type != TypeCallStarted || e.Data["call_id"] != "call-1" {
				t.Fatalf("unexpected event: %+v", e)
			}
		default:
			t.Fatalf("expected event to be queued")
		}
	}
}

func TestPublish_FullQueueIsDroppedWithoutBlocking(t *testing.T) {
	var dropped int
	b := NewBroadcaster(1, quietLogger(), Hooks{OnSubscriberDropped: func() { dropped++ }})
	slow := b.Subscribe()
	healthy := b.Subscribe()

	b.Publish(New(TypePong, nil))
	<-healthy.C // healthy drains, slow does not

	done := make(chan struct{})
	go func() {
		b.Publish(Error("x", "second"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}

	if got := b.SubscriberCount(); got != 1 {
		t.Fatalf("expected 1 subscriber left, got %d", got)
	}
	if dropped != 1 {
		t.Fatalf("expected drop hook once, got %d", dropped)
	}

	e := <-healthy.C
	if e.Type != TypeError {
		t.Fatalf("healthy subscriber missed event: %+v", e)
	}

	// slow keeps its one buffered event, then observes the close.
	<-slow.C
	if _, ok := <-slow.C; ok {
		t.Fatalf("expected slow subscriber channel to be closed")
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	b := NewBroadcaster(1, quietLogger(), Hooks{})
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)

	if b.SubscriberCount() != 0 {
		t.Fatalf("expected no subscribers")
	}
	if _, ok := <-sub.C; ok {
		t.Fatalf("expected closed channel")
	}
	b.Publish(Pong())
}

func TestShutdown_DeliversSentinelThenCloses(t *testing.T) {
	var counts []int
	b := NewBroadcaster(2, quietLogger(), Hooks{OnSubscribersChanged: func(n int) { counts = append(counts, n) }})
	sub := b.Subscribe()

	b.Shutdown()

	e, ok := <-sub.C
	if !ok || e.Type != TypeShutdown {
		t.Fatalf("expected shutdown sentinel, got %+v ok=%v", e, ok)
	}
	if _, ok := <-sub.C; ok {
		t.Fatalf("expected channel closed after sentinel")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected subscriber set cleared")
	}
	if counts[len(counts)-1] != 0 {
		t.Fatalf("expected final count 0, got %v", counts)
	}
	// Unsubscribing after shutdown must not double-close.
	b.Unsubscribe(sub)
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	b := NewBroadcaster(1000, quietLogger(), Hooks{})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := b.Subscribe()
			b.Unsubscribe(sub)
		}()
		go func() {
			defer wg.Done()
			b.Publish(Pong())
		}()
	}
	wg.Wait()
}

func TestTranscriptType(t *testing.T) {
	if Transcript("c", "hi", true, true).Type != TypeTranscriptUser {
		t.Fatalf("expected user transcript type")
	}
	if Transcript("c", "hi", false, false).Type != TypeTranscriptAgent {
		t.Fatalf("expected agent transcript type")
	}
}
