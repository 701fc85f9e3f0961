// Package events fans domain and call-lifecycle events out to live
// subscribers such as dashboard websockets.
package events

import (
	"log/slog"
	"sync"
)

const DefaultQueueSize = 100

// Subscription is one subscriber's bounded queue. C is closed when the
// subscription is removed (unsubscribe, overflow or shutdown).
type Subscription struct {
	C  <-chan Event
	ch chan Event
}

// Hooks lets callers observe broadcaster activity (metrics).
type Hooks struct {
	OnSubscribersChanged func(n int)
	OnSubscriberDropped  func()
}

// Broadcaster is an in-process pub/sub. The subscriber set is only read or
// mutated while holding mu, and Publish never blocks on a subscriber.
type Broadcaster struct {
	queueSize int
	log       *slog.Logger
	hooks     Hooks

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NewBroadcaster(queueSize int, log *slog.Logger, hooks Hooks) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		queueSize: queueSize,
		log:       log,
		hooks:     hooks,
		subs:      make(map[*Subscription]struct{}),
	}
}

func (b *Broadcaster) Subscribe() *Subscription {
	ch := make(chan Event, b.queueSize)
	sub := &Subscription{C: ch, ch: ch}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	n := len(b.subs)
	b.mu.Unlock()

	b.log.Info("subscriber added", "subscribers", n)
	b.notifyCount(n)
	return sub
}

// Unsubscribe removes sub. Calling it again is a no-op.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	_, ok := b.subs[sub]
	if ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
	n := len(b.subs)
	b.mu.Unlock()

	if ok {
		b.log.Info("subscriber removed", "subscribers", n)
		b.notifyCount(n)
	}
}

// Publish delivers e to every live queue. A full queue marks its subscriber
// dead: it is removed and its channel closed.
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	dropped := 0
	for sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			delete(b.subs, sub)
			close(sub.ch)
			dropped++
		}
	}
	n := len(b.subs)
	b.mu.Unlock()

	if dropped > 0 {
		b.log.Warn("subscriber queue full, removed", "dropped", dropped, "subscribers", n)
		if b.hooks.OnSubscriberDropped != nil {
			for i := 0; i < dropped; i++ {
				b.hooks.OnSubscriberDropped()
			}
		}
		b.notifyCount(n)
	}
	b.log.Debug("event published", "type", e.Type, "subscribers", n)
}

// Shutdown sends the shutdown sentinel to every queue that has room, then
// closes all queues and clears the set.
func (b *Broadcaster) Shutdown() {
	sentinel := Shutdown()

	b.mu.Lock()
	for sub := range b.subs {
		select {
		case sub.ch <- sentinel:
		default:
		}
		close(sub.ch)
	}
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	b.log.Info("event broadcaster shut down")
	b.notifyCount(0)
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) notifyCount(n int) {
	if b.hooks.OnSubscribersChanged != nil {
		b.hooks.OnSubscribersChanged(n)
	}
}
