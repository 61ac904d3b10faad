// Package events provides a publish-subscribe bus for sound card state
// changes. The resource manager publishes; the API and tests subscribe.
package events

import (
	"sync"

	"github.com/micro-nova/amplipi-pal/internal/models"
)

const subBufferSize = 8

// Bus fans card events out to subscribers without blocking the publisher.
// A subscriber that falls behind loses events, never the publisher's time.
// The last published event is replayed to every new subscriber.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]chan models.CardEvent
	last    models.CardEvent
	hasLast bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]chan models.CardEvent),
	}
}

// Subscribe registers id and returns its event channel. If an event was
// already published, it is queued on the channel straight away.
// Subscribing an id twice replaces (and closes) the earlier channel.
func (b *Bus) Subscribe(id string) <-chan models.CardEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[id]; ok {
		close(old)
	}
	ch := make(chan models.CardEvent, subBufferSize)
	if b.hasLast {
		ch <- b.last
	}
	b.subs[id] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish records ev as the latest event and offers it to every
// subscriber; full channels are skipped.
func (b *Bus) Publish(ev models.CardEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = ev
	b.hasLast = true
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Last returns the most recent event and whether one was published.
func (b *Bus) Last() (models.CardEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.hasLast
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
