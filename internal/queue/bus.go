package queue

import (
	"sync"
	"time"

	"github.com/ericjohney/photobrain-sub000/internal/domain"
)

const subscriberBuffer = 64

type subscriber struct {
	ch     chan domain.JobEvent
	queues map[string]bool // empty means all queues
}

// Bus broadcasts job lifecycle events to any number of subscribers.
// Publishing never blocks: a subscriber that falls behind loses its
// oldest buffered event, not the publisher's time.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a listener for the given queues (none means all).
// The returned cancel func must be called exactly once; it unregisters
// the subscriber and closes the channel.
func (b *Bus) Subscribe(queues ...string) (<-chan domain.JobEvent, func()) {
	sub := &subscriber{
		ch:     make(chan domain.JobEvent, subscriberBuffer),
		queues: make(map[string]bool, len(queues)),
	}
	for _, q := range queues {
		sub.queues[q] = true
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers an event to every matching subscriber.
func (b *Bus) Publish(ev domain.JobEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if len(sub.queues) > 0 && !sub.queues[ev.Queue] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Full buffer: drop the oldest event to make room.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

// SubscriberCount reports the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
