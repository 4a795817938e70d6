// Package bus is a small in-process pub/sub fabric. Handlers publish state
// changes and push consumers subscribe by kind prefix, so new consumers attach
// without touching the publishers.
package bus

import (
	"strings"
	"sync"
)

const defaultBuffer = 64

type subscriber struct {
	prefix string
	ch     chan Event
}

type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers interest in every event whose kind starts with prefix.
// An empty prefix matches everything. The returned func cancels the
// subscription and closes the channel.
func (b *Bus) Subscribe(prefix string) (<-chan Event, func()) {
	ch := make(chan Event, defaultBuffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			// Closed under the write lock so no concurrent Publish can
			// send on a closed channel.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish fans the event out to matching subscribers. Delivery is best effort:
// a subscriber with a full buffer misses the event rather than blocking the
// publisher.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}
