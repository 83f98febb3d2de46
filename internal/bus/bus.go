// Package bus is the in-process event bus between the event store and
// downstream fan-out consumers. Events are published after their
// transaction commits; delivery to live viewers is best effort.
package bus

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"tileboard/internal/model"
)

const subscriberBuffer = 100

// Bus fans published stroke events out to subscribers. Safe for
// concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// Subscription receives events on C until Close.
type Subscription struct {
	C   chan model.StrokeEvent
	bus *Bus
}

func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new consumer.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{C: make(chan model.StrokeEvent, subscriberBuffer), bus: b}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	if _, ok := s.bus.subs[s]; ok {
		delete(s.bus.subs, s)
		close(s.C)
	}
	s.bus.mu.Unlock()
}

// Publish delivers the event to every subscriber. A subscriber that
// cannot keep up loses the event; the room log stays authoritative and
// a reconnecting client resyncs from it.
func (b *Bus) Publish(event model.StrokeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.C <- event:
		default:
			log.WithFields(log.Fields{"type": event.Type, "room": event.RoomID}).
				Warn("[Bus] slow subscriber, event dropped")
		}
	}
}
