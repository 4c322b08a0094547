// Package bus is the in-process notification fan-out: named events published
// by the trade engine and the alert monitor, consumed by the event-stream
// endpoint. Events carry no payload; subscribers re-fetch state on receipt.
package bus

import (
	"sync"
)

// Event names published across the engine.
const (
	EventCashUpdated     = "cashUpdated"
	EventPositionUpdated = "positionUpdated"
	EventOrdersUpdated   = "ordersUpdated"
	EventAlertsUpdated   = "alertsUpdated"

	// EventLagged is delivered to a subscriber whose buffer overflowed.
	// The events it missed are gone; it should re-fetch everything.
	EventLagged = "lagged"
)

const defaultBuffer = 16

// Bus is a bounded broadcast channel. Publish never blocks: a subscriber
// that falls behind has its backlog collapsed into a single EventLagged
// delivery instead of stalling the publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

// Subscriber receives published events until Close is called.
type Subscriber struct {
	bus    *Bus
	ch     chan string
	lagged bool
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber with a bounded buffer.
func (b *Bus) Subscribe() *Subscriber {
	sub := &Subscriber{
		bus: b,
		ch:  make(chan string, defaultBuffer),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish broadcasts an event name to every subscriber. Slow subscribers are
// never allowed to block the caller: on overflow the oldest buffered event is
// dropped and replaced with a single EventLagged marker, and further events
// are discarded until the subscriber catches up.
func (b *Bus) Publish(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		if sub.lagged {
			// Still behind: deliver nothing until a send fits again.
			select {
			case sub.ch <- event:
				sub.lagged = false
			default:
			}
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Overflow: sacrifice the oldest pending event for the marker.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- EventLagged:
			default:
			}
			sub.lagged = true
		}
	}
}

// Events is the channel the subscriber reads from. It is closed by Close.
func (s *Subscriber) Events() <-chan string { return s.ch }

// Close unregisters the subscriber and closes its channel.
func (s *Subscriber) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	delete(s.bus.subs, s)
	close(s.ch)
}

// Len returns the number of live subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
