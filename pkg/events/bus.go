// Package events provides a bounded broadcast bus for fleet lifecycle
// events. Producers never block on slow consumers; a consumer that falls
// behind is told so and is expected to recover by re-reading a snapshot.
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrLagged indicates that the subscriber fell behind and events were
	// dropped. The subscriber should rebuild its view from a snapshot.
	ErrLagged = errors.New("events: subscriber lagged, events dropped")
	// ErrClosed indicates that the bus or subscription has been closed.
	ErrClosed = errors.New("events: closed")
)

// Event is a broadcastable event. Kind returns a stable wire identifier.
type Event interface {
	Kind() string
}

// Bus fans out events to any number of subscribers. Each subscriber owns a
// bounded buffer; publishing to a full buffer drops the event and marks the
// subscriber lagged.
type Bus struct {
	capacity int

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewBus creates a bus whose subscribers buffer up to capacity events.
func NewBus(capacity int) *Bus {
	if capacity < 1 {
		capacity = 1
	}
	return &Bus{
		capacity: capacity,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscriber. Only events published after the call
// are delivered.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		bus: b,
		ch:  make(chan Event, b.capacity),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers the event to every subscriber without blocking. Full
// subscribers have the event dropped and are marked lagged.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

// Close shuts down the bus and all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}

// Subscription is a single subscriber's view of the bus.
type Subscription struct {
	bus     *Bus
	ch      chan Event
	dropped atomic.Int64
	once    sync.Once
}

// Next returns the next event. If events were dropped since the last call it
// discards any stale buffered events and returns ErrLagged instead, exactly
// once per lag episode. Returns ErrClosed after Close.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	if s.dropped.Swap(0) > 0 {
		// The buffered events predate the drop; a snapshot supersedes them.
		for {
			select {
			case _, ok := <-s.ch:
				if !ok {
					return nil, ErrClosed
				}
			default:
				return nil, ErrLagged
			}
		}
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case e, ok := <-s.ch:
		if !ok {
			return nil, ErrClosed
		}
		return e, nil
	}
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if _, ok := s.bus.subs[s]; ok {
			delete(s.bus.subs, s)
			close(s.ch)
		}
	})
}
