// internal/events/handler.go
package events

import (
	"context"
)

// Handler processes events of a specific type.
type Handler interface {
	// Handle processes an event. Should not block.
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc is an adapter to allow the use of ordinary functions as event handlers.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f(ctx, event).
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Publisher is the write side of the bus. Components that only emit events
// depend on this instead of *Bus.
type Publisher interface {
	Publish(event Event) error
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) error { return nil }

// Subscription represents a subscription to events.
type Subscription interface {
	// Unsubscribe removes the subscription.
	Unsubscribe()
}

type subscription struct {
	id       string
	eventBus *Bus
	types    []EventType
}

// Unsubscribe removes this subscription from the event bus.
func (s *subscription) Unsubscribe() {
	for _, typ := range s.types {
		s.eventBus.unsubscribe(s.id, typ)
	}
}
