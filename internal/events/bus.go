// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrBusClosed  = errors.New("event bus is shutting down")
	ErrBufferFull = errors.New("event channel full")
)

// Bus is an in-memory event bus. Publish never blocks the caller; handlers
// run on the bus goroutines.
type Bus struct {
	mu         sync.RWMutex
	handlers   map[EventType]map[string]Handler
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	eventChan  chan Event
	bufferSize int

	dropped uint64
}

// Stats is a point-in-time view of the bus.
type Stats struct {
	BufferSize      int            `json:"buffer_size"`
	PendingEvents   int            `json:"pending_events"`
	Dropped         uint64         `json:"dropped"`
	HandlersPerType map[string]int `json:"handlers_per_type"`
}

// NewBus creates a new event bus.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		handlers:   make(map[EventType]map[string]Handler),
		logger:     logger.Named("event_bus"),
		ctx:        ctx,
		cancel:     cancel,
		eventChan:  make(chan Event, bufferSize),
		bufferSize: bufferSize,
	}

	bus.wg.Add(1)
	go bus.processEvents()

	return bus
}

// Subscribe registers a handler for a specific event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) Subscription {
	return b.subscribe(handler, eventType)
}

// SubscribeFunc is a convenience method for subscribing with a function.
func (b *Bus) SubscribeFunc(eventType EventType, fn func(context.Context, Event) error) Subscription {
	return b.Subscribe(eventType, HandlerFunc(fn))
}

// SubscribeAll registers one handler for every engine event type. Used by sinks.
func (b *Bus) SubscribeAll(handler Handler) Subscription {
	return b.subscribe(handler, AllTypes...)
}

func (b *Bus) subscribe(handler Handler, types ...EventType) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	for _, eventType := range types {
		if b.handlers[eventType] == nil {
			b.handlers[eventType] = make(map[string]Handler)
		}
		b.handlers[eventType][id] = handler
	}

	b.logger.Debug("Handler subscribed",
		zap.Int("event_types", len(types)),
		zap.String("subscription_id", id))

	return &subscription{
		id:       id,
		eventBus: b,
		types:    types,
	}
}

// Publish sends an event to all registered handlers asynchronously.
func (b *Bus) Publish(event Event) error {
	select {
	case <-b.ctx.Done():
		return ErrBusClosed
	default:
	}

	select {
	case b.eventChan <- event:
		return nil
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		b.logger.Warn("Event channel full, dropping event",
			zap.String("event_type", string(event.Type())))
		return ErrBufferFull
	}
}

// PublishSync sends an event to all registered handlers synchronously.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := b.handlers[event.Type()]
	handlersCopy := make(map[string]Handler, len(handlers))
	for id, h := range handlers {
		handlersCopy[id] = h
	}
	b.mu.RUnlock()

	var errs []error
	for id, handler := range handlersCopy {
		if err := handler.Handle(ctx, event); err != nil {
			b.logger.Error("Handler error",
				zap.String("event_type", string(event.Type())),
				zap.String("handler_id", id),
				zap.Error(err))
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("handlers failed: %w", errors.Join(errs...))
	}
	return nil
}

// processEvents delivers events in publish order. Handlers are expected to be quick.
func (b *Bus) processEvents() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			for {
				select {
				case event := <-b.eventChan:
					_ = b.PublishSync(context.Background(), event)
				default:
					return
				}
			}
		case event := <-b.eventChan:
			if err := b.PublishSync(b.ctx, event); err != nil {
				b.logger.Error("Failed to process event",
					zap.String("event_type", string(event.Type())),
					zap.Error(err))
			}
		}
	}
}

func (b *Bus) unsubscribe(id string, eventType EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.handlers[eventType]; ok {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(b.handlers, eventType)
		}
	}
}

// Shutdown drains pending events and stops the bus.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.logger.Info("Shutting down event bus")
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("Event bus shutdown complete")
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus shutdown timeout")
		return ctx.Err()
	}
}

// Stats returns statistics about the event bus.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	counts := make(map[string]int, len(b.handlers))
	for eventType, handlers := range b.handlers {
		counts[string(eventType)] = len(handlers)
	}
	return Stats{
		BufferSize:      b.bufferSize,
		PendingEvents:   len(b.eventChan),
		Dropped:         b.dropped,
		HandlersPerType: counts,
	}
}
