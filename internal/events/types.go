// internal/events/types.go
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event.
type EventType string

const (
	// Position lifecycle events
	PositionOpened EventType = "position.opened"
	PositionClosed EventType = "position.closed"

	// Execution failures
	EntryFailed EventType = "entry.failed"
	ExitFailed  EventType = "exit.failed"

	// Endpoint health
	EndpointBlacklisted   EventType = "endpoint.blacklisted"
	EndpointPoolExhausted EventType = "endpoint.pool_exhausted"

	// Engine control
	EngineStarted EventType = "engine.started"
	EngineStopped EventType = "engine.stopped"
)

// AllTypes lists every event type the engine emits.
var AllTypes = []EventType{
	PositionOpened,
	PositionClosed,
	EntryFailed,
	ExitFailed,
	EndpointBlacklisted,
	EndpointPoolExhausted,
	EngineStarted,
	EngineStopped,
}

// Side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	EventID() string
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	ID        string    `json:"id"`
	EventType EventType `json:"type"`
	EventTime time.Time `json:"time"`
}

// NewBase stamps a new event header.
func NewBase(t EventType, at time.Time) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		EventType: t,
		EventTime: at,
	}
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// EventID returns the unique event id.
func (e BaseEvent) EventID() string {
	return e.ID
}

// TradeEvent is emitted when a position is opened or closed.
type TradeEvent struct {
	BaseEvent
	Asset  string  `json:"asset"`
	Symbol string  `json:"symbol,omitempty"`
	Side   Side    `json:"side"`
	Size   float64 `json:"size"`
	Price  float64 `json:"price"`
	TxRef  string  `json:"tx_ref"`
	Reason string  `json:"reason,omitempty"`
	// PnL is set on close only, in SOL.
	PnL float64 `json:"pnl,omitempty"`
}

// ExecutionFailedEvent is emitted when an entry or exit attempt fails.
type ExecutionFailedEvent struct {
	BaseEvent
	Asset  string  `json:"asset"`
	Side   Side    `json:"side"`
	Size   float64 `json:"size"`
	TxRef  string  `json:"tx_ref,omitempty"`
	Reason string  `json:"reason,omitempty"`
	Error  string  `json:"error"`
}

// EndpointBlacklistedEvent is emitted when an endpoint crosses the failure threshold.
type EndpointBlacklistedEvent struct {
	BaseEvent
	Pool     string    `json:"pool"`
	URL      string    `json:"url"`
	Failures int       `json:"failures"`
	Until    time.Time `json:"until"`
}

// PoolExhaustedEvent is emitted after sustained retry exhaustion.
type PoolExhaustedEvent struct {
	BaseEvent
	Consecutive int    `json:"consecutive"`
	LastError   string `json:"last_error"`
}

// EngineStateEvent is emitted on start and stop.
type EngineStateEvent struct {
	BaseEvent
	OpenPositions int `json:"open_positions"`
}
