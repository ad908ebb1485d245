// internal/events/sink.go
package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// LogSink writes every event to the structured log.
func LogSink(logger *zap.Logger) Handler {
	logger = logger.Named("events")
	return HandlerFunc(func(_ context.Context, event Event) error {
		fields := []zap.Field{
			zap.String("event_id", event.EventID()),
			zap.Time("at", event.Timestamp()),
		}
		switch e := event.(type) {
		case *TradeEvent:
			fields = append(fields,
				zap.String("asset", e.Asset),
				zap.String("side", string(e.Side)),
				zap.Float64("size", e.Size),
				zap.Float64("price", e.Price),
				zap.String("tx", e.TxRef),
				zap.String("reason", e.Reason))
			if e.Side == SideSell {
				fields = append(fields, zap.Float64("pnl", e.PnL))
			}
		case *ExecutionFailedEvent:
			fields = append(fields,
				zap.String("asset", e.Asset),
				zap.String("side", string(e.Side)),
				zap.Float64("size", e.Size),
				zap.String("reason", e.Reason),
				zap.String("error", e.Error))
			logger.Warn(string(event.Type()), fields...)
			return nil
		case *EndpointBlacklistedEvent:
			fields = append(fields,
				zap.String("pool", e.Pool),
				zap.String("url", e.URL),
				zap.Int("failures", e.Failures),
				zap.Time("until", e.Until))
			logger.Warn(string(event.Type()), fields...)
			return nil
		case *PoolExhaustedEvent:
			fields = append(fields,
				zap.Int("consecutive", e.Consecutive),
				zap.String("last_error", e.LastError))
			logger.Error(string(event.Type()), fields...)
			return nil
		case *EngineStateEvent:
			fields = append(fields, zap.Int("open_positions", e.OpenPositions))
		}
		logger.Info(string(event.Type()), fields...)
		return nil
	})
}

// Recorder keeps the most recent events in memory. It is both a Handler
// (for the bus) and a Publisher (for direct use in tests).
type Recorder struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewRecorder keeps at most limit events; limit <= 0 keeps everything.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Handle(_ context.Context, event Event) error {
	r.record(event)
	return nil
}

func (r *Recorder) Publish(event Event) error {
	r.record(event)
	return nil
}

func (r *Recorder) record(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
}

// Events returns a copy of the recorded events, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType filters recorded events by type.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}
