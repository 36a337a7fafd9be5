package sink

import (
	"context"
	"log/slog"

	"chat-core/domain/event"
)

// ConnectionSink buffers events for one remote connection.
// Consume is called by the bus; the transport's write loop drains Events.
// A full buffer drops the event rather than stalling the fan-out.
type ConnectionSink struct {
	Events chan event.Event
	log    *slog.Logger
}

func NewConnectionSink(log *slog.Logger, bufferSize int) *ConnectionSink {
	return &ConnectionSink{Events: make(chan event.Event, bufferSize), log: log}
}

func (s *ConnectionSink) Consume(ctx context.Context, e event.Event) error {
	select {
	case s.Events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		s.log.Warn("Connection buffer full, dropping event", "topic", e.Topic())
		return nil
	}
}
