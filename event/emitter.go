package event

import "context"

// Emitter receives Events from the Bus and delivers them to a concrete
// backend (stdout logging, OpenTelemetry spans, an in-memory buffer for
// tests). Implementations must not block the caller for long and must not
// panic; a misbehaving emitter should degrade observability, not the flow
// it is observing.
type Emitter interface {
	// Emit delivers a single event.
	Emit(e Event)

	// EmitBatch delivers several events at once, preserving order.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until any buffered events have been delivered.
	Flush(ctx context.Context) error
}
