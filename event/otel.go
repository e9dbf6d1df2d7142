package event

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each Event into an OpenTelemetry span. Spans are
// point-in-time: they are started and ended immediately rather than left
// open, since an Event marks a lifecycle transition, not a duration.
type OTelEmitter struct {
	tracer trace.Tracer
}

func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Emit(e Event) {
	o.emitOne(context.Background(), e)
}

func (o *OTelEmitter) emitOne(ctx context.Context, e Event) {
	_, span := o.tracer.Start(ctx, string(e.Kind))
	defer span.End()

	span.SetAttributes(
		attribute.String("flow.id", e.FlowID),
		attribute.String("flow.name", e.FlowName),
		attribute.String("flow.priority", priorityLabel(e.Priority)),
	)
	if e.MethodName != "" {
		span.SetAttributes(attribute.String("flow.method", e.MethodName))
	}
	for k, v := range e.Meta {
		span.SetAttributes(attribute.String("flow.meta."+k, fmt.Sprintf("%v", v)))
	}
	if errMsg, ok := e.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
}

func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, e := range events {
		o.emitOne(ctx, e)
	}
	return nil
}

// Flush is a no-op here; callers that need guaranteed export should call
// ForceFlush on their TracerProvider directly during shutdown.
func (o *OTelEmitter) Flush(context.Context) error { return nil }

func priorityLabel(p Priority) string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}
