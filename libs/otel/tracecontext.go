package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContextStrings captures the W3C trace context of ctx as header
// values, suitable for persisting alongside an outbox row.
func TraceContextStrings(ctx context.Context) (traceparent, tracestate string) {
	mc := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, mc)
	return mc.Get("traceparent"), mc.Get("tracestate")
}

// ContextWithTraceContext restores a trace context captured earlier with
// TraceContextStrings, so spans emitted while publishing link back to the
// request that wrote the row.
func ContextWithTraceContext(ctx context.Context, traceparent, tracestate string) context.Context {
	if traceparent == "" {
		return ctx
	}
	mc := propagation.MapCarrier{"traceparent": traceparent}
	if tracestate != "" {
		mc["tracestate"] = tracestate
	}
	return otel.GetTextMapPropagator().Extract(ctx, mc)
}
