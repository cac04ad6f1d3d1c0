// Package telemetry traces tool calls with OpenTelemetry. Spans are no-ops
// until InitProvider installs an exporter.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps OpenTelemetry tracing with tool-call helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include results in span attributes
}

// NewTracer creates a tracer on the global provider.
func NewTracer(name string, debug bool) *Tracer {
	return NewTracerFromProvider(otel.GetTracerProvider(), name, debug)
}

// NewTracerFromProvider creates a tracer on tp.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{tracer: tp.Tracer(name), debug: debug}
}

// ToolSpanOptions describes a finished tool call.
type ToolSpanOptions struct {
	TraceID string                 // log correlation id
	Args    map[string]interface{} // Always included
	Result  string                 // Only included if debug=true
	IsError bool
}

// StartToolSpan starts a server span for a tool call.
func (t *Tracer) StartToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "tool."+toolName, trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(attribute.String("tool.name", toolName))
	return ctx, span
}

// EndToolSpan ends a tool span with attributes. err is the failure
// reported to the caller, if any.
func (t *Tracer) EndToolSpan(span trace.Span, opts ToolSpanOptions, err error) {
	if opts.TraceID != "" {
		span.SetAttributes(attribute.String("devsupport.trace_id", opts.TraceID))
	}
	for k, v := range opts.Args {
		span.SetAttributes(attribute.String("tool.arg."+k, truncateAny(v, 500)))
	}
	if t.debug && opts.Result != "" {
		span.SetAttributes(attribute.String("tool.result", truncate(opts.Result, 4000)))
	}
	span.SetAttributes(attribute.Bool("tool.is_error", opts.IsError))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// InjectContext writes the trace context of ctx into carrier.
func InjectContext(ctx context.Context, carrier map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(carrier))
}

// ExtractContext returns ctx joined to the trace context in carrier.
func ExtractContext(ctx context.Context, carrier map[string]string) context.Context {
	if len(carrier) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(carrier))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

func truncateAny(v interface{}, n int) string {
	return truncate(fmt.Sprint(v), n)
}
