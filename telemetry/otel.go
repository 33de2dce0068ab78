package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type (
	// OTelMetrics wraps an OpenTelemetry Meter for runtime instrumentation.
	OTelMetrics struct {
		meter metric.Meter
	}

	// OTelTracer wraps an OpenTelemetry Tracer for runtime spans.
	OTelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// instrumentationName identifies this module's meter/tracer to whatever
// exporter the host process has configured via otel.Set{Meter,Tracer}Provider.
const instrumentationName = "github.com/metricloop/agentrt"

// NewOTelMetrics constructs a Metrics recorder backed by the global OTEL
// MeterProvider. Configure the provider (OTLP, Prometheus, stdout) before
// constructing an Agent.
func NewOTelMetrics() Metrics {
	return &OTelMetrics{meter: otel.Meter(instrumentationName)}
}

// NewOTelTracer constructs a Tracer backed by the global OTEL TracerProvider.
func NewOTelTracer() Tracer {
	return &OTelTracer{tracer: otel.Tracer(instrumentationName)}
}

// IncCounter increments a counter metric by value, tagged with the given
// key/value pairs.
func (m *OTelMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordTimer records a duration as a histogram observation in seconds.
func (m *OTelMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	histogram, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	histogram.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordGauge records a point-in-time value. OTEL has no synchronous gauge
// instrument, so this records into a histogram suffixed "_gauge", mirroring
// how the teacher's telemetry binding works around the same limitation.
func (m *OTelMetrics) RecordGauge(name string, value float64, tags ...string) {
	histogram, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	histogram.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// Start begins a new span named name, returning the derived context and span
// handle.
func (t *OTelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &otelSpan{span: span}
}

// Span returns the span currently active in ctx, if any.
func (t *OTelTracer) Span(ctx context.Context) Span {
	return &otelSpan{span: trace.SpanFromContext(ctx)}
}

func (s *otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s *otelSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvToAttrs(attrs)...))
}

func (s *otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

// tagsToAttrs converts tag strings (k1, v1, k2, v2, ...) into OTEL
// attributes. A trailing unpaired key is given an empty string value.
func tagsToAttrs(tags []string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(tags); i += 2 {
		k := tags[i]
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// kvToAttrs converts variadic key/value pairs (k1, v1, k2, v2, ...) into
// OTEL attributes for span events, stringifying values.
func kvToAttrs(keyvals []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		attrs = append(attrs, attribute.String(k, toString(v)))
	}
	return attrs
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
