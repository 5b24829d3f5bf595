// Package telemetry defines the logging, metrics and tracing surface used by
// the render pipeline. Components accept these interfaces through functional
// options and default to the no-op implementations, so tests never need a
// configured OpenTelemetry provider.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured log lines. keyvals are alternating key/value
	// pairs; non-string keys are ignored.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters and timers. tags are alternating key/value
	// pairs used as metric dimensions.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
	}

	// Tracer starts spans around pipeline work.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span is an in-flight tracing span.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)

// Metric names recorded by the render pipeline.
const (
	// MetricStatusRegression counts rejected backward status transitions.
	MetricStatusRegression = "callview.status.regression"
	// MetricValidationFailure counts calls failed by argument validation.
	MetricValidationFailure = "callview.validation.failure"
	// MetricUnknownTool counts dispatches for tools with no registration.
	MetricUnknownTool = "callview.dispatch.unknown_tool"
	// MetricRendererPanic counts renderers that panicked during dispatch.
	MetricRendererPanic = "callview.dispatch.renderer_panic"
	// MetricEventDuration times the handling of one inbound event.
	MetricEventDuration = "callview.session.event_duration"
)
