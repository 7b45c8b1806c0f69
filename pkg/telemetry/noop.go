package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// noop satisfies Logger, Metrics, Tracer, and Span simultaneously by
// discarding every call. A single stateless type backs all four noop
// constructors since none of them need to carry anything.
type noop struct{}

// NewNoopLogger constructs a Logger that discards every log message.
func NewNoopLogger() Logger { return noop{} }

// NewNoopMetrics constructs a Metrics recorder that discards every metric.
func NewNoopMetrics() Metrics { return noop{} }

// NewNoopTracer constructs a Tracer that creates only no-op spans.
func NewNoopTracer() Tracer { return noop{} }

func (noop) Debug(context.Context, string, ...any) {}
func (noop) Info(context.Context, string, ...any)  {}
func (noop) Warn(context.Context, string, ...any)  {}
func (noop) Error(context.Context, string, ...any) {}

func (noop) IncCounter(string, float64, ...string)        {}
func (noop) RecordTimer(string, time.Duration, ...string) {}
func (noop) RecordGauge(string, float64, ...string)       {}

func (noop) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, noop{}
}
func (noop) Span(context.Context) Span { return noop{} }

func (noop) End(...trace.SpanEndOption)              {}
func (noop) AddEvent(string, ...any)                 {}
func (noop) SetStatus(codes.Code, string)            {}
func (noop) RecordError(error, ...trace.EventOption) {}
