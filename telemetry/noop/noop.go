// Package noop provides telemetry implementations that discard everything.
// Used by tests and by components run without an explicit telemetry backend.
package noop

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/geniusboywonder/bmad-core/telemetry"
)

type (
	// Logger discards all log messages.
	Logger struct{}

	// Metrics discards all metrics.
	Metrics struct{}

	// Tracer creates no-op spans.
	Tracer struct{}

	span struct{}
)

// NewLogger constructs a telemetry.Logger that discards all log messages.
func NewLogger() telemetry.Logger { return Logger{} }

// NewMetrics constructs a telemetry.Metrics that discards all metrics.
func NewMetrics() telemetry.Metrics { return Metrics{} }

// NewTracer constructs a telemetry.Tracer that creates no-op spans.
func NewTracer() telemetry.Tracer { return Tracer{} }

// Debug discards the log message.
func (Logger) Debug(context.Context, string, ...any) {}

// Info discards the log message.
func (Logger) Info(context.Context, string, ...any) {}

// Warn discards the log message.
func (Logger) Warn(context.Context, string, ...any) {}

// Error discards the log message.
func (Logger) Error(context.Context, string, ...any) {}

// IncCounter discards the counter metric.
func (Metrics) IncCounter(string, float64, ...string) {}

// RecordTimer discards the timer metric.
func (Metrics) RecordTimer(string, time.Duration, ...string) {}

// RecordGauge discards the gauge metric.
func (Metrics) RecordGauge(string, float64, ...string) {}

// Start returns a no-op span without modifying the context.
func (Tracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, telemetry.Span) {
	return ctx, span{}
}

// End is a no-op.
func (span) End(...trace.SpanEndOption) {}

// AddEvent is a no-op.
func (span) AddEvent(string, ...any) {}

// SetStatus is a no-op.
func (span) SetStatus(codes.Code, string) {}

// RecordError is a no-op.
func (span) RecordError(error, ...trace.EventOption) {}
