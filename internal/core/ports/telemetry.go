package ports

import (
	"context"
	"io"
)

// Tracer is the entry point for creating spans. Spans are advisory progress
// signals around downloads and transaction steps; correctness never depends
// on them.
type Tracer interface {
	// Start creates a new span.
	Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)
	// EmitPlan signals that an ordered set of transaction steps is about
	// to execute.
	EmitPlan(ctx context.Context, stepNames []string)
}

// Span represents a unit of work.
type Span interface {
	io.Writer
	// End completes the span.
	End()
	// RecordError records an error for the span.
	RecordError(err error)
	// SetAttribute adds a key-value pair to the span.
	SetAttribute(key string, value any)
}

// SpanConfig holds configuration for a starting span.
type SpanConfig struct {
	// Total is the expected byte count for spans tracking a transfer,
	// zero when unknown.
	Total int64
}

// SpanOption is a functional option for configuring a span.
type SpanOption func(*SpanConfig)

// WithTotal sets the expected byte count of a transfer span.
func WithTotal(n int64) SpanOption {
	return func(c *SpanConfig) {
		c.Total = n
	}
}
