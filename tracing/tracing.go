// Package tracing wraps OpenTelemetry tracing behind a small interface so
// the tracker can record spans whether or not a Jaeger collector is
// reachable. A noop implementation is used when tracing is disabled or
// initialization fails, so the data path never depends on the trace
// backend being up.
package tracing

import (
	"context"
)

// Span is the subset of span operations the tracker needs.
type Span interface {
	SetCommand(command, namespace string)
	SetError(code int32, message string)
	End()
}

// Tracer starts spans for in-flight requests and can carry propagated trace
// context extracted from a wire message.
type Tracer interface {
	// StartSpan starts a span for a new pending request. traceContext, when
	// non-nil, is the $trace propagation map extracted from the request.
	StartSpan(ctx context.Context, operationName string, traceContext map[string]string) (context.Context, Span)

	// Shutdown flushes and releases any exporter resources.
	Shutdown(ctx context.Context) error
}

type noopTracer struct{}

// NewNoop returns a Tracer whose spans do nothing, for when tracing is
// disabled or the configured collector could not be reached.
func NewNoop() Tracer { return noopTracer{} }

func (noopTracer) StartSpan(ctx context.Context, _ string, _ map[string]string) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (noopTracer) Shutdown(context.Context) error { return nil }

type noopSpan struct{}

func (noopSpan) SetCommand(string, string)  {}
func (noopSpan) SetError(int32, string)     {}
func (noopSpan) End()                       {}
