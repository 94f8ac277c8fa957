package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"
)

type otelTracer struct {
	tp       *sdktrace.TracerProvider
	tracer   trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewJaeger builds a Tracer that exports spans to a Jaeger agent over UDP at
// agentHost:agentPort. Callers should fall back to NewNoop if this
// returns an error, rather than fail proxy startup over an unreachable
// trace collector.
func NewJaeger(agentHost, agentPort, serviceName string) (Tracer, error) {
	exp, err := jaeger.New(jaeger.WithAgentEndpoint(
		jaeger.WithAgentHost(agentHost),
		jaeger.WithAgentPort(agentPort),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: new jaeger exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)

	return &otelTracer{
		tp:         tp,
		tracer:     tp.Tracer("github.com/morpheus-med/mongoproxy"),
		propagator: propagation.TraceContext{},
	}, nil
}

func (t *otelTracer) StartSpan(ctx context.Context, operationName string, traceContext map[string]string) (context.Context, Span) {
	if len(traceContext) > 0 {
		ctx = t.propagator.Extract(ctx, propagation.MapCarrier(traceContext))
	}
	ctx, span := t.tracer.Start(ctx, operationName)
	return ctx, &otelSpan{span: span}
}

func (t *otelTracer) Shutdown(ctx context.Context) error {
	if err := t.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracing: shutdown: %w", err)
	}
	return nil
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) SetCommand(command, namespace string) {
	s.span.SetAttributes(
		attribute.String("db.command", command),
		attribute.String("db.namespace", namespace),
	)
}

func (s *otelSpan) SetError(code int32, message string) {
	s.span.SetAttributes(
		attribute.Int64("db.error_code", int64(code)),
		attribute.String("db.error_message", message),
	)
}

func (s *otelSpan) End() {
	s.span.End()
}
