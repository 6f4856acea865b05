// Package tracing wires OpenTelemetry spans to an OTLP/HTTP collector.
package tracing

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"idm-connector/internal/config"
)

const instrumentation = "idm-connector"

var traceProvider *sdktrace.TracerProvider

// Tracer returns the connector tracer. Before Init, or when tracing is
// disabled, spans go to the global no-op provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentation)
}

// Init installs a batching OTLP exporter as the global tracer provider.
func Init(ctx context.Context, cfg *config.TracingConfig, logger *logrus.Logger) error {
	if !cfg.Enabled {
		return nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
	)

	traceProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(traceProvider)

	logger.Infof("OpenTelemetry tracing initialized (endpoint %s)", cfg.Endpoint)
	return nil
}

// Shutdown flushes pending spans.
func Shutdown(ctx context.Context, logger *logrus.Logger) {
	if traceProvider == nil {
		return
	}
	if err := traceProvider.Shutdown(ctx); err != nil {
		logger.Errorf("Error shutting down tracer: %v", err)
		return
	}
	logger.Info("Tracer shutdown complete")
}
