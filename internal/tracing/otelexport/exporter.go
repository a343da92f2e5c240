// Package otelexport installs an OTLP trace pipeline for the console's
// outbound API calls.
package otelexport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config configures the OpenTelemetry OTLP exporter.
type Config struct {
	Endpoint    string            // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            // "grpc" (default) or "http"
	Insecure    bool              // skip TLS for local dev
	ServiceName string            // default "opsconsole"
	Version     string            // service.version resource attribute
	Headers     map[string]string // extra headers (auth tokens, etc.)
}

// Exporter owns the tracer provider installed as the global one.
type Exporter struct {
	provider *sdktrace.TracerProvider
}

// New dials nothing up front; the batcher exports in the background.
func New(ctx context.Context, cfg Config) (*Exporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("OTLP endpoint is required")
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Protocol {
	case "http":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default: // "grpc"
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("otel exporter: %w", err)
	}

	return NewWithExporter(ctx, cfg, exporter, sdktrace.WithBatcher(exporter,
		sdktrace.WithMaxExportBatchSize(100),
		sdktrace.WithBatchTimeout(5*time.Second),
	))
}

// NewWithExporter builds the provider around an existing span exporter.
// opts override the default synchronous span processor.
func NewWithExporter(ctx context.Context, cfg Config, exporter sdktrace.SpanExporter, opts ...sdktrace.TracerProviderOption) (*Exporter, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "opsconsole"
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	if len(opts) == 0 {
		opts = []sdktrace.TracerProviderOption{sdktrace.WithSyncer(exporter)}
	}
	opts = append(opts, sdktrace.WithResource(res))

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	slog.Info("otel: exporter installed", "service", serviceName, "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	return &Exporter{provider: tp}, nil
}

// Shutdown flushes remaining spans and stops the provider.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e == nil {
		return nil
	}
	slog.Info("otel: exporter shutting down")
	return e.provider.Shutdown(ctx)
}
