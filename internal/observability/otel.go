// Package observability installs the global OpenTelemetry tracer provider
// shared by the benchmark client and the reference server.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// TracerConfig selects the span exporter.
type TracerConfig struct {
	Enabled bool
	Service string
	Version string
	// Endpoint is an OTLP/HTTP collector host:port. Empty exports to Writer.
	Endpoint string
	// Writer receives stdout-exporter spans. Defaults to stderr so spans
	// never interleave with report lines on stdout.
	Writer io.Writer
	// SampleRatio in (0, 1]. Zero samples everything.
	SampleRatio float64
}

// Shutdown flushes and stops the tracer provider.
type Shutdown func(context.Context) error

// InitTracer sets the global tracer provider and W3C trace-context
// propagator. When disabled it installs nothing and returns a no-op Shutdown.
func InitTracer(cfg TracerConfig) (Shutdown, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
		slog.Info("otel trace exporter configured", "type", "otlphttp", "endpoint", endpoint)
	} else {
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		slog.Info("otel trace exporter configured", "type", "stdout")
	}

	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(cfg.Service))}
	if cfg.Version != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.Version)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	}, nil
}
