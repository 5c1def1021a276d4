package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	ExporterStdout = "stdout"
	ExporterZipkin = "zipkin"
)

// Config selects where job spans go. Output is used by the stdout exporter;
// ZipkinEndpoint is the collector URL for the zipkin exporter.
type Config struct {
	ServiceName    string
	Enabled        bool
	Exporter       string
	Output         io.Writer
	ZipkinEndpoint string
}

// Init installs a global tracer provider exporting to cfg.Output. When
// tracing is disabled the no-op provider stays in place and shutdown does
// nothing. The returned shutdown must be called on exit to flush spans.
func Init(cfg Config) (shutdown func(context.Context) error, err error) {
	shutdown = func(context.Context) error { return nil }
	if !cfg.Enabled {
		return shutdown, nil
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return shutdown, fmt.Errorf("failed to create %s trace exporter: %w", cfg.Exporter, err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider.Shutdown, nil
}

func newExporter(cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", ExporterStdout:
		opts := []stdouttrace.Option{stdouttrace.WithoutTimestamps()}
		if cfg.Output != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.Output))
		}
		return stdouttrace.New(opts...)
	case ExporterZipkin:
		if cfg.ZipkinEndpoint == "" {
			return nil, errors.New("zipkin endpoint is required")
		}
		return zipkin.New(cfg.ZipkinEndpoint)
	default:
		return nil, fmt.Errorf("unknown exporter %q", cfg.Exporter)
	}
}
