package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(Config{ServiceName: "appjob"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInit_ExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := Init(Config{ServiceName: "appjob", Enabled: true, Output: &buf})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "job.run")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "job.run") {
		t.Errorf("expected exported span, got %q", buf.String())
	}
}

func TestInit_ExporterErrors(t *testing.T) {
	tests := []Config{
		{Enabled: true, Exporter: "jaeger"},
		{Enabled: true, Exporter: ExporterZipkin},
	}
	for _, cfg := range tests {
		if _, err := Init(cfg); err == nil {
			t.Errorf("expected error for %+v", cfg)
		}
	}
}

func TestInit_Zipkin(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := Init(Config{
		ServiceName:    "appjob",
		Enabled:        true,
		Exporter:       ExporterZipkin,
		ZipkinEndpoint: "http://localhost:9411/api/v2/spans",
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	// Nothing was recorded, so shutdown does not contact the collector.
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
