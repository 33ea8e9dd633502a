package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestInitTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := Tracer().Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatalf("disabled tracing produced a valid span context")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracingStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		Exporter:    "stdout",
		SampleRatio: 1,
		Writer:      &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() {
		_, _ = InitTracing(context.Background(), TracingConfig{}, nil)
	})

	_, span := Tracer().Start(context.Background(), "scheduling-pass")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	if !strings.Contains(buf.String(), "scheduling-pass") {
		t.Fatalf("exported spans missing span name: %q", buf.String())
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("SENSORSIM_TRACING_ENABLED", "TRUE")
	t.Setenv("SENSORSIM_TRACING_EXPORTER", "OTLP")
	t.Setenv("SENSORSIM_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("SENSORSIM_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.ServiceName != "sensorsim" {
		t.Fatalf("service name = %q", cfg.ServiceName)
	}
}
