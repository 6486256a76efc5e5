package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/signalsfoundry/sehir-simulator/core"
	"github.com/signalsfoundry/sehir-simulator/internal/logging"
	"github.com/signalsfoundry/sehir-simulator/model"
	"github.com/signalsfoundry/sehir-simulator/network"
	"github.com/signalsfoundry/sehir-simulator/rng"
)

func TestTracingDisabledReturnsNoopShutdown(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), DefaultTracingConfig(), logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestUnsupportedExporter(t *testing.T) {
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Exporter = "zipkin"
	if _, err := InitTracing(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func TestApplyTracingEnv(t *testing.T) {
	t.Setenv("SEHIR_TRACING_ENABLED", "TRUE")
	t.Setenv("SEHIR_TRACING_EXPORTER", "OTLP")
	t.Setenv("SEHIR_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("SEHIR_TRACING_SAMPLE_RATIO", "0.25")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.Endpoint != "collector:4317" || cfg.SampleRatio != 0.25 {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("SEHIR_TRACING_SAMPLE_RATIO", "7")
	if got := TracingConfigFromEnv().SampleRatio; got != 1.0 {
		t.Fatalf("out-of-range ratio accepted: %v", got)
	}
}

func TestEngineStepsAreTraced(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Writer = &buf

	tp, err := NewTracerProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewTracerProvider: %v", err)
	}

	g, err := network.Complete(4)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	e, err := core.New(g, rng.New(1), model.Rates{L3: 1}, core.SeedPlan{Infected: 1}, core.WithTracerProvider(tp))
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	if _, err := e.Run(context.Background(), 2); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	out := buf.String()
	if strings.Count(out, `"Name": "sehir.step"`) != 2 {
		t.Fatalf("expected two sehir.step spans, got:\n%s", out)
	}
	if !strings.Contains(out, "sehir.transitions") {
		t.Fatalf("span attributes missing:\n%s", out)
	}
}
