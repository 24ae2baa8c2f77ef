package observability

import (
	"context"
	"testing"
)

func TestTracingConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("TILEBRIDGE_TRACING_ENABLED", "")
	t.Setenv("TILEBRIDGE_TRACING_SERVICE_NAME", "")
	t.Setenv("TILEBRIDGE_TRACING_EXPORTER", "")
	t.Setenv("TILEBRIDGE_TRACING_SAMPLE_RATIO", "")

	cfg := TracingConfigFromEnv()
	if cfg.Enabled {
		t.Error("tracing enabled by default")
	}
	if cfg.ServiceName != "tilebridge" {
		t.Errorf("service name = %q", cfg.ServiceName)
	}
	if cfg.Exporter != "stdout" {
		t.Errorf("exporter = %q", cfg.Exporter)
	}
	if cfg.SampleRatio != 1.0 {
		t.Errorf("sample ratio = %v", cfg.SampleRatio)
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("TILEBRIDGE_TRACING_ENABLED", "TRUE")
	t.Setenv("TILEBRIDGE_TRACING_SERVICE_NAME", "bridge-test")
	t.Setenv("TILEBRIDGE_TRACING_EXPORTER", "OTLP")
	t.Setenv("TILEBRIDGE_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("TILEBRIDGE_TRACING_SAMPLE_RATIO", "0.25")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.ServiceName != "bridge-test" || cfg.Exporter != "otlp" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Endpoint != "collector:4317" {
		t.Errorf("endpoint = %q", cfg.Endpoint)
	}
	if cfg.SampleRatio != 0.25 {
		t.Errorf("sample ratio = %v", cfg.SampleRatio)
	}

	// Out-of-range ratios keep the default.
	t.Setenv("TILEBRIDGE_TRACING_SAMPLE_RATIO", "7")
	if got := TracingConfigFromEnv().SampleRatio; got != 1.0 {
		t.Errorf("out-of-range ratio = %v, want default 1.0", got)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInitTracingUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "carrier-pigeon"}, nil)
	if err == nil {
		t.Fatal("unknown exporter accepted")
	}
}
