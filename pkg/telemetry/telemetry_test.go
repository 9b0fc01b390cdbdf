package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "no service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{
			name: "bad exporter",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "jaeger"
			},
			wantErr: true,
		},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: true,
		},
		{name: "bad sampling rate", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{
			name: "disabled tracing ignores exporter",
			mutate: func(c *Config) {
				c.Tracing.Exporter = "jaeger"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.NewComponentLogger("pipeline").
		WithScript("reco.star").
		WithPass("reco").
		WithError(errors.New("boom")).
		Warn("Evaluation failed")

	out := buf.String()
	for _, want := range []string{`"component":"pipeline"`, `"script":"reco.star"`, `"pass_name":"reco"`, `"error":"boom"`, `"level":"warn"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}

func TestLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered, got %s", buf.String())
	}
	logger.Error("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected error to be logged, got %s", buf.String())
	}
}

func TestLogger_Context(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "info", Format: "json"}, &buf)

	ctx := logger.WithContext(context.Background())
	FromContext(ctx).Info("from context")
	if !strings.Contains(buf.String(), "from context") {
		t.Errorf("expected logger from context, got %s", buf.String())
	}

	// No logger in context is silent.
	FromContext(context.Background()).Info("dropped")
}

func TestMetrics_Recording(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}

	m.RecordEvaluation(OutcomeOK)
	m.RecordEvaluation(OutcomeOK)
	m.RecordEvaluation(OutcomeBlocked)
	m.RecordPolicyFinding("seed-mode", "warning")
	m.RecordSchemaIssues(3)
	m.RecordSchemaIssues(0)
	m.SetSequenceLength(4)
	m.RecordError("")
	m.RecordArchived()
	m.RecordWatchReload()

	if got := testutil.ToFloat64(m.evaluations.WithLabelValues(OutcomeOK)); got != 2 {
		t.Errorf("expected 2 ok evaluations, got %v", got)
	}
	if got := testutil.ToFloat64(m.evaluations.WithLabelValues(OutcomeBlocked)); got != 1 {
		t.Errorf("expected 1 blocked evaluation, got %v", got)
	}
	if got := testutil.ToFloat64(m.policyFindings.WithLabelValues("seed-mode", "warning")); got != 1 {
		t.Errorf("expected 1 finding, got %v", got)
	}
	if got := testutil.ToFloat64(m.schemaIssues); got != 3 {
		t.Errorf("expected 3 schema issues, got %v", got)
	}
	if got := testutil.ToFloat64(m.sequenceLength); got != 4 {
		t.Errorf("expected sequence length 4, got %v", got)
	}
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("unknown")); got != 1 {
		t.Errorf("expected unknown error class, got %v", got)
	}
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false, TextfilePath: filepath.Join(t.TempDir(), "m.prom")})
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}

	// None of these may panic.
	m.RecordEvaluation(OutcomeOK)
	m.RecordStage("evaluate", time.Second)
	m.RecordPolicyFinding("p", "error")
	m.RecordSchemaIssues(1)
	m.SetSequenceLength(1)
	m.RecordError("contract")
	m.RecordArchived()
	m.RecordWatchReload()

	if m.Registry() != nil {
		t.Error("expected no registry when disabled")
	}
	if err := m.WriteTextfile(); err != nil {
		t.Errorf("WriteTextfile() failed: %v", err)
	}
	if _, err := os.Stat(m.config.TextfilePath); !os.IsNotExist(err) {
		t.Error("expected no textfile when disabled")
	}
}

func TestMetrics_WriteTextfile(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.TextfilePath = filepath.Join(t.TempDir(), "fire_cfg.prom")
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}

	m.RecordEvaluation(OutcomeInvalid)
	if err := m.WriteTextfile(); err != nil {
		t.Fatalf("WriteTextfile() failed: %v", err)
	}

	data, err := os.ReadFile(cfg.TextfilePath)
	if err != nil {
		t.Fatalf("failed to read textfile: %v", err)
	}
	if !strings.Contains(string(data), `fire_cfg_evaluations_total{outcome="invalid"} 1`) {
		t.Errorf("unexpected textfile contents:\n%s", data)
	}
}

func TestTracer_Disabled(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{}, "fire-cfg", "test")
	if err != nil {
		t.Fatalf("NewTracer() failed: %v", err)
	}

	ctx, span := tracer.StartEvaluationSpan(context.Background(), "reco.star", "dump")
	RecordError(span, nil)
	RecordSuccess(span)
	span.End()
	_ = TraceID(ctx)

	if err := tracer.ForceFlush(context.Background()); err != nil {
		t.Errorf("ForceFlush() failed: %v", err)
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() failed: %v", err)
	}
}

func TestTracer_UnsupportedExporter(t *testing.T) {
	_, err := NewTracer(TracingConfig{Enabled: true, Exporter: "zipkin", SamplingRate: 1}, "fire-cfg", "test")
	if err == nil {
		t.Error("expected error for unsupported exporter")
	}
}

func TestTracer_NoneExporterRecordsSpans(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{Enabled: true, Exporter: "none", SamplingRate: 1}, "fire-cfg", "test")
	if err != nil {
		t.Fatalf("NewTracer() failed: %v", err)
	}
	defer tracer.Shutdown(context.Background())

	ctx, span := tracer.StartStageSpan(context.Background(), "policy")
	defer span.End()
	if TraceID(ctx) == "" {
		t.Error("expected a sampled span to carry a trace id")
	}
}

func TestStage_RecordsDuration(t *testing.T) {
	tel := NewNop()
	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Fatal("expected telemetry in context")
	}

	stage := tel.StartStage(ctx, "schema")
	stage.End(errors.New("invalid dump"))
	stage = tel.StartStage(ctx, "schema")
	stage.End(nil)

	if got := testutil.CollectAndCount(tel.Metrics.stageDuration); got != 1 {
		t.Errorf("expected one stage series, got %d", got)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() failed: %v", err)
	}
}

func TestFromTelemetryContext_Missing(t *testing.T) {
	if FromTelemetryContext(context.Background()) != nil {
		t.Error("expected nil telemetry")
	}
}
