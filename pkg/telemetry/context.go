package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry combines logging, tracing, and metrics.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	return newTelemetry(cfg, logger)
}

// NewNop returns telemetry that logs nothing, exports no spans, and keeps
// metrics in a private registry.
func NewNop() *Telemetry {
	cfg := DefaultConfig()
	tel, err := newTelemetry(cfg, FromContext(context.Background()))
	if err != nil {
		// The default configuration always builds.
		panic(err)
	}
	return tel
}

func newTelemetry(cfg *Config, logger *Logger) (*Telemetry, error) {
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// nil when there is none.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes spans and writes the metrics textfile.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Tracer.Shutdown(ctx),
		t.Metrics.WriteTextfile(),
	)
}

// Stage is one instrumented step of an evaluation.
type Stage struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger

	name  string
	timer *Timer
	tel   *Telemetry
}

// StartStage begins an instrumented stage with a span, a stage logger, and
// a timer.
func (t *Telemetry) StartStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) *Stage {
	spanCtx, span := t.Tracer.StartStageSpan(ctx, stage)
	span.SetAttributes(attrs...)

	logger := t.Logger.WithField("stage", stage)
	if span.SpanContext().IsValid() {
		logger = logger.WithField("trace_id", span.SpanContext().TraceID().String())
	}

	return &Stage{
		Ctx:    spanCtx,
		Span:   span,
		Logger: logger,
		name:   stage,
		timer:  NewTimer(),
		tel:    t,
	}
}

// End records the stage duration, sets the span status from err, and ends
// the span.
func (s *Stage) End(err error) {
	duration := s.timer.Duration()
	s.tel.Metrics.RecordStage(s.name, duration)

	if err != nil {
		RecordError(s.Span, err)
		s.Logger.WithError(err).Debugf("Stage failed after %s", duration)
	} else {
		RecordSuccess(s.Span)
		s.Logger.Debugf("Stage completed in %s", duration)
	}
	s.Span.End()
}
