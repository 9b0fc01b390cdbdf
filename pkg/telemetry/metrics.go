package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Evaluation outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeScriptError = "script_error"
	OutcomeInvalid     = "invalid"
	OutcomeBlocked     = "blocked"
)

// Metrics provides Prometheus metrics for configuration evaluations.
type Metrics struct {
	config MetricsConfig

	// Evaluation metrics
	evaluations   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec

	// Result metrics
	policyFindings *prometheus.CounterVec
	schemaIssues   prometheus.Counter
	sequenceLength prometheus.Gauge

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// Archive and watch metrics
	archivedRecords prometheus.Counter
	watchReloads    prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of configuration script evaluations",
			},
			[]string{"outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each evaluation stage in seconds",
				Buckets:   buckets,
			},
			[]string{"stage"},
		),
		policyFindings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_findings_total",
				Help:      "Total number of policy violations and warnings",
			},
			[]string{"policy", "severity"},
		),
		schemaIssues: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schema_issues_total",
				Help:      "Total number of parameter dump schema issues",
			},
		),
		sequenceLength: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sequence_processors",
				Help:      "Number of processors in the last evaluated sequence",
			},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of configuration errors by error class",
			},
			[]string{"class"},
		),
		archivedRecords: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archived_records_total",
				Help:      "Total number of evaluations written to the archive",
			},
		),
		watchReloads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_reloads_total",
				Help:      "Total number of re-evaluations triggered by file changes",
			},
		),
	}

	registry.MustRegister(
		m.evaluations,
		m.stageDuration,
		m.policyFindings,
		m.schemaIssues,
		m.sequenceLength,
		m.errorsByClass,
		m.archivedRecords,
		m.watchReloads,
	)

	return m, nil
}

// Registry returns the registry the metrics are registered with, nil when
// metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordEvaluation counts a finished evaluation by outcome.
func (m *Metrics) RecordEvaluation(outcome string) {
	if m.evaluations == nil {
		return
	}
	m.evaluations.WithLabelValues(outcome).Inc()
}

// RecordStage records how long an evaluation stage took.
func (m *Metrics) RecordStage(stage string, duration time.Duration) {
	if m.stageDuration == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordPolicyFinding counts a policy violation or warning.
func (m *Metrics) RecordPolicyFinding(policy, severity string) {
	if m.policyFindings == nil {
		return
	}
	m.policyFindings.WithLabelValues(policy, severity).Inc()
}

// RecordSchemaIssues counts parameter dump schema issues.
func (m *Metrics) RecordSchemaIssues(n int) {
	if m.schemaIssues == nil || n <= 0 {
		return
	}
	m.schemaIssues.Add(float64(n))
}

// SetSequenceLength records the size of the last evaluated sequence.
func (m *Metrics) SetSequenceLength(n int) {
	if m.sequenceLength == nil {
		return
	}
	m.sequenceLength.Set(float64(n))
}

// RecordError records a configuration error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	if errorClass == "" {
		errorClass = "unknown"
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// RecordArchived counts an archived evaluation.
func (m *Metrics) RecordArchived() {
	if m.archivedRecords == nil {
		return
	}
	m.archivedRecords.Inc()
}

// RecordWatchReload counts a re-evaluation triggered by the watcher.
func (m *Metrics) RecordWatchReload() {
	if m.watchReloads == nil {
		return
	}
	m.watchReloads.Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// WriteTextfile writes every metric to the configured textfile, for the
// node exporter textfile collector. It does nothing when metrics or the
// textfile are disabled.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves /metrics on the configured listen address until
// ctx is done. It does nothing when metrics or the address are disabled.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger *Logger) error {
	if m.registry == nil || m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}
