package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for StackMason.
type Metrics struct {
	config MetricsConfig

	// Build metrics
	buildsStarted   *prometheus.CounterVec
	buildsCompleted *prometheus.CounterVec
	buildDuration   *prometheus.HistogramVec

	// Stack launch metrics
	stackLaunches  *prometheus.CounterVec
	launchDuration *prometheus.HistogramVec

	// Provider metrics
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec

	// Template metrics
	templatesPublished *prometheus.CounterVec

	// Hook metrics
	hookExecutions *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeBuilds   prometheus.Gauge
	inFlightStacks prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Build metrics
		buildsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_started_total",
				Help:      "Total number of builds started",
			},
			[]string{"namespace"},
		),
		buildsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_completed_total",
				Help:      "Total number of builds completed",
			},
			[]string{"status"},
		),
		buildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_duration_seconds",
				Help:      "Duration of build execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		// Stack launch metrics
		stackLaunches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stack_launches_total",
				Help:      "Total number of stack launches by terminal status",
			},
			[]string{"status"},
		),
		launchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stack_launch_duration_seconds",
				Help:      "Duration of stack launch execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		// Provider metrics
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of provider calls",
			},
			[]string{"provider", "operation"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Duration of provider calls in seconds",
				Buckets:   buckets,
			},
			[]string{"provider", "operation"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of provider errors",
			},
			[]string{"provider", "operation"},
		),

		// Template metrics
		templatesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "templates_published_total",
				Help:      "Total number of templates published",
			},
			[]string{"destination"},
		),

		// Hook metrics
		hookExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hook_executions_total",
				Help:      "Total number of hook executions",
			},
			[]string{"stage", "kind", "status"},
		),

		// Error metrics
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		// System metrics
		activeBuilds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_builds",
				Help:      "Current number of active builds",
			},
		),
		inFlightStacks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_stacks",
				Help:      "Current number of stacks being launched",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.buildsStarted,
		m.buildsCompleted,
		m.buildDuration,
		m.stackLaunches,
		m.launchDuration,
		m.providerCalls,
		m.providerDuration,
		m.providerErrors,
		m.templatesPublished,
		m.hookExecutions,
		m.errorsByClass,
		m.errorsByCode,
		m.activeBuilds,
		m.inFlightStacks,
	)

	return m, nil
}

// Build Metrics

// RecordBuildStarted increments the counter for started builds.
func (m *Metrics) RecordBuildStarted(namespace string) {
	if m.buildsStarted == nil {
		return
	}
	m.buildsStarted.WithLabelValues(namespace).Inc()
	m.activeBuilds.Inc()
}

// RecordBuildCompleted records a completed build with its status and duration.
func (m *Metrics) RecordBuildCompleted(status string, duration time.Duration) {
	if m.buildsCompleted == nil {
		return
	}
	m.buildsCompleted.WithLabelValues(status).Inc()
	m.buildDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeBuilds.Dec()
}

// Stack Launch Metrics

// RecordStackLaunch records a stack launch with its terminal status and duration.
func (m *Metrics) RecordStackLaunch(status string, duration time.Duration) {
	if m.stackLaunches == nil {
		return
	}
	m.stackLaunches.WithLabelValues(status).Inc()
	m.launchDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// StackLaunchStarted increments the in-flight stack gauge.
func (m *Metrics) StackLaunchStarted() {
	if m.inFlightStacks == nil {
		return
	}
	m.inFlightStacks.Inc()
}

// StackLaunchFinished decrements the in-flight stack gauge.
func (m *Metrics) StackLaunchFinished() {
	if m.inFlightStacks == nil {
		return
	}
	m.inFlightStacks.Dec()
}

// Provider Metrics

// RecordProviderCall records a provider call with its duration.
func (m *Metrics) RecordProviderCall(provider, operation string, duration time.Duration) {
	if m.providerCalls == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, operation).Inc()
	m.providerDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(provider, operation string) {
	if m.providerErrors == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider, operation).Inc()
}

// Template Metrics

// RecordTemplatePublished records a published template by destination (s3, inline).
func (m *Metrics) RecordTemplatePublished(destination string) {
	if m.templatesPublished == nil {
		return
	}
	m.templatesPublished.WithLabelValues(destination).Inc()
}

// Hook Metrics

// RecordHookExecution records a hook execution.
func (m *Metrics) RecordHookExecution(stage, kind, status string) {
	if m.hookExecutions == nil {
		return
	}
	m.hookExecutions.WithLabelValues(stage, kind, status).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
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

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
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

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
