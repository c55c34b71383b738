package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging, tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Initialize logger
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	// Initialize tracer
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	// Initialize metrics
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	// Initialize event publisher
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// Shutdown in reverse order of initialization
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	// Metrics server is not explicitly shut down here as it may need to continue
	// serving metrics until the very end of the application lifecycle

	return nil
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// InstrumentedContext carries the context, span, logger, and timer of one
// instrumented operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	// Start trace span
	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	// Create logger with operation field
	logger := tel.Logger.WithField("operation", operation)

	// Add trace context to logger if available
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    spanCtx,
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// buildSpanKey is the context key for build spans.
type buildSpanKey struct{}

// WithBuildContext creates a context enriched with build-level telemetry.
func WithBuildContext(ctx context.Context, runID, namespace string, stackCount int) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	// Start build span
	spanCtx, span := tel.Tracer.StartBuildSpan(ctx, runID, namespace)

	// Create build-specific logger
	logger := tel.Logger.WithRunID(runID).WithNamespace(namespace)
	spanCtx = logger.WithContext(spanCtx)

	// Record build started metric
	tel.Metrics.RecordBuildStarted(namespace)

	// Publish build started event
	_ = tel.Events.PublishBuildStarted(runID, namespace, stackCount)

	// Store the span in context for later retrieval
	spanCtx = context.WithValue(spanCtx, buildSpanKey{}, span)

	return spanCtx
}

// EndBuildContext completes the build context, recording metrics and events.
func EndBuildContext(ctx context.Context, runID, status string, duration time.Duration, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	// Get the build span from context
	if span, ok := ctx.Value(buildSpanKey{}).(trace.Span); ok {
		span.SetAttributes(AttrBuildStatus.String(status))
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	// Record metrics
	tel.Metrics.RecordBuildCompleted(status, duration)

	// Publish events
	if err != nil {
		_ = tel.Events.PublishBuildFailed(runID, err.Error())
	} else {
		_ = tel.Events.PublishBuildCompleted(runID, status, duration)
	}
}

// launchSpanKey is the context key for stack launch spans.
type launchSpanKey struct{}

// launchTimerKey is the context key for stack launch timers.
type launchTimerKey struct{}

// WithLaunchContext creates a context enriched with stack-launch telemetry.
func WithLaunchContext(ctx context.Context, runID, fqn string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	// Start launch span
	spanCtx, span := tel.Tracer.StartLaunchSpan(ctx, runID, fqn)

	// Create launch-specific logger
	logger := tel.Logger.WithRunID(runID).WithStack(fqn)
	spanCtx = logger.WithContext(spanCtx)

	// Track in-flight stacks and publish the start event
	tel.Metrics.StackLaunchStarted()
	_ = tel.Events.PublishStackStarted(runID, fqn)

	// Store the span and timer in context
	spanCtx = context.WithValue(spanCtx, launchSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, launchTimerKey{}, NewTimer())

	return spanCtx
}

// EndLaunchContext completes the launch context, recording metrics and events.
func EndLaunchContext(ctx context.Context, runID, fqn, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	// Get the span from context
	if span, ok := ctx.Value(launchSpanKey{}).(trace.Span); ok {
		span.SetAttributes(AttrStackStatus.String(status))
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	// Get the timer from context
	var duration time.Duration
	if timer, ok := ctx.Value(launchTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	// Record metrics
	tel.Metrics.StackLaunchFinished()
	tel.Metrics.RecordStackLaunch(status, duration)

	// Publish events
	if err != nil {
		_ = tel.Events.PublishStackFailed(runID, fqn, err.Error())
	} else {
		_ = tel.Events.PublishStackCompleted(runID, fqn, status, duration)
	}
}

// RecordProviderOperation records a provider operation with metrics and tracing.
func RecordProviderOperation(ctx context.Context, providerName, operation string, fn func() error) error {
	tel := FromTelemetryContext(ctx)

	// Start span
	var span trace.Span
	if tel != nil {
		ctx, span = tel.Tracer.StartProviderSpan(ctx, providerName, operation)
		defer span.End()
	}

	// Start timer
	timer := NewTimer()

	// Execute operation
	err := fn()

	// Record metrics
	if tel != nil {
		duration := timer.Duration()
		tel.Metrics.RecordProviderCall(providerName, operation, duration)
		if err != nil {
			tel.Metrics.RecordProviderError(providerName, operation)
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
	}

	return err
}
