// Package telemetry provides observability instrumentation for StackMason.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and event publishing into a
// unified system for monitoring and debugging build runs.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for tailing, audit, and persistence
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "mason"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context
// propagation:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithRunID("run-123").WithStack("prod-vpc")
//	logger.Info("Launching stack")
//	logger.WithError(err).Error("Launch failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into build flow and provider latency:
//
//	ctx, span := tel.Tracer.StartBuildSpan(ctx, runID, namespace)
//	defer span.End()
//
// Supported exporters: OTLP (production), stdout (development), none (testing).
//
// # Metrics
//
// Key metrics exposed at the /metrics endpoint:
//
//   - mason_builds_started_total{namespace}
//   - mason_builds_completed_total{status}
//   - mason_build_duration_seconds{status}
//   - mason_stack_launches_total{status}
//   - mason_stack_launch_duration_seconds{status}
//   - mason_provider_calls_total{provider,operation}
//   - mason_provider_errors_total{provider,operation}
//   - mason_templates_published_total{destination}
//   - mason_hook_executions_total{stage,kind,status}
//   - mason_errors_by_class_total{class}
//   - mason_active_builds
//   - mason_in_flight_stacks
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering.
// Subscribers drive the console tail output, the run-history store, and any
// custom integrations:
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("%s %s\n", event.Type, event.Message)
//	}, telemetry.FilterByRunID(runID))
//
// Event filters: FilterByLevel, FilterByType, FilterByRunID, FilterByStack.
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("telemetry shutdown error: %v", err)
//	}
package telemetry
