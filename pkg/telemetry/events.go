package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the StackMason system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated build run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Stack is the fully-qualified name of the associated stack, if applicable.
	Stack string `json:"stack,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeBuildStarted      = "build.started"
	EventTypeBuildCompleted    = "build.completed"
	EventTypeBuildFailed       = "build.failed"
	EventTypeStackStarted      = "stack.started"
	EventTypeStackCompleted    = "stack.completed"
	EventTypeStackFailed       = "stack.failed"
	EventTypeStackBlocked      = "stack.blocked"
	EventTypeHookStarted       = "hook.started"
	EventTypeHookCompleted     = "hook.completed"
	EventTypeHookFailed        = "hook.failed"
	EventTypeTemplatePublished = "template.published"
	EventTypeProviderEvent     = "provider.event"
	EventTypePolicyViolation   = "policy.violation"
	EventTypeError             = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishBuildStarted publishes a build started event.
func (ep *EventPublisher) PublishBuildStarted(runID, namespace string, stackCount int) error {
	return ep.Publish(Event{
		Type:    EventTypeBuildStarted,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Build %s started in namespace %s (%d stacks)", runID, namespace, stackCount),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"namespace":   namespace,
			"stack_count": stackCount,
		},
	})
}

// PublishBuildCompleted publishes a build completed event.
func (ep *EventPublisher) PublishBuildCompleted(runID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeBuildCompleted,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Build %s completed with status: %s", runID, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishBuildFailed publishes a build failed event.
func (ep *EventPublisher) PublishBuildFailed(runID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeBuildFailed,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Build %s failed: %s", runID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishStackStarted publishes a stack launch started event.
func (ep *EventPublisher) PublishStackStarted(runID, fqn string) error {
	return ep.Publish(Event{
		Type:    EventTypeStackStarted,
		Source:  "engine",
		RunID:   runID,
		Stack:   fqn,
		Message: fmt.Sprintf("Stack %s launch started", fqn),
		Level:   EventLevelInfo,
	})
}

// PublishStackCompleted publishes a stack completed event with its terminal status.
func (ep *EventPublisher) PublishStackCompleted(runID, fqn, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeStackCompleted,
		Source:  "engine",
		RunID:   runID,
		Stack:   fqn,
		Message: fmt.Sprintf("Stack %s completed: %s", fqn, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishStackFailed publishes a stack failed event.
func (ep *EventPublisher) PublishStackFailed(runID, fqn, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeStackFailed,
		Source:  "engine",
		RunID:   runID,
		Stack:   fqn,
		Message: fmt.Sprintf("Stack %s failed: %s", fqn, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishStackBlocked publishes an event for a stack withheld because a
// dependency failed.
func (ep *EventPublisher) PublishStackBlocked(runID, fqn, dependency string) error {
	return ep.Publish(Event{
		Type:    EventTypeStackBlocked,
		Source:  "engine",
		RunID:   runID,
		Stack:   fqn,
		Message: fmt.Sprintf("Stack %s blocked: dependency %s did not complete", fqn, dependency),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"dependency": dependency,
		},
	})
}

// PublishHookCompleted publishes a hook completed event.
func (ep *EventPublisher) PublishHookCompleted(runID, stage, name string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeHookCompleted,
		Source:  "hooks",
		RunID:   runID,
		Message: fmt.Sprintf("Hook %s (%s) completed", name, stage),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"stage":    stage,
			"hook":     name,
			"duration": duration.Seconds(),
		},
	})
}

// PublishHookFailed publishes a hook failed event.
func (ep *EventPublisher) PublishHookFailed(runID, stage, name, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeHookFailed,
		Source:  "hooks",
		RunID:   runID,
		Message: fmt.Sprintf("Hook %s (%s) failed: %s", name, stage, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"stage":  stage,
			"hook":   name,
			"reason": reason,
		},
	})
}

// PublishTemplatePublished publishes a template published event.
func (ep *EventPublisher) PublishTemplatePublished(runID, fqn, location string) error {
	return ep.Publish(Event{
		Type:    EventTypeTemplatePublished,
		Source:  "publisher",
		RunID:   runID,
		Stack:   fqn,
		Message: fmt.Sprintf("Template for %s published to %s", fqn, location),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"location": location,
		},
	})
}

// PublishProviderEvent publishes a provider-side stack event (used for tailing).
func (ep *EventPublisher) PublishProviderEvent(runID, fqn, resource, status, reason string, at time.Time) error {
	msg := fmt.Sprintf("%s %s %s", fqn, resource, status)
	if reason != "" {
		msg = msg + ": " + reason
	}
	return ep.Publish(Event{
		Type:      EventTypeProviderEvent,
		Source:    "provider",
		RunID:     runID,
		Stack:     fqn,
		Timestamp: at,
		Message:   msg,
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"resource": resource,
			"status":   status,
			"reason":   reason,
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(runID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy",
		RunID:   runID,
		Message: fmt.Sprintf("Policy violation: %s - %s", policyName, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)

		case <-ep.ctx.Done():
			// Drain remaining events before shutting down
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}

// FilterByStack creates a filter that only allows events for a specific stack.
func FilterByStack(fqn string) EventFilter {
	return func(event Event) bool {
		return event.Stack == fqn
	}
}
