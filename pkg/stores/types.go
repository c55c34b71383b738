package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// RunStatus represents the status of a build run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// EventLevel represents the severity level of a recorded event.
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run represents one build run.
type Run struct {
	ID          string     `json:"id"`
	Namespace   string     `json:"namespace"`
	Status      RunStatus  `json:"status"`
	Stacks      string     `json:"stacks"` // JSON array of stack names
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StackNames decodes the run's planned stack list.
func (r *Run) StackNames() []string {
	var names []string
	if err := json.Unmarshal([]byte(r.Stacks), &names); err != nil {
		return nil
	}
	return names
}

// StackResult represents one stack's terminal result within a run.
type StackResult struct {
	ID          int64      `json:"id"`
	RunID       string     `json:"run_id"`
	Name        string     `json:"name"`
	FQN         string     `json:"fqn"`
	Status      string     `json:"status"`
	Failure     *string    `json:"failure,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Event represents an append-only log event tied to a run.
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Source    string     `json:"source"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the run-history persistence layer. Its StartRun,
// RecordStackResult, and FinishRun methods satisfy the orchestrator's
// run store.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Run recording
	StartRun(ctx context.Context, runID, namespace string, stacks []string) error
	RecordStackResult(ctx context.Context, runID, name, fqn, status, failure string, started, completed time.Time) error
	FinishRun(ctx context.Context, runID, status string) error

	// Run queries
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	ListStackResults(ctx context.Context, runID string) ([]*StackResult, error)
	DeleteRun(ctx context.Context, id string) error

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
