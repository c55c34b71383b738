package engine

import "fmt"

// StatusKind identifies the terminal state a stack launch reached within a
// single build. Exactly one Status is produced per stack per run; the plan
// executor consumes it to mark the node complete and unblock dependents.
type StatusKind string

const (
	// StatusNotSubmitted indicates the stack is disabled and was skipped
	// before any provider contact.
	StatusNotSubmitted StatusKind = "not_submitted"

	// StatusNotUpdated indicates the stack is locked and not in the force
	// set; its template and parameters were prepared but no mutating call
	// was issued.
	StatusNotUpdated StatusKind = "not_updated"

	// StatusDidNotChange indicates the provider reported no changes for the
	// submitted update. This is the common steady-state result.
	StatusDidNotChange StatusKind = "did_not_change"

	// StatusSubmitted indicates a create or update was submitted to the
	// provider. The Detail field distinguishes the two paths.
	StatusSubmitted StatusKind = "submitted"
)

// Submission details carried by Submitted statuses.
const (
	DetailCreatingStack = "CREATE_STACK"
	DetailUpdatingStack = "UPDATING_STACK"
)

// Status is the terminal outcome of one stack launch.
type Status struct {
	// Kind is the terminal state.
	Kind StatusKind `json:"kind"`

	// Detail carries submission detail for Submitted statuses.
	Detail string `json:"detail,omitempty"`
}

// NotSubmittedStatus returns the status for a disabled, skipped stack.
func NotSubmittedStatus() Status {
	return Status{Kind: StatusNotSubmitted}
}

// NotUpdatedStatus returns the status for a locked, unforced stack.
func NotUpdatedStatus() Status {
	return Status{Kind: StatusNotUpdated}
}

// DidNotChangeStatus returns the status for an unchanged stack.
func DidNotChangeStatus() Status {
	return Status{Kind: StatusDidNotChange}
}

// SubmittedStatus returns the status for a submitted create or update.
func SubmittedStatus(detail string) Status {
	return Status{Kind: StatusSubmitted, Detail: detail}
}

// Submitted returns true if the launch issued a mutating provider call.
func (s Status) Submitted() bool {
	return s.Kind == StatusSubmitted
}

// Skipped returns true if the launch terminated without a mutating call.
func (s Status) Skipped() bool {
	return s.Kind == StatusNotSubmitted || s.Kind == StatusNotUpdated ||
		s.Kind == StatusDidNotChange
}

// String renders the status for logs and plan results.
func (s Status) String() string {
	if s.Detail != "" {
		return fmt.Sprintf("%s (%s)", s.Kind, s.Detail)
	}
	return string(s.Kind)
}

// Validate checks if the status kind is valid.
func (s Status) Validate() error {
	switch s.Kind {
	case StatusNotSubmitted, StatusNotUpdated, StatusDidNotChange, StatusSubmitted:
		return nil
	default:
		return fmt.Errorf("invalid launch status: %s", s.Kind)
	}
}
