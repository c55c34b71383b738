package engine

import (
	"context"
	"time"

	"github.com/stackmason/stackmason/pkg/blueprint"
)

// UpdateOutcome is the tagged result of an update submission. The provider
// translates its wire-level signals into one of these three values so the
// launch state machine can branch explicitly instead of sniffing error text.
type UpdateOutcome int

const (
	// OutcomeUpdated indicates the update was accepted by the provider.
	OutcomeUpdated UpdateOutcome = iota

	// OutcomeNoChange indicates the provider reported nothing to update.
	OutcomeNoChange

	// OutcomeNotFound indicates the stack does not exist; the launch state
	// machine falls through to create.
	OutcomeNotFound
)

// String renders the outcome for logs.
func (o UpdateOutcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeNoChange:
		return "no_change"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Parameter is a single (key, value) pair submitted with a stack.
// Values are always strings at this point: booleans have been normalized to
// "true"/"false" and absent values dropped by parameter resolution.
type Parameter struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// StackDescription is a provider's view of a deployed stack.
type StackDescription struct {
	// FQN is the fully-qualified stack name.
	FQN string `json:"fqn"`

	// Status is the provider's raw stack status string.
	Status string `json:"status"`

	// Parameters are the currently deployed parameter values.
	Parameters map[string]string `json:"parameters,omitempty"`

	// Outputs are the stack's current output values.
	Outputs map[string]string `json:"outputs,omitempty"`

	// Tags are the tags attached to the deployed stack.
	Tags map[string]string `json:"tags,omitempty"`
}

// StackEvent is a single provider-side event for a stack, used for tailing.
type StackEvent struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// LogicalID is the logical resource the event concerns.
	LogicalID string `json:"logical_id"`

	// ResourceType is the provider resource type.
	ResourceType string `json:"resource_type"`

	// Status is the resource status string.
	Status string `json:"status"`

	// Reason is the provider's status reason, if any.
	Reason string `json:"reason,omitempty"`
}

// TemplateLocation is where a published template can be retrieved from.
// Either URL is set (the template was pushed to remote storage) or Body
// carries the document inline.
type TemplateLocation struct {
	// URL is the retrievable location of the pushed template.
	URL string `json:"url,omitempty"`

	// Body is the inline template document when no URL is used.
	Body string `json:"body,omitempty"`
}

// Inline returns true when the template is submitted by body rather than URL.
func (t TemplateLocation) Inline() bool {
	return t.URL == ""
}

// Provider is the remote API that creates, updates, and describes deployed
// stacks. Implementations translate their wire-level error signals into the
// engine's tagged outcomes and sentinel errors:
//
//   - GetStack returns ErrStackNotFound (wrapped or bare) for missing stacks.
//   - UpdateStack returns OutcomeNoChange / OutcomeNotFound for the two
//     expected signals; any returned error is unexpected and aborts the node.
type Provider interface {
	// Name identifies the provider for logs and metrics.
	Name() string

	// GetStack describes a deployed stack, or returns ErrStackNotFound.
	GetStack(ctx context.Context, fqn string) (*StackDescription, error)

	// CreateStack submits creation of a new stack.
	CreateStack(ctx context.Context, fqn string, template TemplateLocation, parameters []Parameter, tags map[string]string) error

	// UpdateStack submits an update to an existing stack.
	UpdateStack(ctx context.Context, fqn string, template TemplateLocation, parameters []Parameter, tags map[string]string) (UpdateOutcome, error)

	// PollEvents returns stack events newer than since. Implementations
	// track delivery per stack so repeated polls yield each event once.
	PollEvents(ctx context.Context, fqn string, since time.Time) ([]StackEvent, error)

	// Cleanup releases any ephemeral polling resources allocated during the
	// run. It is invoked unconditionally, including on failure and cancel.
	Cleanup(ctx context.Context) error
}

// TemplatePublisher pushes a rendered template to retrievable storage.
type TemplatePublisher interface {
	// Push publishes the blueprint's template body for the named stack and
	// returns its retrievable location.
	Push(ctx context.Context, bp *blueprint.Blueprint, fqn string) (TemplateLocation, error)
}
