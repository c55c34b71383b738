// Package memory implements the stack provider and template publisher
// against process-local state. It exists for offline runs and tests: the
// provider honors the same outcome contract as the real one, including
// no-change detection for identical resubmissions, so orchestration logic
// can be exercised without AWS.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stackmason/stackmason/pkg/blueprint"
	"github.com/stackmason/stackmason/pkg/engine"
)

// deployment is one deployed stack's state.
type deployment struct {
	description engine.StackDescription
	template    string
	events      []engine.StackEvent
}

// Provider stores deployed stacks in memory.
type Provider struct {
	mu       sync.Mutex
	deployed map[string]*deployment

	// delivered event counts per stack for once-only polling
	polled map[string]int
}

// NewProvider creates an empty in-memory provider.
func NewProvider() *Provider {
	return &Provider{
		deployed: make(map[string]*deployment),
		polled:   make(map[string]int),
	}
}

// Name identifies the provider for logs and metrics.
func (p *Provider) Name() string { return "memory" }

// Seed installs a stack as already deployed, with the given outputs.
// Intended for tests and offline fixtures.
func (p *Provider) Seed(fqn, template string, parameters map[string]string, outputs map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.deployed[fqn] = &deployment{
		description: engine.StackDescription{
			FQN:        fqn,
			Status:     "CREATE_COMPLETE",
			Parameters: parameters,
			Outputs:    outputs,
		},
		template: template,
	}
}

// GetStack describes a deployed stack, or returns ErrStackNotFound.
func (p *Provider) GetStack(_ context.Context, fqn string) (*engine.StackDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, ok := p.deployed[fqn]
	if !ok {
		return nil, engine.ErrStackNotFound
	}
	description := existing.description
	return &description, nil
}

// CreateStack records a new stack as deployed.
func (p *Provider) CreateStack(_ context.Context, fqn string, template engine.TemplateLocation, parameters []engine.Parameter, tags map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.deployed[fqn]; ok {
		return engine.NewConflictError("stack already exists", nil).
			WithStack(fqn).WithOperation("create").WithCode(engine.ErrCodeConflict)
	}

	p.deployed[fqn] = &deployment{
		description: engine.StackDescription{
			FQN:        fqn,
			Status:     "CREATE_COMPLETE",
			Parameters: parameterMap(parameters),
			Outputs:    map[string]string{},
			Tags:       tags,
		},
		template: templateKey(template),
		events: []engine.StackEvent{{
			Timestamp: time.Now(),
			LogicalID: fqn,
			Status:    "CREATE_COMPLETE",
		}},
	}
	return nil
}

// UpdateStack updates a deployed stack. Resubmitting an identical template
// and parameter set reports OutcomeNoChange; a missing stack reports
// OutcomeNotFound.
func (p *Provider) UpdateStack(_ context.Context, fqn string, template engine.TemplateLocation, parameters []engine.Parameter, tags map[string]string) (engine.UpdateOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, ok := p.deployed[fqn]
	if !ok {
		return engine.OutcomeNotFound, nil
	}

	params := parameterMap(parameters)
	if existing.template == templateKey(template) && sameValues(existing.description.Parameters, params) {
		return engine.OutcomeNoChange, nil
	}

	existing.template = templateKey(template)
	existing.description.Parameters = params
	existing.description.Tags = tags
	existing.description.Status = "UPDATE_COMPLETE"
	existing.events = append(existing.events, engine.StackEvent{
		Timestamp: time.Now(),
		LogicalID: fqn,
		Status:    "UPDATE_COMPLETE",
	})
	return engine.OutcomeUpdated, nil
}

// SetOutputs replaces a deployed stack's outputs.
func (p *Provider) SetOutputs(fqn string, outputs map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, ok := p.deployed[fqn]
	if !ok {
		return fmt.Errorf("stack not deployed: %s", fqn)
	}
	existing.description.Outputs = outputs
	return nil
}

// PollEvents returns events newer than since that have not been delivered.
func (p *Provider) PollEvents(_ context.Context, fqn string, since time.Time) ([]engine.StackEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, ok := p.deployed[fqn]
	if !ok {
		return nil, nil
	}

	var fresh []engine.StackEvent
	for _, event := range existing.events[p.polled[fqn]:] {
		if event.Timestamp.After(since) {
			fresh = append(fresh, event)
		}
	}
	p.polled[fqn] = len(existing.events)
	return fresh, nil
}

// Cleanup resets event delivery state. Deployed stacks persist for the
// lifetime of the provider.
func (p *Provider) Cleanup(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polled = make(map[string]int)
	return nil
}

// Deployed reports whether a stack exists.
func (p *Provider) Deployed(fqn string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.deployed[fqn]
	return ok
}

func parameterMap(parameters []engine.Parameter) map[string]string {
	out := make(map[string]string, len(parameters))
	for _, param := range parameters {
		out[param.Key] = param.Value
	}
	return out
}

func sameValues(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func templateKey(template engine.TemplateLocation) string {
	if template.Inline() {
		return template.Body
	}
	return template.URL
}

// Publisher passes template bodies through inline.
type Publisher struct{}

// NewPublisher creates an inline publisher.
func NewPublisher() *Publisher { return &Publisher{} }

// Push returns the blueprint body as an inline location.
func (p *Publisher) Push(_ context.Context, bp *blueprint.Blueprint, _ string) (engine.TemplateLocation, error) {
	return engine.TemplateLocation{Body: string(bp.Body())}, nil
}
