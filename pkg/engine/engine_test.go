package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stackmason/stackmason/pkg/blueprint"
	"github.com/stackmason/stackmason/pkg/config"
	"github.com/stackmason/stackmason/pkg/stack"
	"github.com/stackmason/stackmason/pkg/telemetry"
)

// fakeProvider simulates the remote provisioning API. A deployed stack is
// keyed by FQN; updates against an identical template and parameter set
// report no change, updates against a missing stack report not found.
type fakeProvider struct {
	mu       sync.Mutex
	deployed map[string]*deployedStack

	getCalls     []string
	updateCalls  []string
	createCalls  []string
	cleanupCalls int

	failUpdate map[string]error
	failCreate map[string]error
}

type deployedStack struct {
	description StackDescription
	template    string
	parameters  []Parameter
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		deployed:   make(map[string]*deployedStack),
		failUpdate: make(map[string]error),
		failCreate: make(map[string]error),
	}
}

// deploy seeds a stack as already existing remotely.
func (p *fakeProvider) deploy(fqn, template string, parameters []Parameter, outputs map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	paramMap := make(map[string]string, len(parameters))
	for _, param := range parameters {
		paramMap[param.Key] = param.Value
	}
	p.deployed[fqn] = &deployedStack{
		description: StackDescription{
			FQN:        fqn,
			Status:     "CREATE_COMPLETE",
			Parameters: paramMap,
			Outputs:    outputs,
		},
		template:   template,
		parameters: parameters,
	}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) GetStack(_ context.Context, fqn string) (*StackDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.getCalls = append(p.getCalls, fqn)
	existing, ok := p.deployed[fqn]
	if !ok {
		return nil, ErrStackNotFound
	}
	description := existing.description
	return &description, nil
}

func (p *fakeProvider) CreateStack(_ context.Context, fqn string, template TemplateLocation, parameters []Parameter, _ map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.createCalls = append(p.createCalls, fqn)
	if err := p.failCreate[fqn]; err != nil {
		return err
	}

	paramMap := make(map[string]string, len(parameters))
	for _, param := range parameters {
		paramMap[param.Key] = param.Value
	}
	p.deployed[fqn] = &deployedStack{
		description: StackDescription{
			FQN:        fqn,
			Status:     "CREATE_COMPLETE",
			Parameters: paramMap,
			Outputs:    map[string]string{},
		},
		template:   templateKey(template),
		parameters: parameters,
	}
	return nil
}

func (p *fakeProvider) UpdateStack(_ context.Context, fqn string, template TemplateLocation, parameters []Parameter, _ map[string]string) (UpdateOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.updateCalls = append(p.updateCalls, fqn)
	if err := p.failUpdate[fqn]; err != nil {
		return 0, err
	}

	existing, ok := p.deployed[fqn]
	if !ok {
		return OutcomeNotFound, nil
	}

	if existing.template == templateKey(template) && sameParameters(existing.parameters, parameters) {
		return OutcomeNoChange, nil
	}

	paramMap := make(map[string]string, len(parameters))
	for _, param := range parameters {
		paramMap[param.Key] = param.Value
	}
	existing.template = templateKey(template)
	existing.parameters = parameters
	existing.description.Parameters = paramMap
	existing.description.Status = "UPDATE_COMPLETE"
	return OutcomeUpdated, nil
}

func (p *fakeProvider) PollEvents(_ context.Context, fqn string, _ time.Time) ([]StackEvent, error) {
	return []StackEvent{{
		Timestamp: time.Now(),
		LogicalID: fqn,
		Status:    "CREATE_IN_PROGRESS",
	}}, nil
}

func (p *fakeProvider) Cleanup(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanupCalls++
	return nil
}

func (p *fakeProvider) mutatingCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updateCalls) + len(p.createCalls)
}

func templateKey(template TemplateLocation) string {
	if template.Inline() {
		return template.Body
	}
	return template.URL
}

func sameParameters(a, b []Parameter) bool {
	if len(a) != len(b) {
		return false
	}
	values := make(map[string]string, len(a))
	for _, param := range a {
		values[param.Key] = param.Value
	}
	for _, param := range b {
		if values[param.Key] != param.Value {
			return false
		}
	}
	return true
}

// fakePublisher publishes templates to a synthetic URL per stack.
type fakePublisher struct {
	mu     sync.Mutex
	pushes []string
}

func (p *fakePublisher) Push(_ context.Context, bp *blueprint.Blueprint, fqn string) (TemplateLocation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, fqn)
	return TemplateLocation{URL: fmt.Sprintf("https://templates.test/%s/%x", fqn, bp.Body())}, nil
}

func (p *fakePublisher) pushCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes)
}

func testTelemetry(t *testing.T) (*telemetry.Logger, *telemetry.Metrics, *telemetry.EventPublisher) {
	t.Helper()

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Output: "stderr"})
	if err != nil {
		t.Fatalf("Expected no error creating logger, got: %v", err)
	}
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{})
	if err != nil {
		t.Fatalf("Expected no error creating metrics, got: %v", err)
	}
	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{})
	if err != nil {
		t.Fatalf("Expected no error creating events, got: %v", err)
	}
	return logger, metrics, events
}

const simpleTemplate = `
Resources:
  Thing:
    Type: AWS::SNS::Topic
`

const namedTemplate = `
Parameters:
  Name:
    Type: String
Resources:
  Thing:
    Type: AWS::SNS::Topic
`

const sizedTemplate = `
Parameters:
  Size:
    Type: String
Resources:
  Thing:
    Type: AWS::SNS::Topic
`

func mustBlueprint(t *testing.T, name, body string) *blueprint.Blueprint {
	t.Helper()
	bp, err := blueprint.Parse(name, []byte(body))
	if err != nil {
		t.Fatalf("Expected no error parsing template, got: %v", err)
	}
	return bp
}

// buildStack assembles a stack for the test namespace.
func buildStack(t *testing.T, buildCtx *stack.Context, def config.StackDefinition, template string) *stack.Stack {
	t.Helper()
	return stack.FromBlueprint(buildCtx, &def, mustBlueprint(t, def.Name, template))
}

func testBuildContext(force, targets []string) *stack.Context {
	cfg := &config.Config{
		Namespace: "test",
		Stacks: []config.StackDefinition{
			{Name: "placeholder", TemplatePath: "x.yaml"},
		},
	}
	return stack.NewContext(cfg, force, targets)
}
