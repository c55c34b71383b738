package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/stackmason/stackmason/pkg/telemetry"
)

// Engine compiles Rego policies and evaluates them against build documents.
// It satisfies the build orchestrator's policy gate: a build document with
// enforcing violations is denied before any stack launches.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy

	logger *telemetry.Logger
	events *telemetry.EventPublisher
}

// compiledPolicy pairs a policy with its prepared deny query.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies compiled.
func NewEngine(logger *telemetry.Logger, events *telemetry.EventPublisher) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.NewComponentLogger("policy"),
		events:   events,
	}

	for _, builtin := range BuiltinPolicies() {
		if err := e.compile(context.Background(), builtin); err != nil {
			return nil, fmt.Errorf("builtin policy %s: %w", builtin.Name, err)
		}
	}

	return e, nil
}

// LoadPaths loads and compiles policies from the given file or directory
// paths, overriding builtins of the same name.
func (e *Engine) LoadPaths(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	return e.Install(ctx, policies)
}

// Install compiles and registers the given policies.
func (e *Engine) Install(ctx context.Context, policies []Policy) error {
	for _, p := range policies {
		if err := e.compile(ctx, p); err != nil {
			return fmt.Errorf("policy %s: %w", p.Name, err)
		}
	}
	e.logger.WithField("count", len(policies)).Debug("Policies installed")
	return nil
}

// Evaluate runs every enabled policy against the build document. Advisory
// violations are logged; enforcing violations deny the build with a
// DeniedError listing all of them.
func (e *Engine) Evaluate(ctx context.Context, input map[string]interface{}) error {
	result, err := e.EvaluateBuild(ctx, input)
	if err != nil {
		return err
	}

	runID, _ := input["run_id"].(string)
	for _, warning := range result.Warnings {
		e.logger.WithRunID(runID).
			WithField("policy", warning.Policy).
			Warnf("Policy warning: %s", warning)
	}

	if result.Allowed {
		return nil
	}

	for _, violation := range result.Violations {
		e.events.PublishPolicyViolation(runID, violation.Policy, violation.String())
	}
	return &DeniedError{Violations: result.Violations}
}

// EvaluateBuild evaluates every enabled policy and returns the full result,
// advisory violations included.
func (e *Engine) EvaluateBuild(ctx context.Context, input map[string]interface{}) (*Result, error) {
	started := time.Now()

	e.mu.RLock()
	compiled := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			compiled = append(compiled, cp)
		}
	}
	e.mu.RUnlock()

	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].policy.Name < compiled[j].policy.Name
	})

	result := &Result{Allowed: true}
	for _, cp := range compiled {
		result.Evaluated = append(result.Evaluated, cp.policy.Name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", cp.policy.Name, err)
		}

		for _, v := range violations {
			if v.Severity.Enforcing() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.Duration = time.Since(started)
	e.logger.WithField("policies", len(result.Evaluated)).
		WithField("violations", len(result.Violations)).
		WithField("warnings", len(result.Warnings)).
		Debug("Build document evaluated")

	return result, nil
}

// evaluatePolicy runs one prepared deny query against the build document.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input map[string]interface{}) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, newViolation(cp.policy, d))
			}
		}
	}
	return violations, nil
}

// newViolation shapes one deny result. Policies may return a bare message
// string or an object with message, severity, and stack fields.
func newViolation(p *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if name, ok := v["stack"].(string); ok {
			violation.Stack = name
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compile parses the policy and prepares its deny query for reuse.
func (e *Engine) compile(ctx context.Context, p Policy) error {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	// data.<package>.deny
	query := module.Package.Path.String() + ".deny"

	prepared, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}

	policy := p
	e.mu.Lock()
	e.policies[policy.Name] = &compiledPolicy{
		policy:   &policy,
		query:    prepared,
		compiled: time.Now(),
	}
	e.mu.Unlock()

	e.logger.WithField("policy", policy.Name).Debug("Policy compiled")
	return nil
}

// Policies returns the registered policies sorted by name.
func (e *Engine) Policies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies
}

// SetEnabled toggles a policy by name.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	return nil
}
