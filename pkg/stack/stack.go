// Package stack models one deployable stack of a build: its definition from
// the config, its blueprint, its effective dependencies, and the lookup
// resolution that turns declared parameter values into submit-ready strings.
package stack

import (
	"context"
	"fmt"
	"sort"

	"github.com/stackmason/stackmason/pkg/blueprint"
	"github.com/stackmason/stackmason/pkg/config"
	"github.com/stackmason/stackmason/pkg/lookups"
)

// Stack is one deployable stack of a build.
type Stack struct {
	// Name is the config-relative stack name.
	Name string

	// FQN is the fully-qualified deployed name, namespace-name.
	FQN string

	// Blueprint is the parsed template.
	Blueprint *blueprint.Blueprint

	// Parameters are the declared parameter values, before lookup resolution.
	Parameters map[string]interface{}

	// Tags is the effective tag set: build tags overlaid with stack tags.
	Tags map[string]string

	// Locked stacks refuse updates unless forced.
	Locked bool

	// Enabled stacks participate in the build; disabled stacks are skipped
	// without provider contact.
	Enabled bool

	// Forced marks a locked stack that may be updated this run.
	Forced bool

	requires map[string]bool
}

// New builds a Stack from its definition, loading the blueprint from the
// definition's template path.
func New(buildCtx *Context, def *config.StackDefinition) (*Stack, error) {
	bp, err := blueprint.Load(def.Name, def.TemplatePath)
	if err != nil {
		return nil, fmt.Errorf("stack %s: %w", def.Name, err)
	}
	return FromBlueprint(buildCtx, def, bp), nil
}

// FromBlueprint builds a Stack from its definition and an already-parsed
// blueprint.
func FromBlueprint(buildCtx *Context, def *config.StackDefinition, bp *blueprint.Blueprint) *Stack {
	tags := make(map[string]string, len(buildCtx.Tags)+len(def.Tags))
	for k, v := range buildCtx.Tags {
		tags[k] = v
	}
	for k, v := range def.Tags {
		tags[k] = v
	}

	requires := make(map[string]bool, len(def.Requires))
	for _, name := range def.Requires {
		requires[name] = true
	}
	for _, value := range def.Parameters {
		for _, str := range lookupStrings(value) {
			for _, name := range lookups.ExtractStackNames(str) {
				requires[name] = true
			}
		}
	}
	delete(requires, def.Name)

	return &Stack{
		Name:       def.Name,
		FQN:        buildCtx.FQN(def.Name),
		Blueprint:  bp,
		Parameters: def.Parameters,
		Tags:       tags,
		Locked:     def.Locked,
		Enabled:    def.IsEnabled(),
		Forced:     buildCtx.Forced(def.Name),
		requires:   requires,
	}
}

// Requires returns the sorted effective dependency set: declared requires
// plus the stacks referenced by output lookups in parameter values.
func (s *Stack) Requires() []string {
	names := make([]string, 0, len(s.requires))
	for name := range s.requires {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DependsOn returns true when name is in the effective dependency set.
func (s *Stack) DependsOn(name string) bool {
	return s.requires[name]
}

// Resolve substitutes lookups in the stack's string parameter values,
// including string items inside list values. Other value types pass through
// untouched; type coercion to wire strings is the launch step's concern.
func (s *Stack) Resolve(ctx context.Context, registry *lookups.Registry, env *lookups.Env) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(s.Parameters))

	for key, value := range s.Parameters {
		out, err := resolveValue(ctx, registry, env, value)
		if err != nil {
			return nil, fmt.Errorf("stack %s parameter %s: %w", s.Name, key, err)
		}
		resolved[key] = out
	}

	return resolved, nil
}

// resolveValue resolves one parameter value, descending into list items so a
// lookup inside a list is settled before the wire-string join.
func resolveValue(ctx context.Context, registry *lookups.Registry, env *lookups.Env, value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return registry.ResolveString(ctx, v, env)
	case []interface{}:
		items := make([]interface{}, len(v))
		for i, item := range v {
			out, err := resolveValue(ctx, registry, env, item)
			if err != nil {
				return nil, err
			}
			items[i] = out
		}
		return items, nil
	default:
		return value, nil
	}
}

// lookupStrings collects the string values inside a parameter value that may
// carry lookups: the value itself or any list items, nested lists included.
func lookupStrings(value interface{}) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []interface{}:
		var out []string
		for _, item := range v {
			out = append(out, lookupStrings(item)...)
		}
		return out
	default:
		return nil
	}
}
