// Package lookups implements deferred parameter values written as
// ${type arg} inside stack parameter strings. Lookup extraction happens at
// config load time (output lookups contribute dependency edges); resolution
// happens during each stack's resolve step at launch time.
package lookups

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Built-in lookup types.
const (
	// TypeOutput resolves an output of another stack in the build:
	// ${output stackname::OutputName}.
	TypeOutput = "output"

	// TypeFile resolves to the whitespace-trimmed contents of a local file:
	// ${file path/to/file}.
	TypeFile = "file"

	// TypeEnv resolves a process environment variable and errors when the
	// variable is unset: ${env NAME}.
	TypeEnv = "env"

	// TypeDefault resolves an environment-file variable with a literal
	// fallback for when the key is absent: ${default key::fallback}.
	TypeDefault = "default"
)

var lookupPattern = regexp.MustCompile(`\$\{([a-z]+)\s+([^}]+?)\}`)

// Lookup is a single parsed ${type arg} occurrence.
type Lookup struct {
	// Type is the lookup type name.
	Type string

	// Input is the argument text between the type and the closing brace.
	Input string

	// Raw is the full matched text, including the ${} delimiters.
	Raw string
}

// Extract parses every lookup in a string. Strings without lookups return nil.
func Extract(value string) []Lookup {
	matches := lookupPattern.FindAllStringSubmatch(value, -1)
	if len(matches) == 0 {
		return nil
	}

	lookups := make([]Lookup, 0, len(matches))
	for _, m := range matches {
		lookups = append(lookups, Lookup{
			Type:  m[1],
			Input: strings.TrimSpace(m[2]),
			Raw:   m[0],
		})
	}
	return lookups
}

// ExtractStackNames returns the names of stacks referenced by output lookups
// in a string. These names feed the effective requires set of the stack that
// declares the value.
func ExtractStackNames(value string) []string {
	var names []string
	seen := make(map[string]bool)

	for _, l := range Extract(value) {
		if l.Type != TypeOutput {
			continue
		}
		name, _, err := splitOutputInput(l.Input)
		if err != nil {
			continue
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// OutputFetcher retrieves a single output value of a named stack. The name is
// the config-relative stack name; the caller maps it to a fully-qualified
// name before hitting the provider.
type OutputFetcher func(ctx context.Context, stackName, outputName string) (string, error)

// Env carries the resolution environment shared by all lookups of one build.
type Env struct {
	// Outputs fetches deployed stack outputs for output lookups.
	Outputs OutputFetcher

	// Vars are the environment-file variables for default lookups.
	Vars map[string]string
}

// Resolver resolves a single lookup input to its final string value.
type Resolver func(ctx context.Context, input string, env *Env) (string, error)

// Registry maps lookup type names to resolvers.
type Registry struct {
	resolvers map[string]Resolver
}

// NewRegistry creates a registry with the built-in lookup types registered.
func NewRegistry() *Registry {
	r := &Registry{resolvers: make(map[string]Resolver)}
	r.Register(TypeOutput, resolveOutput)
	r.Register(TypeFile, resolveFile)
	r.Register(TypeEnv, resolveEnv)
	r.Register(TypeDefault, resolveDefault)
	return r
}

// Register adds or replaces a resolver for a lookup type.
func (r *Registry) Register(typ string, resolver Resolver) {
	r.resolvers[typ] = resolver
}

// ResolveString substitutes every lookup in value. A string with no lookups
// is returned unchanged. An unresolvable lookup fails the whole string.
func (r *Registry) ResolveString(ctx context.Context, value string, env *Env) (string, error) {
	lookups := Extract(value)
	if len(lookups) == 0 {
		return value, nil
	}

	resolved := value
	for _, l := range lookups {
		resolver, ok := r.resolvers[l.Type]
		if !ok {
			return "", fmt.Errorf("unknown lookup type %q in %q", l.Type, l.Raw)
		}

		out, err := resolver(ctx, l.Input, env)
		if err != nil {
			return "", fmt.Errorf("lookup %q: %w", l.Raw, err)
		}
		resolved = strings.Replace(resolved, l.Raw, out, 1)
	}
	return resolved, nil
}

// splitOutputInput parses "stackname::OutputName".
func splitOutputInput(input string) (stack, output string, err error) {
	parts := strings.SplitN(input, "::", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("output lookup input must be stackname::OutputName, got %q", input)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

func resolveOutput(ctx context.Context, input string, env *Env) (string, error) {
	if env == nil || env.Outputs == nil {
		return "", fmt.Errorf("no output fetcher configured")
	}

	name, output, err := splitOutputInput(input)
	if err != nil {
		return "", err
	}
	return env.Outputs(ctx, name, output)
}

func resolveFile(_ context.Context, input string, _ *Env) (string, error) {
	data, err := os.ReadFile(input)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func resolveEnv(_ context.Context, input string, _ *Env) (string, error) {
	value, ok := os.LookupEnv(input)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", input)
	}
	return value, nil
}

func resolveDefault(_ context.Context, input string, env *Env) (string, error) {
	parts := strings.SplitN(input, "::", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("default lookup input must be key::fallback, got %q", input)
	}

	key, fallback := strings.TrimSpace(parts[0]), parts[1]
	if env != nil {
		if value, ok := env.Vars[key]; ok {
			return value, nil
		}
	}
	return fallback, nil
}
