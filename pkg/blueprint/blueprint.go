// Package blueprint loads and validates the CloudFormation template that
// defines a stack's declared parameters. Declared parameters come from the
// template's Parameters section; a parameter with no Default is required.
package blueprint

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ParameterDefinition describes one declared template parameter.
type ParameterDefinition struct {
	// Type is the provider parameter type (String, Number, ...).
	Type string `yaml:"Type" json:"type"`

	// Default is the declared default value, nil when absent.
	Default *string `yaml:"Default" json:"default,omitempty"`

	// Description is the declared parameter description.
	Description string `yaml:"Description" json:"description,omitempty"`

	// NoEcho marks parameters whose values must not be echoed back.
	NoEcho bool `yaml:"NoEcho" json:"no_echo,omitempty"`
}

// Required returns true when the parameter declares no default and must be
// supplied (or recovered from the deployed stack) before submission.
func (d ParameterDefinition) Required() bool {
	return d.Default == nil
}

// Blueprint is a parsed template owned by exactly one stack.
type Blueprint struct {
	// Name is the owning stack's config-relative name.
	Name string

	// Path is the template file path the blueprint was loaded from.
	Path string

	// parameters are the declared parameter definitions, keyed by name.
	parameters map[string]ParameterDefinition

	// body is the raw template document as authored.
	body []byte
}

// templateDocument is the subset of a CloudFormation template the blueprint
// needs. yaml.v3 also accepts JSON templates, so one decoder covers both.
type templateDocument struct {
	AWSTemplateFormatVersion string                         `yaml:"AWSTemplateFormatVersion"`
	Description              string                         `yaml:"Description"`
	Parameters               map[string]ParameterDefinition `yaml:"Parameters"`
	Resources                map[string]yaml.Node           `yaml:"Resources"`
	Outputs                  map[string]yaml.Node           `yaml:"Outputs"`
}

// Load reads and parses a template file into a Blueprint for the named stack.
func Load(name, path string) (*Blueprint, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", path, err)
	}

	bp, err := Parse(name, body)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	bp.Path = path
	return bp, nil
}

// Parse parses a raw template document into a Blueprint.
func Parse(name string, body []byte) (*Blueprint, error) {
	var doc templateDocument
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode template: %w", err)
	}

	if len(doc.Resources) == 0 {
		return nil, fmt.Errorf("template declares no resources")
	}

	if err := validateTemplate(body); err != nil {
		return nil, err
	}

	params := make(map[string]ParameterDefinition, len(doc.Parameters))
	for key, def := range doc.Parameters {
		params[key] = def
	}

	return &Blueprint{
		Name:       name,
		parameters: params,
		body:       body,
	}, nil
}

// Body returns the raw template document.
func (b *Blueprint) Body() []byte {
	return b.body
}

// ParameterDefinitions returns all declared parameters keyed by name.
func (b *Blueprint) ParameterDefinitions() map[string]ParameterDefinition {
	return b.parameters
}

// RequiredParameterNames returns the sorted names of parameters that declare
// no default.
func (b *Blueprint) RequiredParameterNames() []string {
	var names []string
	for key, def := range b.parameters {
		if def.Required() {
			names = append(names, key)
		}
	}
	sort.Strings(names)
	return names
}

// Declares returns true when the template declares the named parameter.
func (b *Blueprint) Declares(key string) bool {
	_, ok := b.parameters[key]
	return ok
}
