package config

import (
	"github.com/stackmason/stackmason/pkg/hooks"
)

// Config is the decoded build configuration: a namespace, build-wide tags,
// the stack definitions, and the pre/post build hook lists.
type Config struct {
	// Namespace prefixes every stack name to form its fully-qualified name
	// and contributes the default tag set.
	Namespace string `yaml:"namespace" validate:"required"`

	// Region is the provider region for this build, if any.
	Region string `yaml:"region,omitempty"`

	// Bucket is the template storage bucket. When empty, templates small
	// enough for inline submission are sent by body.
	Bucket string `yaml:"mason_bucket,omitempty"`

	// BucketPrefix is the object key prefix for pushed templates.
	BucketPrefix string `yaml:"mason_bucket_prefix,omitempty"`

	// Tags are merged over the default namespace tag and attached to every
	// stack.
	Tags map[string]string `yaml:"tags,omitempty"`

	// PreBuild hooks run before plan execution.
	PreBuild []hooks.Hook `yaml:"pre_build,omitempty" validate:"dive"`

	// PostBuild hooks run after plan execution.
	PostBuild []hooks.Hook `yaml:"post_build,omitempty" validate:"dive"`

	// PolicyPaths are extra Rego policy files or directories evaluated
	// against the build document before execution.
	PolicyPaths []string `yaml:"policy_paths,omitempty"`

	// Stacks are the stack definitions of this build.
	Stacks []StackDefinition `yaml:"stacks" validate:"required,min=1,dive"`

	// Vars are the merged environment-file variables the config was
	// interpolated with. Populated by the loader, not the YAML document.
	Vars map[string]string `yaml:"-"`
}

// StackDefinition declares one stack of the build.
type StackDefinition struct {
	// Name is the config-relative stack name, unique within the build.
	Name string `yaml:"name" validate:"required"`

	// TemplatePath is the path to the stack's template document.
	TemplatePath string `yaml:"template_path" validate:"required"`

	// Parameters are the supplied parameter values. String values may
	// contain ${type arg} lookups resolved at launch time.
	Parameters map[string]interface{} `yaml:"parameters,omitempty"`

	// Requires lists stack names that must complete before this one runs.
	// Output lookups in Parameters contribute additional entries.
	Requires []string `yaml:"requires,omitempty"`

	// Locked refuses updates unless the stack is in the build's force set.
	Locked bool `yaml:"locked,omitempty"`

	// Enabled defaults to true; a disabled stack is skipped without any
	// provider contact.
	Enabled *bool `yaml:"enabled,omitempty"`

	// Tags are stack-specific tags merged over the build-wide set.
	Tags map[string]string `yaml:"tags,omitempty"`
}

// IsEnabled resolves the Enabled default.
func (d *StackDefinition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}
