package stack

import (
	"sort"

	"github.com/stackmason/stackmason/pkg/config"
)

// NamespaceTag is attached to every stack so deployed stacks can be traced
// back to the build that owns them.
const NamespaceTag = "mason:namespace"

// Context carries the build-wide settings every stack shares: the namespace,
// the merged tag base, the force and target sets, and the environment-file
// variables.
type Context struct {
	// Namespace prefixes stack names to form fully-qualified names.
	Namespace string

	// Tags is the build-wide tag base: the namespace tag overlaid with the
	// config's tags.
	Tags map[string]string

	// Vars are the environment-file variables the config was loaded with.
	Vars map[string]string

	force   map[string]bool
	targets map[string]bool
}

// NewContext builds a Context from a loaded config. Force names locked stacks
// that may be updated this run; targets restricts the build to the named
// stacks and their transitive dependencies.
func NewContext(cfg *config.Config, force, targets []string) *Context {
	tags := map[string]string{NamespaceTag: cfg.Namespace}
	for k, v := range cfg.Tags {
		tags[k] = v
	}

	return &Context{
		Namespace: cfg.Namespace,
		Tags:      tags,
		Vars:      cfg.Vars,
		force:     toSet(force),
		targets:   toSet(targets),
	}
}

// FQN maps a config-relative stack name to its fully-qualified name. A stack
// name that already carries the namespace prefix is returned unchanged, so
// external stacks can be referenced by their full name.
func (c *Context) FQN(name string) string {
	if c.Namespace == "" {
		return name
	}
	prefix := c.Namespace + "-"
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		return name
	}
	return prefix + name
}

// Forced returns true when the named stack is in the force set.
func (c *Context) Forced(name string) bool {
	return c.force[name]
}

// Targeted returns true when the build has no target restriction or the named
// stack is in the target set.
func (c *Context) Targeted(name string) bool {
	return len(c.targets) == 0 || c.targets[name]
}

// TargetNames returns the sorted target set, empty when unrestricted.
func (c *Context) TargetNames() []string {
	names := make([]string, 0, len(c.targets))
	for name := range c.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}
