package policy

// BuiltinPolicies returns the policies compiled into every engine. They
// express the governance rules a build document must satisfy before any
// stack launches; operators extend them with policy_paths in the config.
func BuiltinPolicies() []Policy {
	return []Policy{
		stackNamingPolicy(),
		namespaceTagPolicy(),
		disabledDependencyPolicy(),
		forcedLockedPolicy(),
	}
}

// stackNamingPolicy enforces stack naming conventions.
func stackNamingPolicy() Policy {
	return Policy{
		Name:        "stack-naming",
		Description: "Stack names are lowercase alphanumerics and hyphens, no leading or trailing hyphen",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package mason.policies.naming

import rego.v1

deny contains violation if {
	some s in input.stacks
	not regex.match("^[a-z0-9-]+$", s.name)
	violation := {
		"message": sprintf("stack name %q must contain only lowercase letters, numbers, and hyphens", [s.name]),
		"severity": "error",
		"stack": s.name,
	}
}

deny contains violation if {
	some s in input.stacks
	regex.match("^-|-$", s.name)
	violation := {
		"message": sprintf("stack name %q must not start or end with a hyphen", [s.name]),
		"severity": "error",
		"stack": s.name,
	}
}

deny contains violation if {
	some s in input.stacks
	count(s.fqn) > 128
	violation := {
		"message": sprintf("deployed name %q exceeds 128 characters", [s.fqn]),
		"severity": "error",
		"stack": s.name,
	}
}`,
	}
}

// namespaceTagPolicy ensures every stack carries the namespace tag.
func namespaceTagPolicy() Policy {
	return Policy{
		Name:        "namespace-tag",
		Description: "Every stack carries the mason:namespace tag matching the build namespace",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"tags", "namespace"},
		Rego: `package mason.policies.namespace

import rego.v1

deny contains violation if {
	some s in input.stacks
	not s.tags["mason:namespace"]
	violation := {
		"message": sprintf("stack %q is missing the mason:namespace tag", [s.name]),
		"severity": "error",
		"stack": s.name,
	}
}

deny contains violation if {
	some s in input.stacks
	tag := s.tags["mason:namespace"]
	tag != input.namespace
	violation := {
		"message": sprintf("stack %q namespace tag %q does not match build namespace %q", [s.name, tag, input.namespace]),
		"severity": "error",
		"stack": s.name,
	}
}`,
	}
}

// disabledDependencyPolicy denies builds where an enabled stack depends on
// a disabled one; the dependent would launch against outputs that may never
// materialize.
func disabledDependencyPolicy() Policy {
	return Policy{
		Name:        "disabled-dependency",
		Description: "An enabled stack must not require a disabled stack",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"dependencies", "safety"},
		Rego: `package mason.policies.dependencies

import rego.v1

deny contains violation if {
	some s in input.stacks
	s.enabled
	some req in s.requires
	some dep in input.stacks
	dep.name == req
	not dep.enabled
	violation := {
		"message": sprintf("stack %q requires disabled stack %q", [s.name, dep.name]),
		"severity": "error",
		"stack": s.name,
	}
}`,
	}
}

// forcedLockedPolicy warns when a locked stack will be updated this run.
func forcedLockedPolicy() Policy {
	return Policy{
		Name:        "forced-locked",
		Description: "Warns when a locked stack is forced into this run",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"locking", "safety"},
		Rego: `package mason.policies.locking

import rego.v1

deny contains violation if {
	some s in input.stacks
	s.locked
	s.forced
	violation := {
		"message": sprintf("locked stack %q will be updated because it was forced", [s.name]),
		"severity": "warning",
		"stack": s.name,
	}
}`,
	}
}
