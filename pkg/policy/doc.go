// Package policy gates builds with Open Policy Agent.
//
// Before any stack launches, the build document (namespace plus the planned
// stacks with their flags, tags, and dependency edges) is evaluated against
// every enabled Rego policy. Violations at error or critical severity deny
// the build; warning and info violations are logged and the build proceeds.
//
// Policies export a deny set keyed under their package:
//
//	package mason.policies.backup
//
//	import rego.v1
//
//	deny contains violation if {
//		some s in input.stacks
//		s.tags.env == "production"
//		not s.tags.backup
//		violation := {
//			"message": sprintf("production stack %q must carry a backup tag", [s.name]),
//			"severity": "error",
//			"stack": s.name,
//		}
//	}
//
// A deny result may be a bare message string or an object carrying message,
// severity, and stack fields; omitted fields fall back to the policy's
// defaults.
//
// Built-in policies cover naming conventions, the namespace tag, disabled
// dependencies, and forced locked stacks. Custom policies load from the
// config's policy_paths as .rego source (with optional "# description:" and
// "# severity:" comment headers) or as full JSON policy documents. The
// loader can watch those paths and hot-reload on change.
//
// Queries are prepared once per policy and reused across evaluations.
package policy
