package policy

import (
	"fmt"
	"strings"
	"time"
)

// Severity classifies how a violation affects the build.
type Severity string

const (
	// SeverityInfo is informational only.
	SeverityInfo Severity = "info"

	// SeverityWarning is advisory: logged, never blocking.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the build.
	SeverityError Severity = "error"

	// SeverityCritical blocks the build.
	SeverityCritical Severity = "critical"
)

// Enforcing reports whether violations at this severity deny the build.
func (s Severity) Enforcing() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is one Rego policy evaluated against the build document.
type Policy struct {
	// Name is the unique policy name.
	Name string `json:"name"`

	// Description is a human-readable summary.
	Description string `json:"description"`

	// Rego is the policy source. Its package must export a deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations the policy raises
	// without an explicit severity of their own.
	Severity Severity `json:"severity"`

	// Enabled policies participate in evaluation.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for builtins.
	Source string `json:"source,omitempty"`
}

// Violation is one deny result raised by a policy.
type Violation struct {
	// Policy is the name of the policy that raised the violation.
	Policy string `json:"policy"`

	// Stack is the config-relative stack name the violation concerns,
	// empty for build-wide violations.
	Stack string `json:"stack,omitempty"`

	// Message is the human-readable violation message.
	Message string `json:"message"`

	// Severity is the effective severity of this violation.
	Severity Severity `json:"severity"`
}

func (v Violation) String() string {
	if v.Stack != "" {
		return fmt.Sprintf("%s: stack %s: %s", v.Policy, v.Stack, v.Message)
	}
	return fmt.Sprintf("%s: %s", v.Policy, v.Message)
}

// Result is the outcome of evaluating every enabled policy against one
// build document.
type Result struct {
	// Allowed is false when any enforcing violation was raised.
	Allowed bool `json:"allowed"`

	// Violations are the enforcing violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are the advisory violations.
	Warnings []Violation `json:"warnings,omitempty"`

	// Evaluated lists the names of the policies that ran.
	Evaluated []string `json:"evaluated"`

	// Duration is the total evaluation time.
	Duration time.Duration `json:"duration"`
}

// DeniedError is returned when enforcing violations deny a build. It lists
// every violation so the operator can fix them in one pass.
type DeniedError struct {
	Violations []Violation
}

func (e *DeniedError) Error() string {
	messages := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		messages = append(messages, v.String())
	}
	return fmt.Sprintf("%d policy violation(s): %s",
		len(e.Violations), strings.Join(messages, "; "))
}
