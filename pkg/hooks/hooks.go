// Package hooks runs the user-supplied actions attached to a build: external
// commands and Starlark scripts, executed before the plan starts and after it
// finishes.
package hooks

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Build stages hooks can attach to.
const (
	StagePreBuild  = "pre_build"
	StagePostBuild = "post_build"
)

// Kind discriminates how a hook is executed.
type Kind string

const (
	// KindCommand runs an external program.
	KindCommand Kind = "command"

	// KindStarlark evaluates a Starlark script in-process.
	KindStarlark Kind = "starlark"
)

// DefaultTimeout bounds a hook that declares no timeout of its own.
const DefaultTimeout = 5 * time.Minute

// Hook is one user-supplied action attached to a build stage.
type Hook struct {
	// Name identifies the hook in logs and errors.
	Name string `yaml:"name" validate:"required"`

	// Kind selects the execution mechanism.
	Kind Kind `yaml:"kind" validate:"required,oneof=command starlark"`

	// Run is the program to execute for command hooks.
	Run string `yaml:"run,omitempty"`

	// Script is the Starlark script path for starlark hooks.
	Script string `yaml:"script,omitempty"`

	// Args are extra arguments passed to command hooks.
	Args []string `yaml:"args,omitempty"`

	// Env are extra environment variables for command hooks.
	Env map[string]string `yaml:"env,omitempty"`

	// Timeout bounds a single execution. Zero means DefaultTimeout.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Required defaults to true; a failing required hook aborts the build,
	// a failing optional hook is logged and skipped.
	Required *bool `yaml:"required,omitempty"`

	// Enabled defaults to true; a disabled hook is never executed.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsRequired resolves the Required default.
func (h *Hook) IsRequired() bool {
	return h.Required == nil || *h.Required
}

// IsEnabled resolves the Enabled default.
func (h *Hook) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// Validate checks the kind-specific fields the struct tags cannot express.
func (h *Hook) Validate() error {
	switch h.Kind {
	case KindCommand:
		if h.Run == "" {
			return fmt.Errorf("hook %s: command hooks need run", h.Name)
		}
	case KindStarlark:
		if h.Script == "" {
			return fmt.Errorf("hook %s: starlark hooks need script", h.Name)
		}
	default:
		return fmt.Errorf("hook %s: unknown kind %q", h.Name, h.Kind)
	}
	return nil
}

func (h *Hook) timeout() time.Duration {
	if h.Timeout > 0 {
		return h.Timeout
	}
	return DefaultTimeout
}

// commandEnv builds the environment for a command hook: the process
// environment, the hook's own variables, and the stage data as JSON under
// MASON_HOOK_DATA.
func commandEnv(h *Hook, stage string, data map[string]interface{}) ([]string, error) {
	env := os.Environ()
	env = append(env, "MASON_HOOK_STAGE="+stage)

	for k, v := range h.Env {
		env = append(env, k+"="+v)
	}

	if len(data) > 0 {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode hook data: %w", err)
		}
		env = append(env, "MASON_HOOK_DATA="+string(encoded))
	}

	return env, nil
}

// newCommand is a seam for tests; production uses exec.CommandContext.
var newCommand = exec.CommandContext
