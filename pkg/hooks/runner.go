package hooks

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/stackmason/stackmason/pkg/telemetry"
)

// Runner executes the hooks of a build stage in declaration order.
type Runner struct {
	logger    *telemetry.Logger
	metrics   *telemetry.Metrics
	evaluator *Evaluator
}

// NewRunner creates a hook runner.
func NewRunner(logger *telemetry.Logger, metrics *telemetry.Metrics) *Runner {
	return &Runner{
		logger:    logger.NewComponentLogger("hooks"),
		metrics:   metrics,
		evaluator: NewEvaluator(0),
	}
}

// Handle runs every enabled hook of the stage. A failing required hook stops
// the stage and returns the error; a failing optional hook is logged and the
// remaining hooks still run.
func (r *Runner) Handle(ctx context.Context, stage string, hooks []Hook, data map[string]interface{}) error {
	for i := range hooks {
		hook := &hooks[i]
		log := r.logger.WithField("hook", hook.Name).WithField("stage", stage)

		if !hook.IsEnabled() {
			log.Debug("hook disabled, skipping")
			r.metrics.RecordHookExecution(stage, string(hook.Kind), "skipped")
			continue
		}

		log.Info("running hook")
		err := r.run(ctx, stage, hook, data)
		if err == nil {
			r.metrics.RecordHookExecution(stage, string(hook.Kind), "success")
			continue
		}

		r.metrics.RecordHookExecution(stage, string(hook.Kind), "failure")
		if hook.IsRequired() {
			return fmt.Errorf("%s hook %s failed: %w", stage, hook.Name, err)
		}
		log.WithError(err).Warn("optional hook failed, continuing")
	}
	return nil
}

func (r *Runner) run(ctx context.Context, stage string, hook *Hook, data map[string]interface{}) error {
	if err := hook.Validate(); err != nil {
		return err
	}

	switch hook.Kind {
	case KindCommand:
		return r.runCommand(ctx, stage, hook, data)
	case KindStarlark:
		return r.runStarlark(ctx, hook, data)
	default:
		return fmt.Errorf("unknown hook kind %q", hook.Kind)
	}
}

func (r *Runner) runCommand(ctx context.Context, stage string, hook *Hook, data map[string]interface{}) error {
	runCtx, cancel := context.WithTimeout(ctx, hook.timeout())
	defer cancel()

	env, err := commandEnv(hook, stage, data)
	if err != nil {
		return err
	}

	cmd := newCommand(runCtx, hook.Run, hook.Args...)
	cmd.Env = env

	output, err := cmd.CombinedOutput()
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("timed out after %s", hook.timeout())
		}
		trimmed := strings.TrimSpace(string(output))
		if trimmed != "" {
			return fmt.Errorf("%w: %s", err, trimmed)
		}
		return err
	}
	return nil
}

// runStarlark evaluates the hook script. A script fails by raising an error
// or by assigning success = False.
func (r *Runner) runStarlark(ctx context.Context, hook *Hook, data map[string]interface{}) error {
	script, err := os.ReadFile(hook.Script)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", hook.Script, err)
	}

	evalCtx, cancel := context.WithTimeout(ctx, hook.timeout())
	defer cancel()

	result, err := r.evaluator.Evaluate(evalCtx, hook.Name, string(script), data)
	if err != nil {
		return err
	}

	if success, ok := result.Output["success"].(bool); ok && !success {
		return fmt.Errorf("script reported failure")
	}
	return nil
}
