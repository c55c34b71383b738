package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stackmason/stackmason/pkg/config"
	"github.com/stackmason/stackmason/pkg/hooks"
	"github.com/stackmason/stackmason/pkg/plan"
	"github.com/stackmason/stackmason/pkg/stack"
	"github.com/stackmason/stackmason/pkg/telemetry"
)

// PolicyGate evaluates the build document before any stack launches. A
// non-nil error denies the build.
type PolicyGate interface {
	Evaluate(ctx context.Context, input map[string]interface{}) error
}

// RunStore records build run history.
type RunStore interface {
	// StartRun records the beginning of a build run.
	StartRun(ctx context.Context, runID, namespace string, stacks []string) error

	// RecordStackResult records one stack's terminal result within a run.
	RecordStackResult(ctx context.Context, runID, name, fqn, status, failure string, started, completed time.Time) error

	// FinishRun records the run's final status.
	FinishRun(ctx context.Context, runID, status string) error
}

// BuildOptions control one build invocation.
type BuildOptions struct {
	// Outline logs the ordered plan without side effects.
	Outline bool

	// DumpDir, when set, serializes each stack's template and parameters to
	// the directory instead of contacting the provider.
	DumpDir string

	// Tail streams provider-side stack events while launches run.
	Tail bool

	// Targets restricts the build to the named stacks and their transitive
	// dependencies.
	Targets []string

	// MaxParallel caps concurrent stack launches. Zero means the executor
	// default.
	MaxParallel int

	// PollInterval is the event-tail poll cadence. Zero means the executor
	// default.
	PollInterval time.Duration
}

// BuildConfig wires a build's collaborators.
type BuildConfig struct {
	Config    *config.Config
	Context   *stack.Context
	Stacks    []*stack.Stack
	Provider  Provider
	Publisher TemplatePublisher
	Hooks     *hooks.Runner
	Policy    PolicyGate // optional
	Store     RunStore   // optional
	Logger    *telemetry.Logger
	Metrics   *telemetry.Metrics
	Events    *telemetry.EventPublisher
	Options   BuildOptions
}

// Run statuses recorded in the history store.
const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// BuildAction is the top-level build orchestrator. Its lifecycle is PreRun,
// Run, PostRun, then Cleanup; Cleanup runs unconditionally, on failure and
// cancel included. Execute sequences all four.
type BuildAction struct {
	cfg      *config.Config
	buildCtx *stack.Context
	stacks   []*stack.Stack

	provider  Provider
	publisher TemplatePublisher
	hooks     *hooks.Runner
	policy    PolicyGate
	store     RunStore

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
	opts    BuildOptions

	runID   string
	started time.Time
	failed  bool

	mu       sync.Mutex
	statuses map[string]Status
}

// NewBuildAction creates a build orchestrator for one invocation.
func NewBuildAction(bc BuildConfig) *BuildAction {
	return &BuildAction{
		cfg:       bc.Config,
		buildCtx:  bc.Context,
		stacks:    bc.Stacks,
		provider:  bc.Provider,
		publisher: bc.Publisher,
		hooks:     bc.Hooks,
		policy:    bc.Policy,
		store:     bc.Store,
		logger:    bc.Logger.NewComponentLogger("build"),
		metrics:   bc.Metrics,
		events:    bc.Events,
		opts:      bc.Options,
		runID:     uuid.New().String(),
		statuses:  make(map[string]Status),
	}
}

// RunID returns the unique identifier of this build invocation.
func (a *BuildAction) RunID() string {
	return a.runID
}

// Statuses returns each completed stack's terminal status, keyed by
// config-relative name. Stacks that failed or were blocked are absent.
func (a *BuildAction) Statuses() map[string]Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]Status, len(a.statuses))
	for name, status := range a.statuses {
		out[name] = status
	}
	return out
}

// sideEffectFree reports whether this invocation must not contact the
// provider: outlines and dumps skip hooks and mutating calls entirely.
func (a *BuildAction) sideEffectFree() bool {
	return a.opts.Outline || a.opts.DumpDir != ""
}

// Execute sequences the full build lifecycle. Cleanup always runs, and its
// own failure never masks the build's.
func (a *BuildAction) Execute(ctx context.Context) error {
	runErr := a.PreRun(ctx)
	if runErr == nil {
		runErr = a.Run(ctx)
	}
	if runErr == nil {
		runErr = a.PostRun(ctx)
	}

	if cleanupErr := a.Cleanup(ctx); cleanupErr != nil && runErr == nil {
		runErr = cleanupErr
	}
	return runErr
}

// PreRun evaluates the policy gate and runs pre-build hooks. A hook or
// policy failure aborts the build before any stack launches.
func (a *BuildAction) PreRun(ctx context.Context) error {
	a.started = time.Now()
	log := a.logger.WithRunID(a.runID).WithNamespace(a.buildCtx.Namespace)
	log.Infof("build starting with %d stacks", len(a.stacks))

	a.metrics.RecordBuildStarted(a.buildCtx.Namespace)
	if !a.sideEffectFree() {
		a.events.PublishBuildStarted(a.runID, a.buildCtx.Namespace, len(a.stacks))
	}

	if a.policy != nil {
		if err := a.policy.Evaluate(ctx, a.policyInput()); err != nil {
			a.failed = true
			return NewPermanentError("build denied by policy", err).
				WithOperation("policy").WithCode(ErrCodePolicyDenied)
		}
	}

	if a.sideEffectFree() {
		return nil
	}

	if a.store != nil {
		names := make([]string, 0, len(a.stacks))
		for _, s := range a.stacks {
			names = append(names, s.Name)
		}
		if err := a.store.StartRun(ctx, a.runID, a.buildCtx.Namespace, names); err != nil {
			log.WithError(err).Warn("failed to record run start")
		}
	}

	if err := a.hooks.Handle(ctx, hooks.StagePreBuild, a.cfg.PreBuild, a.hookData()); err != nil {
		a.failed = true
		a.events.PublishHookFailed(a.runID, hooks.StagePreBuild, "", err.Error())
		return NewPermanentError("pre-build hooks failed", err).
			WithOperation(hooks.StagePreBuild).WithCode(ErrCodeHookFailed)
	}
	return nil
}

// Run generates the plan and either outlines it, dumps it, or executes it.
func (a *BuildAction) Run(ctx context.Context) error {
	launcher := NewLauncher(a.provider, a.publisher, a.buildCtx, a.logger, a.metrics, a.runID)

	record := func(name string, status Status) {
		a.mu.Lock()
		a.statuses[name] = status
		a.mu.Unlock()
	}

	runner := func(ctx context.Context, s *stack.Stack) (Status, error) {
		a.events.PublishStackStarted(a.runID, s.FQN)
		timer := telemetry.NewTimer()

		status, err := launcher.Launch(ctx, s)
		if err != nil {
			a.events.PublishStackFailed(a.runID, s.FQN, err.Error())
			return status, err
		}
		if status.Submitted() {
			launcher.InvalidateOutputs(s.FQN)
		}
		a.events.PublishStackCompleted(a.runID, s.FQN, status.String(), timer.Duration())
		return status, nil
	}

	description := fmt.Sprintf("build %s", a.buildCtx.Namespace)
	buildPlan, err := NewPlan(description, a.stacks, runner, record)
	if err != nil {
		a.failed = true
		return NewPermanentError("failed to build plan", err).
			WithOperation("plan").WithCode(ErrCodeValidation)
	}

	targets := a.opts.Targets
	if len(targets) == 0 {
		targets = a.buildCtx.TargetNames()
	}
	buildPlan, err = buildPlan.Prune(targets)
	if err != nil {
		a.failed = true
		return NewPermanentError("failed to restrict plan to targets", err).
			WithOperation("plan").WithCode(ErrCodeValidation)
	}

	switch {
	case a.opts.Outline:
		a.outline(buildPlan)
		return nil
	case a.opts.DumpDir != "":
		return a.dump(buildPlan)
	default:
		return a.execute(ctx, buildPlan)
	}
}

// PostRun runs post-build hooks. Launch side effects have already taken
// place; a failure here is still a build failure.
func (a *BuildAction) PostRun(ctx context.Context) error {
	if a.sideEffectFree() {
		return nil
	}

	if err := a.hooks.Handle(ctx, hooks.StagePostBuild, a.cfg.PostBuild, a.hookData()); err != nil {
		a.failed = true
		a.events.PublishHookFailed(a.runID, hooks.StagePostBuild, "", err.Error())
		return NewPermanentError("post-build hooks failed", err).
			WithOperation(hooks.StagePostBuild).WithCode(ErrCodeHookFailed)
	}
	return nil
}

// Cleanup releases the provider's ephemeral polling resources and finalizes
// run records. It runs even when the build failed or was cancelled, on a
// fresh context so a cancelled build still cleans up.
func (a *BuildAction) Cleanup(_ context.Context) error {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	status := RunStatusSucceeded
	if a.failed {
		status = RunStatusFailed
	}
	duration := time.Since(a.started)

	if !a.sideEffectFree() {
		if a.store != nil {
			if err := a.store.FinishRun(cleanupCtx, a.runID, status); err != nil {
				a.logger.WithError(err).Warn("failed to record run completion")
			}
		}
		if a.failed {
			a.events.PublishBuildFailed(a.runID, "build did not complete")
		} else {
			a.events.PublishBuildCompleted(a.runID, status, duration)
		}
	}
	a.metrics.RecordBuildCompleted(status, duration)

	if err := a.provider.Cleanup(cleanupCtx); err != nil {
		return NewTransientError("provider cleanup failed", err).
			WithOperation("cleanup").WithCode(ErrCodeProviderFailed)
	}
	return nil
}

// outline logs the ordered plan without touching the provider.
func (a *BuildAction) outline(p *plan.Plan) {
	log := a.logger.WithRunID(a.runID)
	log.Infof("plan outline: %s (%d stacks, depth %d)", p.Description, p.Len(), p.Depth())

	for _, step := range p.Outline() {
		if len(step.Requires) == 0 {
			log.Infof("level %d: %s", step.Level, step.Key)
			continue
		}
		log.Infof("level %d: %s (requires %v)", step.Level, step.Key, step.Requires)
	}
}

// dump writes each planned stack's template body and declared parameters to
// the dump directory. Lookups stay unresolved: resolving them would require
// provider calls, which dump mode must not make.
func (a *BuildAction) dump(p *plan.Plan) error {
	planned := make(map[string]bool)
	for _, key := range p.Keys() {
		planned[key] = true
	}

	if err := os.MkdirAll(a.opts.DumpDir, 0o755); err != nil {
		return fmt.Errorf("failed to create dump directory: %w", err)
	}

	for _, s := range a.stacks {
		if !planned[s.Name] {
			continue
		}

		templatePath := filepath.Join(a.opts.DumpDir, s.FQN+".yaml")
		if err := os.WriteFile(templatePath, s.Blueprint.Body(), 0o644); err != nil {
			return fmt.Errorf("failed to dump template for %s: %w", s.FQN, err)
		}

		doc := map[string]interface{}{
			"fqn":        s.FQN,
			"parameters": s.Parameters,
			"tags":       s.Tags,
			"requires":   s.Requires(),
		}
		encoded, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode parameters for %s: %w", s.FQN, err)
		}
		paramsPath := filepath.Join(a.opts.DumpDir, s.FQN+".json")
		if err := os.WriteFile(paramsPath, encoded, 0o644); err != nil {
			return fmt.Errorf("failed to dump parameters for %s: %w", s.FQN, err)
		}

		a.logger.WithStack(s.FQN).Infof("dumped to %s", templatePath)
	}
	return nil
}

// execute runs the plan against the provider, recording per-stack results.
func (a *BuildAction) execute(ctx context.Context, p *plan.Plan) error {
	execOpts := plan.ExecuteOptions{
		MaxParallel:  a.opts.MaxParallel,
		PollInterval: a.opts.PollInterval,
	}
	if a.opts.Tail {
		tailer := newEventTailer(a.provider, a.events, a.logger, a.runID, a.started)
		execOpts.Poll = func(ctx context.Context, key string) {
			tailer.poll(ctx, a.fqnOf(key))
		}
	}

	results, execErr := p.Execute(ctx, execOpts)
	a.recordResults(ctx, results)

	if execErr != nil {
		a.failed = true
		var failedKeys []string
		for key, result := range results {
			if result.Err != nil || result.Blocked {
				failedKeys = append(failedKeys, key)
			}
		}
		sort.Strings(failedKeys)

		// Carry every stack's own failure in the returned error so callers
		// see why each stack failed, not just which ones did. Blocked stacks
		// contribute no cause of their own.
		causes := make([]error, 0, len(failedKeys))
		for _, key := range failedKeys {
			result := results[key]
			if result.Err == nil {
				continue
			}
			a.logger.WithRunID(a.runID).WithStack(a.fqnOf(key)).
				WithError(result.Err).Error("stack failed")
			causes = append(causes, fmt.Errorf("%s: %w", key, result.Err))
		}
		if len(causes) == 0 {
			causes = append(causes, execErr)
		}

		return NewPermanentError(
			fmt.Sprintf("build failed for stacks: %v", failedKeys), errors.Join(causes...)).
			WithOperation("execute")
	}
	return nil
}

// recordResults persists every step's outcome to the history store.
func (a *BuildAction) recordResults(ctx context.Context, results map[string]*plan.Result) {
	if a.store == nil {
		return
	}

	for key, result := range results {
		status := result.Status
		failure := ""
		switch {
		case result.Blocked:
			status = "blocked"
		case result.Err != nil:
			status = "failed"
			failure = result.Err.Error()
		}

		err := a.store.RecordStackResult(ctx, a.runID, key, a.fqnOf(key),
			status, failure, result.Started, result.Completed)
		if err != nil {
			a.logger.WithStack(key).WithError(err).Warn("failed to record stack result")
		}
	}
}

func (a *BuildAction) fqnOf(name string) string {
	return a.buildCtx.FQN(name)
}

// hookData is the document passed to pre/post build hooks.
func (a *BuildAction) hookData() map[string]interface{} {
	names := make([]interface{}, 0, len(a.stacks))
	for _, s := range a.stacks {
		names = append(names, s.Name)
	}
	return map[string]interface{}{
		"run_id":    a.runID,
		"namespace": a.buildCtx.Namespace,
		"stacks":    names,
	}
}

// policyInput is the document the policy gate evaluates.
func (a *BuildAction) policyInput() map[string]interface{} {
	stacks := make([]interface{}, 0, len(a.stacks))
	for _, s := range a.stacks {
		tags := make(map[string]interface{}, len(s.Tags))
		for k, v := range s.Tags {
			tags[k] = v
		}
		requires := make([]interface{}, 0, len(s.Requires()))
		for _, r := range s.Requires() {
			requires = append(requires, r)
		}
		stacks = append(stacks, map[string]interface{}{
			"name":     s.Name,
			"fqn":      s.FQN,
			"locked":   s.Locked,
			"enabled":  s.Enabled,
			"forced":   s.Forced,
			"requires": requires,
			"tags":     tags,
		})
	}
	return map[string]interface{}{
		"run_id":    a.runID,
		"namespace": a.buildCtx.Namespace,
		"stacks":    stacks,
	}
}

// eventTailer streams provider-side stack events, delivering each event once.
type eventTailer struct {
	provider Provider
	events   *telemetry.EventPublisher
	logger   *telemetry.Logger
	runID    string

	mu    sync.Mutex
	since map[string]time.Time
	seen  map[string]bool
}

func newEventTailer(provider Provider, events *telemetry.EventPublisher, logger *telemetry.Logger, runID string, start time.Time) *eventTailer {
	return &eventTailer{
		provider: provider,
		events:   events,
		logger:   logger.NewComponentLogger("tail"),
		runID:    runID,
		since:    map[string]time.Time{"": start},
		seen:     make(map[string]bool),
	}
}

func (t *eventTailer) poll(ctx context.Context, fqn string) {
	t.mu.Lock()
	since, ok := t.since[fqn]
	if !ok {
		since = t.since[""]
	}
	t.mu.Unlock()

	stackEvents, err := t.provider.PollEvents(ctx, fqn, since)
	if err != nil {
		if !errors.Is(err, ErrStackNotFound) && !errors.Is(err, context.Canceled) {
			t.logger.WithStack(fqn).WithError(err).Debug("event poll failed")
		}
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, event := range stackEvents {
		key := fmt.Sprintf("%s/%s/%s/%d", fqn, event.LogicalID, event.Status, event.Timestamp.UnixNano())
		if t.seen[key] {
			continue
		}
		t.seen[key] = true

		if event.Timestamp.After(t.since[fqn]) {
			t.since[fqn] = event.Timestamp
		}

		t.logger.WithStack(fqn).Infof("%s %s %s %s",
			event.Timestamp.Format(time.RFC3339), event.LogicalID, event.Status, event.Reason)
		t.events.PublishProviderEvent(t.runID, fqn, event.LogicalID, event.Status, event.Reason, event.Timestamp)
	}
}
