package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stackmason/stackmason/pkg/lookups"
	"github.com/stackmason/stackmason/pkg/stack"
	"github.com/stackmason/stackmason/pkg/telemetry"
)

// Launcher drives one stack through the launch state machine. It is
// stateless across invocations apart from the shared output cache, so the
// plan executor may call it from concurrent workers.
type Launcher struct {
	provider  Provider
	publisher TemplatePublisher
	registry  *lookups.Registry
	buildCtx  *stack.Context
	logger    *telemetry.Logger
	metrics   *telemetry.Metrics
	runID     string

	mu      sync.Mutex
	outputs map[string]map[string]string
}

// NewLauncher creates a launcher bound to one build invocation.
func NewLauncher(provider Provider, publisher TemplatePublisher, buildCtx *stack.Context, logger *telemetry.Logger, metrics *telemetry.Metrics, runID string) *Launcher {
	return &Launcher{
		provider:  provider,
		publisher: publisher,
		registry:  lookups.NewRegistry(),
		buildCtx:  buildCtx,
		logger:    logger.NewComponentLogger("launcher"),
		metrics:   metrics,
		runID:     runID,
		outputs:   make(map[string]map[string]string),
	}
}

// Launch runs the state machine for one stack and returns its terminal
// status. Expected provider signals (no change, not found during update) are
// translated into statuses here and never escape; any other provider error
// fails the stack's node.
//
// The sequence is deliberate: the disabled gate runs before any provider
// contact; the locked gate runs after template publication and parameter
// assembly so dumps and outlines see the full intended state.
func (l *Launcher) Launch(ctx context.Context, s *stack.Stack) (Status, error) {
	log := l.logger.WithStack(s.FQN)

	if !s.Enabled {
		log.Info("stack disabled, skipping")
		return NotSubmittedStatus(), nil
	}

	timer := telemetry.NewTimer()
	l.metrics.StackLaunchStarted()
	defer l.metrics.StackLaunchFinished()

	resolved, err := s.Resolve(ctx, l.registry, l.lookupEnv())
	if err != nil {
		return Status{}, NewPermanentError("failed to resolve stack values", err).
			WithStack(s.FQN).WithOperation("resolve")
	}

	location, err := l.publisher.Push(ctx, s.Blueprint, s.FQN)
	if err != nil {
		return Status{}, NewPermanentError("failed to publish template", err).
			WithStack(s.FQN).WithOperation("publish")
	}
	if location.Inline() {
		l.metrics.RecordTemplatePublished("inline")
	} else {
		l.metrics.RecordTemplatePublished("remote")
		log.WithField("url", location.URL).Debug("template published")
	}

	parameters, err := l.buildParameters(ctx, log, s, resolved)
	if err != nil {
		return Status{}, err
	}

	if s.Locked && !s.Forced {
		log.Info("stack locked and not forced, skipping update")
		status := NotUpdatedStatus()
		l.metrics.RecordStackLaunch(string(status.Kind), timer.Duration())
		return status, nil
	}

	status, err := l.submit(ctx, log, s, location, parameters)
	if err != nil {
		return Status{}, err
	}
	l.metrics.RecordStackLaunch(string(status.Kind), timer.Duration())
	return status, nil
}

// buildParameters runs the resolver and the deployed-value fallback. The
// deployed description is fetched only when required keys are actually
// missing, so the steady-state path costs no extra round trip.
func (l *Launcher) buildParameters(ctx context.Context, log *telemetry.Logger, s *stack.Stack, resolved map[string]interface{}) ([]Parameter, error) {
	params, err := ResolveParameters(log, resolved, s.Blueprint)
	if err != nil {
		return nil, err
	}

	required := s.Blueprint.RequiredParameterNames()

	var deployed *StackDescription
	if len(missingKeys(params, required)) > 0 {
		deployed, err = l.describe(ctx, s.FQN)
		if err != nil {
			return nil, err
		}
	}

	parameters, err := handleMissingParameters(s.FQN, params, required, deployed)
	if err != nil {
		var missing *MissingParameterError
		if errors.As(err, &missing) {
			return nil, NewPermanentError("required parameters unresolved", err).
				WithStack(s.FQN).WithOperation("parameters").
				WithCode(ErrCodeMissingParameter)
		}
		return nil, err
	}
	return parameters, nil
}

// describe fetches the deployed stack, mapping the not-found sentinel to nil:
// a never-deployed stack simply contributes no fallback values.
func (l *Launcher) describe(ctx context.Context, fqn string) (*StackDescription, error) {
	description, err := l.provider.GetStack(ctx, fqn)
	if err != nil {
		if errors.Is(err, ErrStackNotFound) {
			return nil, nil
		}
		return nil, NewTransientError("failed to describe stack", err).
			WithStack(fqn).WithOperation("describe").
			WithCode(ErrCodeProviderFailed)
	}
	return description, nil
}

// submit attempts update first, falling through to create when the provider
// reports the stack does not exist. Updates are the steady-state common case;
// probing existence first would cost a round trip on every run.
func (l *Launcher) submit(ctx context.Context, log *telemetry.Logger, s *stack.Stack, location TemplateLocation, parameters []Parameter) (Status, error) {
	outcome, err := l.provider.UpdateStack(ctx, s.FQN, location, parameters, s.Tags)
	if err != nil {
		return Status{}, l.providerError(err, s.FQN, "update")
	}

	switch outcome {
	case OutcomeUpdated:
		log.Info("stack update submitted")
		return SubmittedStatus(DetailUpdatingStack), nil

	case OutcomeNoChange:
		log.Info("stack did not change")
		return DidNotChangeStatus(), nil

	case OutcomeNotFound:
		if err := l.provider.CreateStack(ctx, s.FQN, location, parameters, s.Tags); err != nil {
			return Status{}, l.providerError(err, s.FQN, "create")
		}
		log.Info("stack creation submitted")
		return SubmittedStatus(DetailCreatingStack), nil

	default:
		return Status{}, NewPermanentError(
			fmt.Sprintf("provider returned unknown update outcome %d", outcome), nil).
			WithStack(s.FQN).WithOperation("update").WithCode(ErrCodeInternal)
	}
}

func (l *Launcher) providerError(err error, fqn, operation string) error {
	l.metrics.RecordProviderError(l.provider.Name(), operation)

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.WithStack(fqn).WithOperation(operation)
	}
	return NewPermanentError("provider call failed", err).
		WithStack(fqn).WithOperation(operation).
		WithCode(ErrCodeProviderFailed)
}

// lookupEnv builds the lookup resolution environment. Output lookups resolve
// against the deployed stack's current outputs, so a disabled or unchanged
// dependency still serves its last-known values.
func (l *Launcher) lookupEnv() *lookups.Env {
	return &lookups.Env{
		Outputs: l.fetchOutput,
		Vars:    l.buildCtx.Vars,
	}
}

// fetchOutput resolves one output lookup, caching per-stack outputs for the
// build's lifetime. A lookup against a stack that has never been deployed is
// a hard error: guessing an output value would corrupt the dependent stack.
func (l *Launcher) fetchOutput(ctx context.Context, stackName, outputName string) (string, error) {
	fqn := l.buildCtx.FQN(stackName)

	l.mu.Lock()
	outputs, ok := l.outputs[fqn]
	l.mu.Unlock()

	if !ok {
		description, err := l.provider.GetStack(ctx, fqn)
		if err != nil {
			if errors.Is(err, ErrStackNotFound) {
				return "", NewPermanentError(
					fmt.Sprintf("stack %s has never been deployed, its outputs are undefined", fqn), nil).
					WithCode(ErrCodeNotFound)
			}
			return "", err
		}
		outputs = description.Outputs

		l.mu.Lock()
		l.outputs[fqn] = outputs
		l.mu.Unlock()
	}

	value, ok := outputs[outputName]
	if !ok {
		return "", NewPermanentError(
			fmt.Sprintf("stack %s has no output %s", fqn, outputName), nil).
			WithCode(ErrCodeNotFound)
	}
	return value, nil
}

// InvalidateOutputs drops the cached outputs of one stack. The plan executor
// calls this through the orchestrator after a stack submits, so dependents
// read post-update values.
func (l *Launcher) InvalidateOutputs(fqn string) {
	l.mu.Lock()
	delete(l.outputs, fqn)
	l.mu.Unlock()
}
