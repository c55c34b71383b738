// Package cloudformation implements the stack provider and template
// publisher against AWS: CloudFormation for stack submission and S3 for
// template storage. Wire-level error signals are translated into the
// engine's tagged outcomes and classified errors at this boundary so the
// launch state machine never inspects AWS error text.
package cloudformation

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"

	"github.com/stackmason/stackmason/pkg/engine"
	"github.com/stackmason/stackmason/pkg/telemetry"
)

// defaultWaitTimeout bounds how long a submission blocks on stabilization.
const defaultWaitTimeout = 30 * time.Minute

// API is the CloudFormation surface the provider uses. The SDK client
// satisfies it; tests substitute a fake.
type API interface {
	DescribeStacks(ctx context.Context, in *cloudformation.DescribeStacksInput, opts ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateStack(ctx context.Context, in *cloudformation.CreateStackInput, opts ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, in *cloudformation.UpdateStackInput, opts ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DescribeStackEvents(ctx context.Context, in *cloudformation.DescribeStackEventsInput, opts ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error)
}

// Config holds provider configuration.
type Config struct {
	// Region is the AWS region stacks deploy into.
	Region string

	// WaitTimeout bounds waiting for a submitted stack to stabilize.
	// Zero means the default of 30 minutes.
	WaitTimeout time.Duration

	// Wait, when false, returns from Create/Update as soon as the
	// submission is accepted instead of blocking until the stack
	// stabilizes. Dependents then read outputs of the previous revision.
	Wait bool
}

// Provider submits stacks to CloudFormation.
type Provider struct {
	api     API
	logger  *telemetry.Logger
	metrics *telemetry.Metrics

	region      string
	wait        bool
	waitTimeout time.Duration

	// delivered event IDs per stack, so repeated polls yield each event once
	mu   sync.Mutex
	seen map[string]map[string]bool
}

// New builds a provider from the ambient AWS credential chain.
func New(ctx context.Context, cfg Config, logger *telemetry.Logger, metrics *telemetry.Metrics) (*Provider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, engine.NewPermanentError("loading AWS configuration", err).
			WithCode(engine.ErrCodeProviderFailed)
	}
	return NewWithAPI(cloudformation.NewFromConfig(awsCfg), cfg, logger, metrics), nil
}

// NewWithAPI builds a provider around an existing CloudFormation client.
func NewWithAPI(api API, cfg Config, logger *telemetry.Logger, metrics *telemetry.Metrics) *Provider {
	timeout := cfg.WaitTimeout
	if timeout == 0 {
		timeout = defaultWaitTimeout
	}
	return &Provider{
		api:         api,
		logger:      logger.NewComponentLogger("cloudformation").WithProvider("cloudformation", cfg.Region),
		metrics:     metrics,
		region:      cfg.Region,
		wait:        cfg.Wait,
		waitTimeout: timeout,
		seen:        make(map[string]map[string]bool),
	}
}

// Name identifies the provider for logs and metrics.
func (p *Provider) Name() string { return "cloudformation" }

// GetStack describes a deployed stack, or returns ErrStackNotFound.
func (p *Provider) GetStack(ctx context.Context, fqn string) (*engine.StackDescription, error) {
	started := time.Now()
	out, err := p.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(fqn),
	})
	p.metrics.RecordProviderCall("cloudformation", "describe_stacks", time.Since(started))
	if err != nil {
		if isNotFound(err) {
			return nil, engine.ErrStackNotFound
		}
		p.metrics.RecordProviderError("cloudformation", "describe_stacks")
		return nil, classify(err).WithStack(fqn).WithOperation("describe")
	}
	if len(out.Stacks) == 0 {
		return nil, engine.ErrStackNotFound
	}
	return describe(&out.Stacks[0]), nil
}

// CreateStack submits creation of a new stack and, unless waiting is
// disabled, blocks until the stack stabilizes so dependents can read its
// outputs.
func (p *Provider) CreateStack(ctx context.Context, fqn string, template engine.TemplateLocation, parameters []engine.Parameter, tags map[string]string) error {
	in := &cloudformation.CreateStackInput{
		StackName:  aws.String(fqn),
		Parameters: wireParameters(parameters),
		Tags:       wireTags(tags),
		Capabilities: []types.Capability{
			types.CapabilityCapabilityIam,
			types.CapabilityCapabilityNamedIam,
		},
	}
	if template.Inline() {
		in.TemplateBody = aws.String(template.Body)
	} else {
		in.TemplateURL = aws.String(template.URL)
	}

	started := time.Now()
	_, err := p.api.CreateStack(ctx, in)
	p.metrics.RecordProviderCall("cloudformation", "create_stack", time.Since(started))
	if err != nil {
		p.metrics.RecordProviderError("cloudformation", "create_stack")
		return classify(err).WithStack(fqn).WithOperation("create")
	}

	p.logger.WithStack(fqn).Info("Stack creation submitted")
	if !p.wait {
		return nil
	}

	waiter := cloudformation.NewStackCreateCompleteWaiter(p.api)
	if err := waiter.Wait(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(fqn)}, p.waitTimeout); err != nil {
		p.metrics.RecordProviderError("cloudformation", "create_stack")
		return classify(err).WithStack(fqn).WithOperation("create")
	}
	return nil
}

// UpdateStack submits an update to an existing stack. The two expected
// wire signals are translated into tagged outcomes: "No updates are to be
// performed" becomes OutcomeNoChange and a missing stack becomes
// OutcomeNotFound.
func (p *Provider) UpdateStack(ctx context.Context, fqn string, template engine.TemplateLocation, parameters []engine.Parameter, tags map[string]string) (engine.UpdateOutcome, error) {
	in := &cloudformation.UpdateStackInput{
		StackName:  aws.String(fqn),
		Parameters: wireParameters(parameters),
		Tags:       wireTags(tags),
		Capabilities: []types.Capability{
			types.CapabilityCapabilityIam,
			types.CapabilityCapabilityNamedIam,
		},
	}
	if template.Inline() {
		in.TemplateBody = aws.String(template.Body)
	} else {
		in.TemplateURL = aws.String(template.URL)
	}

	started := time.Now()
	_, err := p.api.UpdateStack(ctx, in)
	p.metrics.RecordProviderCall("cloudformation", "update_stack", time.Since(started))
	if err != nil {
		switch {
		case isNoChange(err):
			return engine.OutcomeNoChange, nil
		case isNotFound(err):
			return engine.OutcomeNotFound, nil
		}
		p.metrics.RecordProviderError("cloudformation", "update_stack")
		return 0, classify(err).WithStack(fqn).WithOperation("update")
	}

	p.logger.WithStack(fqn).Info("Stack update submitted")
	if !p.wait {
		return engine.OutcomeUpdated, nil
	}

	waiter := cloudformation.NewStackUpdateCompleteWaiter(p.api)
	if err := waiter.Wait(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(fqn)}, p.waitTimeout); err != nil {
		p.metrics.RecordProviderError("cloudformation", "update_stack")
		return 0, classify(err).WithStack(fqn).WithOperation("update")
	}
	return engine.OutcomeUpdated, nil
}

// PollEvents returns stack events newer than since, oldest first, each
// event delivered exactly once per provider instance. A stack that does
// not exist yet yields no events rather than an error: tailing may start
// before the create submission lands.
func (p *Provider) PollEvents(ctx context.Context, fqn string, since time.Time) ([]engine.StackEvent, error) {
	out, err := p.api.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
		StackName: aws.String(fqn),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, classify(err).WithStack(fqn).WithOperation("poll_events")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delivered := p.seen[fqn]
	if delivered == nil {
		delivered = make(map[string]bool)
		p.seen[fqn] = delivered
	}

	var events []engine.StackEvent
	for _, raw := range out.StackEvents {
		if raw.EventId == nil || delivered[*raw.EventId] {
			continue
		}
		if raw.Timestamp == nil || !raw.Timestamp.After(since) {
			continue
		}
		delivered[*raw.EventId] = true
		events = append(events, engine.StackEvent{
			Timestamp:    *raw.Timestamp,
			LogicalID:    aws.ToString(raw.LogicalResourceId),
			ResourceType: aws.ToString(raw.ResourceType),
			Status:       string(raw.ResourceStatus),
			Reason:       aws.ToString(raw.ResourceStatusReason),
		})
	}

	// DescribeStackEvents returns newest first; deliver oldest first.
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	return events, nil
}

// Cleanup releases per-run polling state.
func (p *Provider) Cleanup(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = make(map[string]map[string]bool)
	return nil
}

// describe maps the SDK stack shape into the engine's description.
func describe(s *types.Stack) *engine.StackDescription {
	parameters := make(map[string]string, len(s.Parameters))
	for _, param := range s.Parameters {
		parameters[aws.ToString(param.ParameterKey)] = aws.ToString(param.ParameterValue)
	}
	outputs := make(map[string]string, len(s.Outputs))
	for _, out := range s.Outputs {
		outputs[aws.ToString(out.OutputKey)] = aws.ToString(out.OutputValue)
	}
	tags := make(map[string]string, len(s.Tags))
	for _, tag := range s.Tags {
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return &engine.StackDescription{
		FQN:        aws.ToString(s.StackName),
		Status:     string(s.StackStatus),
		Parameters: parameters,
		Outputs:    outputs,
		Tags:       tags,
	}
}

func wireParameters(parameters []engine.Parameter) []types.Parameter {
	out := make([]types.Parameter, 0, len(parameters))
	for _, param := range parameters {
		out = append(out, types.Parameter{
			ParameterKey:   aws.String(param.Key),
			ParameterValue: aws.String(param.Value),
		})
	}
	return out
}

func wireTags(tags map[string]string) []types.Tag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]types.Tag, 0, len(tags))
	for _, k := range keys {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

// isNoChange detects CloudFormation's "nothing to update" validation error.
func isNoChange(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationError" &&
		strings.Contains(apiErr.ErrorMessage(), "No updates are to be performed")
}

// isNotFound detects the missing-stack validation error.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return strings.Contains(apiErr.ErrorMessage(), "does not exist")
}

// classify translates an AWS error into a classified engine error.
func classify(err error) *engine.EngineError {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		// Transport-level failure, likely transient.
		return engine.NewTransientError("provider request failed", err).
			WithCode(engine.ErrCodeProviderFailed)
	}

	code := apiErr.ErrorCode()
	message := apiErr.ErrorMessage()
	switch {
	case code == "Throttling" || code == "ThrottlingException" || code == "RequestLimitExceeded":
		return engine.NewThrottledError("provider rate limit", err).
			WithCode(engine.ErrCodeRateLimited)

	case code == "AccessDenied" || code == "AccessDeniedException" || code == "UnauthorizedOperation":
		return engine.NewPermanentError("provider permission denied", err).
			WithCode(engine.ErrCodePermissionDenied)

	case code == "AlreadyExistsException":
		return engine.NewConflictError("stack already exists", err).
			WithCode(engine.ErrCodeConflict)

	case strings.Contains(message, "_IN_PROGRESS"):
		// Stack mid-operation; a later attempt may succeed.
		return engine.NewConflictError("stack operation in progress", err).
			WithCode(engine.ErrCodeConflict)

	case code == "ValidationError":
		return engine.NewPermanentError("provider rejected request", err).
			WithCode(engine.ErrCodeValidation)

	default:
		return engine.NewTransientError("provider call failed", err).
			WithCode(engine.ErrCodeProviderFailed)
	}
}
