package cloudformation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"

	"github.com/stackmason/stackmason/pkg/engine"
	"github.com/stackmason/stackmason/pkg/telemetry"
)

type fakeAPI struct {
	describeOut *cloudformation.DescribeStacksOutput
	describeErr error
	createErr   error
	updateErr   error
	eventsOut   *cloudformation.DescribeStackEventsOutput
	eventsErr   error

	createCalls int
	updateCalls int
	lastCreate  *cloudformation.CreateStackInput
	lastUpdate  *cloudformation.UpdateStackInput
}

func (f *fakeAPI) DescribeStacks(_ context.Context, _ *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return f.describeOut, nil
}

func (f *fakeAPI) CreateStack(_ context.Context, in *cloudformation.CreateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	f.createCalls++
	f.lastCreate = in
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &cloudformation.CreateStackOutput{StackId: aws.String("stack-id")}, nil
}

func (f *fakeAPI) UpdateStack(_ context.Context, in *cloudformation.UpdateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
	f.updateCalls++
	f.lastUpdate = in
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &cloudformation.UpdateStackOutput{StackId: aws.String("stack-id")}, nil
}

func (f *fakeAPI) DescribeStackEvents(_ context.Context, _ *cloudformation.DescribeStackEventsInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error) {
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	return f.eventsOut, nil
}

func apiError(code, message string) error {
	return &smithy.GenericAPIError{Code: code, Message: message}
}

func newTestProvider(t *testing.T, api *fakeAPI) *Provider {
	t.Helper()

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Output: "stderr"})
	if err != nil {
		t.Fatalf("Expected no error creating logger, got: %v", err)
	}
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{})
	if err != nil {
		t.Fatalf("Expected no error creating metrics, got: %v", err)
	}
	return NewWithAPI(api, Config{Region: "us-east-1"}, logger, metrics)
}

func TestProvider_GetStack_MapsDescription(t *testing.T) {
	api := &fakeAPI{describeOut: &cloudformation.DescribeStacksOutput{
		Stacks: []types.Stack{{
			StackName:   aws.String("prod-vpc"),
			StackStatus: types.StackStatusCreateComplete,
			Parameters: []types.Parameter{
				{ParameterKey: aws.String("CidrBlock"), ParameterValue: aws.String("10.0.0.0/16")},
			},
			Outputs: []types.Output{
				{OutputKey: aws.String("VpcId"), OutputValue: aws.String("vpc-123")},
			},
			Tags: []types.Tag{
				{Key: aws.String("mason:namespace"), Value: aws.String("prod")},
			},
		}},
	}}
	provider := newTestProvider(t, api)

	desc, err := provider.GetStack(context.Background(), "prod-vpc")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if desc.FQN != "prod-vpc" || desc.Status != "CREATE_COMPLETE" {
		t.Errorf("Expected mapped name and status, got %+v", desc)
	}
	if desc.Parameters["CidrBlock"] != "10.0.0.0/16" {
		t.Errorf("Expected mapped parameters, got %v", desc.Parameters)
	}
	if desc.Outputs["VpcId"] != "vpc-123" {
		t.Errorf("Expected mapped outputs, got %v", desc.Outputs)
	}
	if desc.Tags["mason:namespace"] != "prod" {
		t.Errorf("Expected mapped tags, got %v", desc.Tags)
	}
}

func TestProvider_GetStack_MissingStackSentinel(t *testing.T) {
	api := &fakeAPI{describeErr: apiError("ValidationError", "Stack with id prod-vpc does not exist")}
	provider := newTestProvider(t, api)

	_, err := provider.GetStack(context.Background(), "prod-vpc")
	if !errors.Is(err, engine.ErrStackNotFound) {
		t.Fatalf("Expected ErrStackNotFound, got: %v", err)
	}
}

func TestProvider_UpdateStack_NoChangeOutcome(t *testing.T) {
	api := &fakeAPI{updateErr: apiError("ValidationError", "No updates are to be performed.")}
	provider := newTestProvider(t, api)

	outcome, err := provider.UpdateStack(context.Background(), "prod-vpc",
		engine.TemplateLocation{Body: "body"}, nil, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if outcome != engine.OutcomeNoChange {
		t.Errorf("Expected no_change outcome, got %s", outcome)
	}
}

func TestProvider_UpdateStack_NotFoundOutcome(t *testing.T) {
	api := &fakeAPI{updateErr: apiError("ValidationError", "Stack [prod-vpc] does not exist")}
	provider := newTestProvider(t, api)

	outcome, err := provider.UpdateStack(context.Background(), "prod-vpc",
		engine.TemplateLocation{Body: "body"}, nil, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if outcome != engine.OutcomeNotFound {
		t.Errorf("Expected not_found outcome, got %s", outcome)
	}
}

func TestProvider_UpdateStack_ThrottleClassified(t *testing.T) {
	api := &fakeAPI{updateErr: apiError("Throttling", "Rate exceeded")}
	provider := newTestProvider(t, api)

	_, err := provider.UpdateStack(context.Background(), "prod-vpc",
		engine.TemplateLocation{Body: "body"}, nil, nil)
	if err == nil {
		t.Fatal("Expected throttle error")
	}
	if !engine.IsThrottled(err) {
		t.Errorf("Expected throttled classification, got: %v", err)
	}

	var engineErr *engine.EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("Expected EngineError, got: %v", err)
	}
	if engineErr.Stack != "prod-vpc" || engineErr.Operation != "update" {
		t.Errorf("Expected stack/operation context, got %+v", engineErr)
	}
	if engineErr.Code != engine.ErrCodeRateLimited {
		t.Errorf("Expected RATE_LIMITED code, got %s", engineErr.Code)
	}
}

func TestProvider_UpdateStack_InProgressConflict(t *testing.T) {
	api := &fakeAPI{updateErr: apiError("ValidationError",
		"Stack prod-vpc is in UPDATE_IN_PROGRESS state and can not be updated")}
	provider := newTestProvider(t, api)

	_, err := provider.UpdateStack(context.Background(), "prod-vpc",
		engine.TemplateLocation{Body: "body"}, nil, nil)
	if !engine.IsConflict(err) {
		t.Errorf("Expected conflict classification, got: %v", err)
	}
}

func TestProvider_CreateStack_SubmitsTemplateAndTags(t *testing.T) {
	api := &fakeAPI{}
	provider := newTestProvider(t, api)

	err := provider.CreateStack(context.Background(), "prod-vpc",
		engine.TemplateLocation{URL: "https://bucket/prod-vpc.yaml"},
		[]engine.Parameter{{Key: "CidrBlock", Value: "10.0.0.0/16"}},
		map[string]string{"mason:namespace": "prod"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if api.createCalls != 1 {
		t.Fatalf("Expected one create call, got %d", api.createCalls)
	}
	in := api.lastCreate
	if aws.ToString(in.TemplateURL) != "https://bucket/prod-vpc.yaml" || in.TemplateBody != nil {
		t.Errorf("Expected URL submission, got %+v", in)
	}
	if len(in.Parameters) != 1 || aws.ToString(in.Parameters[0].ParameterKey) != "CidrBlock" {
		t.Errorf("Expected wire parameters, got %+v", in.Parameters)
	}
	if len(in.Tags) != 1 || aws.ToString(in.Tags[0].Key) != "mason:namespace" {
		t.Errorf("Expected wire tags, got %+v", in.Tags)
	}
}

func TestProvider_CreateStack_InlineBody(t *testing.T) {
	api := &fakeAPI{}
	provider := newTestProvider(t, api)

	err := provider.CreateStack(context.Background(), "prod-vpc",
		engine.TemplateLocation{Body: "Resources: {}"}, nil, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if aws.ToString(api.lastCreate.TemplateBody) != "Resources: {}" || api.lastCreate.TemplateURL != nil {
		t.Errorf("Expected inline submission, got %+v", api.lastCreate)
	}
}

func TestProvider_CreateStack_PermissionDeniedPermanent(t *testing.T) {
	api := &fakeAPI{createErr: apiError("AccessDenied", "not authorized")}
	provider := newTestProvider(t, api)

	err := provider.CreateStack(context.Background(), "prod-vpc",
		engine.TemplateLocation{Body: "body"}, nil, nil)
	if !engine.IsPermanent(err) {
		t.Errorf("Expected permanent classification, got: %v", err)
	}
}

func TestProvider_PollEvents_DeliversOnceOldestFirst(t *testing.T) {
	base := time.Now()
	api := &fakeAPI{eventsOut: &cloudformation.DescribeStackEventsOutput{
		// Newest first, as the API returns them.
		StackEvents: []types.StackEvent{
			{
				EventId:           aws.String("e2"),
				Timestamp:         aws.Time(base.Add(2 * time.Second)),
				LogicalResourceId: aws.String("Vpc"),
				ResourceStatus:    types.ResourceStatusCreateComplete,
			},
			{
				EventId:           aws.String("e1"),
				Timestamp:         aws.Time(base.Add(time.Second)),
				LogicalResourceId: aws.String("Vpc"),
				ResourceStatus:    types.ResourceStatusCreateInProgress,
			},
			{
				EventId:           aws.String("e0"),
				Timestamp:         aws.Time(base.Add(-time.Hour)),
				LogicalResourceId: aws.String("Vpc"),
				ResourceStatus:    types.ResourceStatusCreateInProgress,
			},
		},
	}}
	provider := newTestProvider(t, api)

	events, err := provider.PollEvents(context.Background(), "prod-vpc", base)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events newer than since, got %d", len(events))
	}
	if events[0].Status != "CREATE_IN_PROGRESS" || events[1].Status != "CREATE_COMPLETE" {
		t.Errorf("Expected oldest first, got %+v", events)
	}

	again, err := provider.PollEvents(context.Background(), "prod-vpc", base)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("Expected no redelivery, got %d events", len(again))
	}
}

func TestProvider_PollEvents_MissingStackYieldsNothing(t *testing.T) {
	api := &fakeAPI{eventsErr: apiError("ValidationError", "Stack [prod-vpc] does not exist")}
	provider := newTestProvider(t, api)

	events, err := provider.PollEvents(context.Background(), "prod-vpc", time.Now())
	if err != nil {
		t.Fatalf("Expected no error before the stack exists, got: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Expected no events, got %d", len(events))
	}
}

func TestProvider_Cleanup_ResetsDeliveryState(t *testing.T) {
	base := time.Now()
	api := &fakeAPI{eventsOut: &cloudformation.DescribeStackEventsOutput{
		StackEvents: []types.StackEvent{{
			EventId:           aws.String("e1"),
			Timestamp:         aws.Time(base.Add(time.Second)),
			LogicalResourceId: aws.String("Vpc"),
			ResourceStatus:    types.ResourceStatusCreateComplete,
		}},
	}}
	provider := newTestProvider(t, api)

	if _, err := provider.PollEvents(context.Background(), "prod-vpc", base); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := provider.Cleanup(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	events, err := provider.PollEvents(context.Background(), "prod-vpc", base)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("Expected redelivery after cleanup, got %d events", len(events))
	}
}

func TestClassify_PlainErrorTransient(t *testing.T) {
	err := classify(errors.New("connection reset"))
	if err.Class != engine.ErrorClassTransient {
		t.Errorf("Expected transient class for transport failure, got %s", err.Class)
	}
}
