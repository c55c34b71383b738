package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stackmason/stackmason/pkg/config"
)

func newTestLauncher(t *testing.T, provider *fakeProvider) (*Launcher, *fakePublisher) {
	t.Helper()
	logger, metrics, _ := testTelemetry(t)
	publisher := &fakePublisher{}
	launcher := NewLauncher(provider, publisher, testBuildContext(nil, nil), logger, metrics, "run-1")
	return launcher, publisher
}

func TestLaunch_DisabledStackSkipsEverything(t *testing.T) {
	provider := newFakeProvider()
	launcher, publisher := newTestLauncher(t, provider)
	disabled := false

	s := buildStack(t, testBuildContext(nil, nil), config.StackDefinition{
		Name: "app", TemplatePath: "app.yaml", Enabled: &disabled,
	}, simpleTemplate)

	status, err := launcher.Launch(context.Background(), s)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if status.Kind != StatusNotSubmitted {
		t.Errorf("Expected not_submitted, got %s", status)
	}
	if publisher.pushCount() != 0 {
		t.Error("Expected no template publication for disabled stack")
	}
	if provider.mutatingCalls() != 0 || len(provider.getCalls) != 0 {
		t.Error("Expected zero provider contact for disabled stack")
	}
}

func TestLaunch_LockedWithoutForceSkipsUpdate(t *testing.T) {
	provider := newFakeProvider()
	launcher, publisher := newTestLauncher(t, provider)

	s := buildStack(t, testBuildContext(nil, nil), config.StackDefinition{
		Name: "app", TemplatePath: "app.yaml", Locked: true,
	}, simpleTemplate)

	status, err := launcher.Launch(context.Background(), s)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if status.Kind != StatusNotUpdated {
		t.Errorf("Expected not_updated, got %s", status)
	}
	if provider.mutatingCalls() != 0 {
		t.Error("Expected no mutating provider calls for locked stack")
	}
	// The locked gate sits after publication so outlines and dumps see the
	// full intended state.
	if publisher.pushCount() != 1 {
		t.Errorf("Expected template still published, got %d pushes", publisher.pushCount())
	}
}

func TestLaunch_LockedWithForceUpdates(t *testing.T) {
	provider := newFakeProvider()
	provider.deploy("test-app", "old-template", nil, nil)

	logger, metrics, _ := testTelemetry(t)
	buildCtx := testBuildContext([]string{"app"}, nil)
	publisher := &fakePublisher{}
	launcher := NewLauncher(provider, publisher, buildCtx, logger, metrics, "run-1")

	s := buildStack(t, buildCtx, config.StackDefinition{
		Name: "app", TemplatePath: "app.yaml", Locked: true,
	}, simpleTemplate)

	status, err := launcher.Launch(context.Background(), s)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if status.Kind != StatusSubmitted || status.Detail != DetailUpdatingStack {
		t.Errorf("Expected submitted update, got %s", status)
	}
	if len(provider.updateCalls) != 1 {
		t.Errorf("Expected one update call, got %d", len(provider.updateCalls))
	}
}

func TestLaunch_CreateWhenNotDeployed(t *testing.T) {
	provider := newFakeProvider()
	launcher, _ := newTestLauncher(t, provider)

	s := buildStack(t, testBuildContext(nil, nil), config.StackDefinition{
		Name: "app", TemplatePath: "app.yaml",
	}, simpleTemplate)

	status, err := launcher.Launch(context.Background(), s)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if status.Kind != StatusSubmitted || status.Detail != DetailCreatingStack {
		t.Errorf("Expected submitted create, got %s", status)
	}
	// Update is attempted first; create is the not-found fallback.
	if len(provider.updateCalls) != 1 || len(provider.createCalls) != 1 {
		t.Errorf("Expected update then create, got %d updates %d creates",
			len(provider.updateCalls), len(provider.createCalls))
	}
}

func TestLaunch_SecondLaunchDidNotChange(t *testing.T) {
	provider := newFakeProvider()
	launcher, _ := newTestLauncher(t, provider)

	s := buildStack(t, testBuildContext(nil, nil), config.StackDefinition{
		Name: "app", TemplatePath: "app.yaml",
	}, simpleTemplate)

	first, err := launcher.Launch(context.Background(), s)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if first.Kind != StatusSubmitted {
		t.Fatalf("Expected first launch submitted, got %s", first)
	}

	second, err := launcher.Launch(context.Background(), s)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if second.Kind != StatusDidNotChange {
		t.Errorf("Expected did_not_change on identical relaunch, got %s", second)
	}
}

func TestLaunch_FallbackFillsDeployedParameter(t *testing.T) {
	provider := newFakeProvider()
	provider.deploy("test-app", "old", []Parameter{{Key: "Size", Value: "4"}}, nil)
	launcher, _ := newTestLauncher(t, provider)

	s := buildStack(t, testBuildContext(nil, nil), config.StackDefinition{
		Name: "app", TemplatePath: "app.yaml",
	}, sizedTemplate)

	status, err := launcher.Launch(context.Background(), s)
	if err != nil {
		t.Fatalf("Expected deployed value to satisfy Size, got: %v", err)
	}
	if status.Kind != StatusSubmitted {
		t.Fatalf("Expected submitted, got %s", status)
	}

	deployed := provider.deployed["test-app"]
	if deployed.description.Parameters["Size"] != "4" {
		t.Errorf("Expected submitted Size=4 from fallback, got %q",
			deployed.description.Parameters["Size"])
	}
}

func TestLaunch_MissingParameterFailsNamingKey(t *testing.T) {
	provider := newFakeProvider()
	launcher, _ := newTestLauncher(t, provider)

	s := buildStack(t, testBuildContext(nil, nil), config.StackDefinition{
		Name: "app", TemplatePath: "app.yaml",
	}, `
Parameters:
  Name:
    Type: String
Resources:
  Thing:
    Type: AWS::SNS::Topic
`)

	_, err := launcher.Launch(context.Background(), s)
	if err == nil {
		t.Fatal("Expected missing parameter error")
	}

	var missing *MissingParameterError
	if !errors.As(err, &missing) {
		t.Fatalf("Expected MissingParameterError in chain, got: %v", err)
	}
	if len(missing.Keys) != 1 || missing.Keys[0] != "Name" {
		t.Errorf("Expected missing key [Name], got %v", missing.Keys)
	}
	if provider.mutatingCalls() != 0 {
		t.Error("Expected no mutating calls when parameters are unresolved")
	}
}

func TestLaunch_ProviderErrorPropagates(t *testing.T) {
	provider := newFakeProvider()
	provider.failUpdate["test-app"] = NewThrottledError("rate exceeded", nil)
	launcher, _ := newTestLauncher(t, provider)

	s := buildStack(t, testBuildContext(nil, nil), config.StackDefinition{
		Name: "app", TemplatePath: "app.yaml",
	}, simpleTemplate)

	_, err := launcher.Launch(context.Background(), s)
	if err == nil {
		t.Fatal("Expected provider error to propagate")
	}
	if !IsThrottled(err) {
		t.Errorf("Expected throttled classification preserved, got: %v", err)
	}

	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("Expected EngineError, got: %v", err)
	}
	if engineErr.Stack != "test-app" || engineErr.Operation != "update" {
		t.Errorf("Expected stack/operation context, got %+v", engineErr)
	}
}

func TestLaunch_OutputLookupAgainstDeployedStack(t *testing.T) {
	provider := newFakeProvider()
	provider.deploy("test-vpc", "vpc-template", nil, map[string]string{"VpcId": "vpc-123"})
	launcher, _ := newTestLauncher(t, provider)

	s := buildStack(t, testBuildContext(nil, nil), config.StackDefinition{
		Name:         "app",
		TemplatePath: "app.yaml",
		Parameters: map[string]interface{}{
			"Size": "${output vpc::VpcId}",
		},
	}, sizedTemplate)

	status, err := launcher.Launch(context.Background(), s)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if status.Kind != StatusSubmitted {
		t.Fatalf("Expected submitted, got %s", status)
	}

	deployed := provider.deployed["test-app"]
	if deployed.description.Parameters["Size"] != "vpc-123" {
		t.Errorf("Expected output lookup resolved to vpc-123, got %q",
			deployed.description.Parameters["Size"])
	}
}

func TestLaunch_OutputLookupNeverDeployedFails(t *testing.T) {
	provider := newFakeProvider()
	launcher, _ := newTestLauncher(t, provider)

	s := buildStack(t, testBuildContext(nil, nil), config.StackDefinition{
		Name:         "app",
		TemplatePath: "app.yaml",
		Parameters: map[string]interface{}{
			"Size": "${output ghost::Value}",
		},
	}, sizedTemplate)

	_, err := launcher.Launch(context.Background(), s)
	if err == nil {
		t.Fatal("Expected error resolving outputs of a never-deployed stack")
	}
	if provider.mutatingCalls() != 0 {
		t.Error("Expected no mutating calls after resolve failure")
	}
}
