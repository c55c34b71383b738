package stack

import (
	"context"
	"testing"

	"github.com/stackmason/stackmason/pkg/blueprint"
	"github.com/stackmason/stackmason/pkg/config"
	"github.com/stackmason/stackmason/pkg/lookups"
)

const testTemplate = `
Parameters:
  CidrBlock:
    Type: String
  InstanceType:
    Type: String
    Default: t3.micro
Resources:
  Vpc:
    Type: AWS::EC2::VPC
`

func testBlueprint(t *testing.T, name string) *blueprint.Blueprint {
	t.Helper()
	bp, err := blueprint.Parse(name, []byte(testTemplate))
	if err != nil {
		t.Fatalf("Expected no error parsing template, got: %v", err)
	}
	return bp
}

func testContext(t *testing.T, force, targets []string) *Context {
	t.Helper()
	cfg := &config.Config{
		Namespace: "prod",
		Tags:      map[string]string{"team": "infra"},
		Stacks: []config.StackDefinition{
			{Name: "vpc", TemplatePath: "vpc.yaml"},
		},
	}
	return NewContext(cfg, force, targets)
}

func TestContext_FQN(t *testing.T) {
	ctx := testContext(t, nil, nil)

	if got := ctx.FQN("vpc"); got != "prod-vpc" {
		t.Errorf("Expected prod-vpc, got %s", got)
	}
	if got := ctx.FQN("prod-vpc"); got != "prod-vpc" {
		t.Errorf("Expected already-qualified name unchanged, got %s", got)
	}
}

func TestContext_FQNEmptyNamespace(t *testing.T) {
	cfg := &config.Config{
		Stacks: []config.StackDefinition{{Name: "vpc", TemplatePath: "vpc.yaml"}},
	}
	ctx := NewContext(cfg, nil, nil)

	if got := ctx.FQN("vpc"); got != "vpc" {
		t.Errorf("Expected vpc, got %s", got)
	}
}

func TestContext_NamespaceTag(t *testing.T) {
	ctx := testContext(t, nil, nil)

	if ctx.Tags[NamespaceTag] != "prod" {
		t.Errorf("Expected namespace tag, got %q", ctx.Tags[NamespaceTag])
	}
	if ctx.Tags["team"] != "infra" {
		t.Errorf("Expected config tag preserved, got %q", ctx.Tags["team"])
	}
}

func TestContext_Targets(t *testing.T) {
	unrestricted := testContext(t, nil, nil)
	if !unrestricted.Targeted("anything") {
		t.Error("Expected no target restriction to accept any stack")
	}

	restricted := testContext(t, nil, []string{"vpc"})
	if !restricted.Targeted("vpc") {
		t.Error("Expected targeted stack to be accepted")
	}
	if restricted.Targeted("app") {
		t.Error("Expected untargeted stack to be rejected")
	}
}

func TestFromBlueprint_RequiresMergesLookups(t *testing.T) {
	ctx := testContext(t, nil, nil)
	def := &config.StackDefinition{
		Name:         "app",
		TemplatePath: "app.yaml",
		Requires:     []string{"db"},
		Parameters: map[string]interface{}{
			"VpcId":    "${output vpc::VpcId}",
			"SubnetId": "${output vpc::SubnetId}",
			"Plain":    "literal",
		},
	}

	s := FromBlueprint(ctx, def, testBlueprint(t, "app"))

	requires := s.Requires()
	want := []string{"db", "vpc"}
	if len(requires) != len(want) {
		t.Fatalf("Expected requires %v, got %v", want, requires)
	}
	for i, name := range want {
		if requires[i] != name {
			t.Fatalf("Expected requires %v, got %v", want, requires)
		}
	}

	if !s.DependsOn("vpc") || !s.DependsOn("db") {
		t.Error("Expected dependency on vpc and db")
	}
	if s.DependsOn("app") {
		t.Error("Expected no self dependency")
	}
}

func TestFromBlueprint_TagMerge(t *testing.T) {
	ctx := testContext(t, nil, nil)
	def := &config.StackDefinition{
		Name:         "vpc",
		TemplatePath: "vpc.yaml",
		Tags:         map[string]string{"team": "network"},
	}

	s := FromBlueprint(ctx, def, testBlueprint(t, "vpc"))

	if s.Tags["team"] != "network" {
		t.Errorf("Expected stack tag to override build tag, got %q", s.Tags["team"])
	}
	if s.Tags[NamespaceTag] != "prod" {
		t.Errorf("Expected namespace tag preserved, got %q", s.Tags[NamespaceTag])
	}
}

func TestFromBlueprint_ForceAndFQN(t *testing.T) {
	ctx := testContext(t, []string{"vpc"}, nil)
	def := &config.StackDefinition{Name: "vpc", TemplatePath: "vpc.yaml", Locked: true}

	s := FromBlueprint(ctx, def, testBlueprint(t, "vpc"))

	if s.FQN != "prod-vpc" {
		t.Errorf("Expected FQN prod-vpc, got %s", s.FQN)
	}
	if !s.Forced {
		t.Error("Expected stack in force set to be marked forced")
	}
	if !s.Locked {
		t.Error("Expected locked flag carried over")
	}
}

func TestResolve_NonStringValuesPassThrough(t *testing.T) {
	ctx := testContext(t, nil, nil)
	def := &config.StackDefinition{
		Name:         "vpc",
		TemplatePath: "vpc.yaml",
		Parameters: map[string]interface{}{
			"EnableDns": true,
			"Count":     3,
		},
	}
	s := FromBlueprint(ctx, def, testBlueprint(t, "vpc"))

	resolved, err := s.Resolve(context.Background(), lookups.NewRegistry(), &lookups.Env{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if resolved["EnableDns"] != true {
		t.Errorf("Expected boolean untouched, got %v", resolved["EnableDns"])
	}
	if resolved["Count"] != 3 {
		t.Errorf("Expected int untouched, got %v", resolved["Count"])
	}
}

func TestFromBlueprint_RequiresMergesListLookups(t *testing.T) {
	ctx := testContext(t, nil, nil)
	def := &config.StackDefinition{
		Name:         "app",
		TemplatePath: "app.yaml",
		Parameters: map[string]interface{}{
			"SubnetIds": []interface{}{
				"${output vpc::SubnetA}",
				"${output vpc::SubnetB}",
				"subnet-literal",
			},
		},
	}

	s := FromBlueprint(ctx, def, testBlueprint(t, "app"))

	if !s.DependsOn("vpc") {
		t.Errorf("Expected list lookup to add vpc dependency, got %v", s.Requires())
	}
}

func TestResolve_ListItems(t *testing.T) {
	ctx := testContext(t, nil, nil)
	def := &config.StackDefinition{
		Name:         "app",
		TemplatePath: "app.yaml",
		Parameters: map[string]interface{}{
			"SubnetIds": []interface{}{
				"${output vpc::SubnetA}",
				"subnet-literal",
				7,
			},
		},
	}
	s := FromBlueprint(ctx, def, testBlueprint(t, "app"))

	env := &lookups.Env{
		Outputs: func(_ context.Context, stackName, outputName string) (string, error) {
			if stackName != "vpc" || outputName != "SubnetA" {
				t.Errorf("Unexpected lookup %s::%s", stackName, outputName)
			}
			return "subnet-123", nil
		},
	}

	resolved, err := s.Resolve(context.Background(), lookups.NewRegistry(), env)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	items, ok := resolved["SubnetIds"].([]interface{})
	if !ok {
		t.Fatalf("Expected list value, got %T", resolved["SubnetIds"])
	}
	if len(items) != 3 || items[0] != "subnet-123" || items[1] != "subnet-literal" || items[2] != 7 {
		t.Errorf("Expected resolved list items, got %v", items)
	}
}

func TestResolve_OutputLookup(t *testing.T) {
	ctx := testContext(t, nil, nil)
	def := &config.StackDefinition{
		Name:         "app",
		TemplatePath: "app.yaml",
		Parameters: map[string]interface{}{
			"VpcId": "${output vpc::VpcId}",
		},
	}
	s := FromBlueprint(ctx, def, testBlueprint(t, "app"))

	env := &lookups.Env{
		Outputs: func(_ context.Context, stackName, outputName string) (string, error) {
			if stackName != "vpc" || outputName != "VpcId" {
				t.Errorf("Unexpected lookup %s::%s", stackName, outputName)
			}
			return "vpc-123", nil
		},
	}

	resolved, err := s.Resolve(context.Background(), lookups.NewRegistry(), env)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if resolved["VpcId"] != "vpc-123" {
		t.Errorf("Expected vpc-123, got %q", resolved["VpcId"])
	}
}
