package lookups

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestExtract_NoLookups(t *testing.T) {
	if got := Extract("plain value"); got != nil {
		t.Errorf("Expected nil for plain value, got %v", got)
	}
}

func TestExtract_MultipleLookups(t *testing.T) {
	value := "${output vpc::VpcId},${env REGION}"
	lookups := Extract(value)

	if len(lookups) != 2 {
		t.Fatalf("Expected 2 lookups, got %d", len(lookups))
	}

	if lookups[0].Type != TypeOutput || lookups[0].Input != "vpc::VpcId" {
		t.Errorf("Unexpected first lookup: %+v", lookups[0])
	}
	if lookups[1].Type != TypeEnv || lookups[1].Input != "REGION" {
		t.Errorf("Unexpected second lookup: %+v", lookups[1])
	}
}

func TestExtractStackNames_DeduplicatesAndIgnoresOtherTypes(t *testing.T) {
	value := "${output vpc::VpcId} ${output vpc::CidrBlock} ${env HOME} ${output db::Endpoint}"
	names := ExtractStackNames(value)

	if len(names) != 2 {
		t.Fatalf("Expected 2 stack names, got %d: %v", len(names), names)
	}
	if names[0] != "vpc" || names[1] != "db" {
		t.Errorf("Expected [vpc db], got %v", names)
	}
}

func TestRegistry_ResolveString_Output(t *testing.T) {
	registry := NewRegistry()
	env := &Env{
		Outputs: func(_ context.Context, stackName, outputName string) (string, error) {
			if stackName == "vpc" && outputName == "VpcId" {
				return "vpc-123", nil
			}
			return "", fmt.Errorf("no such output")
		},
	}

	got, err := registry.ResolveString(context.Background(), "${output vpc::VpcId}", env)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got != "vpc-123" {
		t.Errorf("Expected vpc-123, got %q", got)
	}
}

func TestRegistry_ResolveString_OutputError(t *testing.T) {
	registry := NewRegistry()
	env := &Env{
		Outputs: func(_ context.Context, _, _ string) (string, error) {
			return "", fmt.Errorf("stack not deployed")
		},
	}

	_, err := registry.ResolveString(context.Background(), "${output vpc::VpcId}", env)
	if err == nil {
		t.Fatal("Expected error for failing output fetcher")
	}
}

func TestRegistry_ResolveString_Env(t *testing.T) {
	t.Setenv("MASON_TEST_VAR", "hello")

	registry := NewRegistry()
	got, err := registry.ResolveString(context.Background(), "${env MASON_TEST_VAR}", &Env{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got != "hello" {
		t.Errorf("Expected hello, got %q", got)
	}
}

func TestRegistry_ResolveString_EnvUnset(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.ResolveString(context.Background(), "${env MASON_TEST_UNSET_VAR}", &Env{})
	if err == nil {
		t.Fatal("Expected error for unset environment variable")
	}
}

func TestRegistry_ResolveString_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value.txt")
	if err := os.WriteFile(path, []byte("  file-value\n"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	registry := NewRegistry()
	got, err := registry.ResolveString(context.Background(), "${file "+path+"}", &Env{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got != "file-value" {
		t.Errorf("Expected trimmed file contents, got %q", got)
	}
}

func TestRegistry_ResolveString_Default(t *testing.T) {
	registry := NewRegistry()

	env := &Env{Vars: map[string]string{"size": "8"}}
	got, err := registry.ResolveString(context.Background(), "${default size::4}", env)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got != "8" {
		t.Errorf("Expected env-file value 8, got %q", got)
	}

	got, err = registry.ResolveString(context.Background(), "${default missing::4}", env)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got != "4" {
		t.Errorf("Expected fallback 4, got %q", got)
	}
}

func TestRegistry_ResolveString_EmbeddedLookup(t *testing.T) {
	registry := NewRegistry()
	env := &Env{
		Outputs: func(_ context.Context, _, _ string) (string, error) {
			return "10.0.0.0/16", nil
		},
	}

	got, err := registry.ResolveString(context.Background(), "cidr=${output vpc::Cidr}", env)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got != "cidr=10.0.0.0/16" {
		t.Errorf("Expected substitution inside string, got %q", got)
	}
}

func TestRegistry_ResolveString_UnknownType(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.ResolveString(context.Background(), "${bogus thing}", &Env{})
	if err == nil {
		t.Fatal("Expected error for unknown lookup type")
	}
}
