package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stackmason/stackmason/pkg/telemetry"
)

const regoFixture = `# description: denies everything
# severity: error
package mason.policies.denyall

import rego.v1

deny contains msg if {
	input.namespace
	msg := "denied"
}`

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Output: "stderr"})
	if err != nil {
		t.Fatalf("Expected no error creating logger, got: %v", err)
	}
	return NewLoader(logger)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Expected no error writing %s, got: %v", name, err)
	}
	return path
}

func TestLoader_RegoFileMetadataFromComments(t *testing.T) {
	loader := newTestLoader(t)
	path := writeFile(t, t.TempDir(), "denyall.rego", regoFixture)

	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}

	p := policies[0]
	if p.Name != "denyall" {
		t.Errorf("Expected name from file name, got %s", p.Name)
	}
	if p.Description != "denies everything" {
		t.Errorf("Expected description from comment header, got %q", p.Description)
	}
	if p.Severity != SeverityError {
		t.Errorf("Expected severity from comment header, got %s", p.Severity)
	}
	if !p.Enabled {
		t.Error("Expected loaded policy enabled by default")
	}
	if p.Source != path {
		t.Errorf("Expected source path recorded, got %s", p.Source)
	}
}

func TestLoader_RegoFileDefaultSeverity(t *testing.T) {
	loader := newTestLoader(t)
	path := writeFile(t, t.TempDir(), "plain.rego", "package mason.policies.plain\n")

	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if policies[0].Severity != SeverityWarning {
		t.Errorf("Expected warning default severity, got %s", policies[0].Severity)
	}
}

func TestLoader_DirectorySkipsUnknownAndBrokenFiles(t *testing.T) {
	loader := newTestLoader(t)
	dir := t.TempDir()

	writeFile(t, dir, "good.rego", regoFixture)
	writeFile(t, dir, "broken.json", "{not json")
	writeFile(t, dir, "notes.txt", "not a policy")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Expected broken file skipped, got: %v", err)
	}
	if len(policies) != 1 || policies[0].Name != "denyall" {
		t.Fatalf("Expected only good.rego loaded, got %+v", policies)
	}
}

func TestLoader_JSONPolicy(t *testing.T) {
	loader := newTestLoader(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "custom.json",
		`{"name":"custom","severity":"critical","enabled":true,"rego":"package mason.policies.custom\n"}`)

	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if policies[0].Name != "custom" || policies[0].Severity != SeverityCritical {
		t.Errorf("Expected decoded JSON policy, got %+v", policies[0])
	}
}

func TestLoader_JSONPolicyMissingFieldsRejected(t *testing.T) {
	loader := newTestLoader(t)
	dir := t.TempDir()

	unnamed := writeFile(t, dir, "unnamed.json", `{"rego":"package x\n"}`)
	if _, err := loader.LoadFromPaths(context.Background(), []string{unnamed}); err == nil {
		t.Error("Expected error for JSON policy without a name")
	}

	empty := writeFile(t, dir, "empty.json", `{"name":"empty"}`)
	if _, err := loader.LoadFromPaths(context.Background(), []string{empty}); err == nil {
		t.Error("Expected error for JSON policy without rego source")
	}
}

func TestLoader_MissingPathFails(t *testing.T) {
	loader := newTestLoader(t)

	_, err := loader.LoadFromPaths(context.Background(), []string{"/does/not/exist"})
	if err == nil {
		t.Fatal("Expected error for missing path")
	}
}

func TestLoader_WatchReloadsOnChange(t *testing.T) {
	loader := newTestLoader(t)
	dir := t.TempDir()
	writeFile(t, dir, "initial.rego", regoFixture)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 1)
	err := loader.Watch(ctx, []string{dir}, func(policies []Policy) error {
		select {
		case reloaded <- policies:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected no error starting watch, got: %v", err)
	}
	defer loader.Close()

	writeFile(t, dir, "added.rego", "package mason.policies.added\n")

	select {
	case policies := <-reloaded:
		if len(policies) != 2 {
			t.Errorf("Expected 2 policies after reload, got %d", len(policies))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected reload after policy file change")
	}
}

func TestEngine_LoadPaths_CustomPolicyEnforced(t *testing.T) {
	engine := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, dir, "denyall.rego", regoFixture)

	if err := engine.LoadPaths(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Expected no error loading paths, got: %v", err)
	}

	err := engine.Evaluate(context.Background(), buildDoc(stackDoc("vpc", nil)))
	if err == nil {
		t.Fatal("Expected loaded deny-all policy to deny the build")
	}
}
