package plan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func noopRun(_ context.Context) (string, error) {
	return "complete", nil
}

func TestNew_ValidGraph(t *testing.T) {
	p, err := New("build", []Step{
		{Key: "vpc", Run: noopRun},
		{Key: "db", Requires: []string{"vpc"}, Run: noopRun},
		{Key: "app", Requires: []string{"vpc", "db"}, Run: noopRun},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if p.Len() != 3 {
		t.Errorf("Expected 3 steps, got %d", p.Len())
	}
	if p.Depth() != 3 {
		t.Errorf("Expected depth 3, got %d", p.Depth())
	}
}

func TestNew_UnknownRequire(t *testing.T) {
	_, err := New("build", []Step{
		{Key: "app", Requires: []string{"missing"}, Run: noopRun},
	})
	if err == nil {
		t.Fatal("Expected error for unknown dependency")
	}
}

func TestNew_DuplicateKey(t *testing.T) {
	_, err := New("build", []Step{
		{Key: "vpc", Run: noopRun},
		{Key: "vpc", Run: noopRun},
	})
	if err == nil {
		t.Fatal("Expected error for duplicate key")
	}
}

func TestNew_Cycle(t *testing.T) {
	_, err := New("build", []Step{
		{Key: "a", Requires: []string{"c"}, Run: noopRun},
		{Key: "b", Requires: []string{"a"}, Run: noopRun},
		{Key: "c", Requires: []string{"b"}, Run: noopRun},
	})
	if err == nil {
		t.Fatal("Expected error for circular dependency")
	}
	if !strings.Contains(err.Error(), "circular") {
		t.Errorf("Expected circular dependency error, got: %v", err)
	}
}

func TestOutline_LevelsAndOrder(t *testing.T) {
	p, err := New("build", []Step{
		{Key: "app", Requires: []string{"vpc"}, Run: noopRun},
		{Key: "vpc", Run: noopRun},
		{Key: "dns", Run: noopRun},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	outline := p.Outline()
	if len(outline) != 3 {
		t.Fatalf("Expected 3 outline steps, got %d", len(outline))
	}

	levels := make(map[string]int)
	for _, step := range outline {
		levels[step.Key] = step.Level
	}
	if levels["vpc"] != 0 || levels["dns"] != 0 {
		t.Errorf("Expected vpc and dns at level 0, got %v", levels)
	}
	if levels["app"] != 1 {
		t.Errorf("Expected app at level 1, got %d", levels["app"])
	}
}

func TestPrune_KeepsTransitiveRequires(t *testing.T) {
	p, err := New("build", []Step{
		{Key: "vpc", Run: noopRun},
		{Key: "db", Requires: []string{"vpc"}, Run: noopRun},
		{Key: "app", Requires: []string{"db"}, Run: noopRun},
		{Key: "dns", Run: noopRun},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	pruned, err := p.Prune([]string{"app"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	keys := pruned.Keys()
	want := []string{"app", "db", "vpc"}
	if len(keys) != len(want) {
		t.Fatalf("Expected keys %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("Expected keys %v, got %v", want, keys)
		}
	}
}

func TestPrune_UnknownTarget(t *testing.T) {
	p, err := New("build", []Step{{Key: "vpc", Run: noopRun}})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if _, err := p.Prune([]string{"nope"}); err == nil {
		t.Fatal("Expected error for unknown target")
	}
}

func TestPrune_EmptyReturnsSamePlan(t *testing.T) {
	p, err := New("build", []Step{{Key: "vpc", Run: noopRun}})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	pruned, err := p.Prune(nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if pruned != p {
		t.Error("Expected empty prune to return the same plan")
	}
}

func TestExecute_RespectsOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(key string) RunFunc {
		return func(_ context.Context) (string, error) {
			mu.Lock()
			order = append(order, key)
			mu.Unlock()
			return "complete", nil
		}
	}

	p, err := New("build", []Step{
		{Key: "vpc", Run: record("vpc")},
		{Key: "db", Requires: []string{"vpc"}, Run: record("db")},
		{Key: "app", Requires: []string{"db"}, Run: record("app")},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	results, err := p.Execute(context.Background(), ExecuteOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(order) != 3 || order[0] != "vpc" || order[1] != "db" || order[2] != "app" {
		t.Errorf("Expected order [vpc db app], got %v", order)
	}
	for _, key := range []string{"vpc", "db", "app"} {
		if results[key].Status != "complete" {
			t.Errorf("Expected %s complete, got %+v", key, results[key])
		}
	}
}

func TestExecute_IndependentStepsRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	var arrived sync.WaitGroup
	arrived.Add(2)

	waitRun := func(_ context.Context) (string, error) {
		arrived.Done()
		<-release
		return "complete", nil
	}

	p, err := New("build", []Step{
		{Key: "a", Run: waitRun},
		{Key: "b", Run: waitRun},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, execErr := p.Execute(context.Background(), ExecuteOptions{MaxParallel: 2}); execErr != nil {
			t.Errorf("Expected no error, got: %v", execErr)
		}
	}()

	// Both steps must be in flight at once before either is released.
	waitCh := make(chan struct{})
	go func() {
		arrived.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected both independent steps to start concurrently")
	}

	close(release)
	<-done
}

func TestExecute_FailureBlocksDependents(t *testing.T) {
	boom := errors.New("boom")
	ran := make(map[string]bool)
	var mu sync.Mutex
	mark := func(key string, err error) RunFunc {
		return func(_ context.Context) (string, error) {
			mu.Lock()
			ran[key] = true
			mu.Unlock()
			if err != nil {
				return "failed", err
			}
			return "complete", nil
		}
	}

	p, err := New("build", []Step{
		{Key: "vpc", Run: mark("vpc", boom)},
		{Key: "app", Requires: []string{"vpc"}, Run: mark("app", nil)},
		{Key: "web", Requires: []string{"app"}, Run: mark("web", nil)},
		{Key: "dns", Run: mark("dns", nil)},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	results, err := p.Execute(context.Background(), ExecuteOptions{})
	if err == nil {
		t.Fatal("Expected execution error")
	}

	if !errors.Is(results["vpc"].Err, boom) {
		t.Errorf("Expected vpc to fail with boom, got %v", results["vpc"].Err)
	}
	if !results["app"].Blocked {
		t.Error("Expected app to be blocked by vpc failure")
	}
	if !results["web"].Blocked {
		t.Error("Expected web to be blocked transitively")
	}
	if results["dns"].Err != nil || results["dns"].Blocked {
		t.Errorf("Expected unrelated dns to complete, got %+v", results["dns"])
	}
	if ran["app"] || ran["web"] {
		t.Error("Expected blocked steps not to run")
	}
	if !ran["dns"] {
		t.Error("Expected dns to run despite unrelated failure")
	}
}

func TestExecute_PollCallback(t *testing.T) {
	var mu sync.Mutex
	polled := make(map[string]int)

	p, err := New("build", []Step{
		{Key: "slow", Run: func(_ context.Context) (string, error) {
			time.Sleep(120 * time.Millisecond)
			return "complete", nil
		}},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	_, err = p.Execute(context.Background(), ExecuteOptions{
		PollInterval: 20 * time.Millisecond,
		Poll: func(_ context.Context, key string) {
			mu.Lock()
			polled[key]++
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if polled["slow"] == 0 {
		t.Error("Expected poll callback to fire while the step ran")
	}
}

func TestExecute_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p, err := New("build", []Step{
		{Key: "first", Run: func(_ context.Context) (string, error) {
			cancel()
			return "complete", nil
		}},
		{Key: "second", Requires: []string{"first"}, Run: noopRun},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	results, err := p.Execute(ctx, ExecuteOptions{MaxParallel: 1})
	if err == nil {
		t.Fatal("Expected error after cancellation")
	}

	if results["second"].Err == nil {
		t.Error("Expected second step to be cancelled before starting")
	}
}

func TestDOT_ContainsEdges(t *testing.T) {
	p, err := New("build", []Step{
		{Key: "vpc", Run: noopRun},
		{Key: "app", Requires: []string{"vpc"}, Run: noopRun},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	dot := p.DOT()
	if !strings.Contains(dot, `"vpc" -> "app"`) {
		t.Errorf("Expected edge vpc -> app in DOT output:\n%s", dot)
	}
}
