// Package plan builds and executes dependency-ordered plans. A plan is a set
// of keyed steps with requires edges between them; execution runs independent
// steps concurrently and never starts a step before everything it requires
// has completed.
package plan

import (
	"context"
	"sort"
)

// Step is one executable unit of a plan.
type Step struct {
	// Key identifies the step within the plan.
	Key string

	// Requires lists the keys that must complete before this step starts.
	Requires []string

	// Run executes the step and returns its terminal status label.
	Run RunFunc
}

// RunFunc executes a step. The returned string is the step's terminal status
// label; a non-nil error marks the step failed and blocks its dependents.
type RunFunc func(ctx context.Context) (string, error)

// Plan is a validated, executable set of steps.
type Plan struct {
	// Description names the plan in logs and outlines.
	Description string

	steps map[string]*Step
	graph *graph
}

// New validates the steps and their dependency edges into an executable plan.
func New(description string, steps []Step) (*Plan, error) {
	g := newGraph()
	index := make(map[string]*Step, len(steps))

	for i := range steps {
		step := &steps[i]
		if err := g.add(step.Key, step.Requires); err != nil {
			return nil, err
		}
		index[step.Key] = step
	}

	if err := g.build(); err != nil {
		return nil, err
	}

	return &Plan{
		Description: description,
		steps:       index,
		graph:       g,
	}, nil
}

// Keys returns the sorted step keys.
func (p *Plan) Keys() []string {
	keys := make([]string, 0, len(p.steps))
	for key := range p.steps {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of steps.
func (p *Plan) Len() int {
	return len(p.steps)
}

// Prune returns a plan restricted to the given keys and everything they
// transitively require. An empty key list returns the plan unchanged.
func (p *Plan) Prune(keys []string) (*Plan, error) {
	if len(keys) == 0 {
		return p, nil
	}

	keep, err := p.graph.transitive(keys)
	if err != nil {
		return nil, err
	}

	pruned := make([]Step, 0, len(keep))
	for key := range keep {
		pruned = append(pruned, *p.steps[key])
	}
	sort.Slice(pruned, func(i, j int) bool { return pruned[i].Key < pruned[j].Key })

	return New(p.Description, pruned)
}

// OutlineStep is one row of a plan outline.
type OutlineStep struct {
	// Key is the step key.
	Key string

	// Level is the topological level; steps sharing a level may run in
	// parallel.
	Level int

	// Requires are the step's direct dependencies, sorted.
	Requires []string
}

// Outline returns the steps in execution order without running anything.
func (p *Plan) Outline() []OutlineStep {
	var outline []OutlineStep
	for level, keys := range p.graph.levels {
		for _, key := range keys {
			requires := append([]string(nil), p.steps[key].Requires...)
			sort.Strings(requires)
			outline = append(outline, OutlineStep{
				Key:      key,
				Level:    level,
				Requires: requires,
			})
		}
	}
	return outline
}

// DOT renders the plan's dependency graph in Graphviz DOT format.
func (p *Plan) DOT() string {
	return p.graph.dot(p.Description)
}

// Depth returns the number of topological levels.
func (p *Plan) Depth() int {
	return len(p.graph.levels)
}
