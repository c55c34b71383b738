package plan

import (
	"fmt"
	"sort"
	"strings"
)

// graph is the dependency structure underlying a plan. Edges point from a
// step to the steps that require it.
type graph struct {
	// requires maps each key to the keys it depends on.
	requires map[string][]string

	// dependents maps each key to the keys that depend on it.
	dependents map[string][]string

	// levels groups keys by topological level; keys at the same level have
	// no ordering between them.
	levels [][]string
}

func newGraph() *graph {
	return &graph{
		requires:   make(map[string][]string),
		dependents: make(map[string][]string),
	}
}

func (g *graph) add(key string, requires []string) error {
	if key == "" {
		return fmt.Errorf("step has empty key")
	}
	if _, exists := g.requires[key]; exists {
		return fmt.Errorf("duplicate step key: %s", key)
	}
	g.requires[key] = append([]string(nil), requires...)
	return nil
}

// build validates edges, rejects cycles, and computes topological levels.
func (g *graph) build() error {
	inDegree := make(map[string]int, len(g.requires))
	for key := range g.requires {
		inDegree[key] = 0
	}

	for key, requires := range g.requires {
		for _, req := range requires {
			if _, exists := g.requires[req]; !exists {
				return fmt.Errorf("step %s requires unknown step %s", key, req)
			}
			g.dependents[req] = append(g.dependents[req], key)
			inDegree[key]++
		}
	}

	if err := g.detectCycles(); err != nil {
		return err
	}

	// Kahn's algorithm with level tracking.
	current := make([]string, 0)
	for key, degree := range inDegree {
		if degree == 0 {
			current = append(current, key)
		}
	}

	processed := 0
	for len(current) > 0 {
		sort.Strings(current)
		g.levels = append(g.levels, current)
		processed += len(current)

		next := make([]string, 0)
		for _, key := range current {
			for _, dep := range g.dependents[key] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		current = next
	}

	if processed != len(g.requires) {
		return fmt.Errorf("failed to order all steps")
	}
	return nil
}

func (g *graph) detectCycles() error {
	visited := make(map[string]bool)
	inStack := make(map[string]bool)

	var visit func(key string, path []string) error
	visit = func(key string, path []string) error {
		visited[key] = true
		inStack[key] = true
		path = append(path, key)

		for _, dep := range g.dependents[key] {
			if inStack[dep] {
				start := 0
				for i, k := range path {
					if k == dep {
						start = i
						break
					}
				}
				cycle := append(path[start:], dep)
				return fmt.Errorf("circular dependency: %s", strings.Join(cycle, " -> "))
			}
			if !visited[dep] {
				if err := visit(dep, path); err != nil {
					return err
				}
			}
		}

		inStack[key] = false
		return nil
	}

	keys := make([]string, 0, len(g.requires))
	for key := range g.requires {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if !visited[key] {
			if err := visit(key, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// transitive returns the given keys plus everything they transitively
// require.
func (g *graph) transitive(keys []string) (map[string]bool, error) {
	keep := make(map[string]bool)

	var walk func(key string) error
	walk = func(key string) error {
		if keep[key] {
			return nil
		}
		requires, exists := g.requires[key]
		if !exists {
			return fmt.Errorf("unknown step: %s", key)
		}
		keep[key] = true
		for _, req := range requires {
			if err := walk(req); err != nil {
				return err
			}
		}
		return nil
	}

	for _, key := range keys {
		if err := walk(key); err != nil {
			return nil, err
		}
	}
	return keep, nil
}

// dot renders the graph in Graphviz DOT format, grouped by level.
func (g *graph) dot(name string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("digraph %q {\n", name))
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, keys := range g.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, key := range keys {
			sb.WriteString(fmt.Sprintf("    %q;\n", key))
		}
		sb.WriteString("  }\n\n")
	}

	keys := make([]string, 0, len(g.requires))
	for key := range g.requires {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		requires := append([]string(nil), g.requires[key]...)
		sort.Strings(requires)
		for _, req := range requires {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", req, key))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
