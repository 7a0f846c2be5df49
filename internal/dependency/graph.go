// Package dependency implements the Dependency Graph (spec.md §4.3, §4.4):
// validation, transitive dependency/dependent closures, and a stable
// topological sort over the merged catalog.
//
// Ancestor/descendant closures are delegated to github.com/heimdalr/dag
// (grounded in nlsantos-brig's internal/brig/features.go, which builds a
// devcontainer-feature install DAG the same way: AddVertexByID then
// AddEdge). Validation, including cycle detection with the offending path,
// is done here by Build and findCycle before any edge is added to the
// library's DAG. The stable, insertion-order tiebreak that the testable
// properties require (spec.md §8) is not something the library promises,
// so topoSort is hand-rolled on top of the validated adjacency instead of
// trusting the library's own walk order.
package dependency

import (
	"fmt"
	"strings"

	"github.com/heimdalr/dag"

	"github.com/atimmer/devservers/internal/catalog"
)

// Graph is a validated, read-only view over a merged catalog's dependency
// relationships.
type Graph struct {
	order   []string // insertion order, preserved from the merged catalog
	byName  map[string]catalog.Service
	deps    map[string][]string // original declaration order
	rdeps   map[string][]string // dependents, in first-seen order
	dag     *dag.DAG
}

// CycleError reports a dependency cycle, including the offending path. Build
// checks for cycles last, after missing targets, self-dependencies and
// duplicate entries (spec.md §4.3, §8).
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// Build validates services' dependsOn lists and constructs a Graph.
// Validation order matches spec.md §4.3: missing targets, self-dependency,
// duplicate entries, then cycles.
func Build(services []catalog.Service) (*Graph, error) {
	g := &Graph{
		byName: make(map[string]catalog.Service, len(services)),
		deps:   make(map[string][]string, len(services)),
		rdeps:  make(map[string][]string, len(services)),
		dag:    dag.NewDAG(),
	}

	for _, s := range services {
		g.order = append(g.order, s.Name)
		g.byName[s.Name] = s
		if err := g.dag.AddVertexByID(s.Name, s); err != nil {
			return nil, fmt.Errorf("duplicate service name %q", s.Name)
		}
	}

	for _, s := range services {
		seenDep := make(map[string]bool, len(s.DependsOn))
		for _, dep := range s.DependsOn {
			if _, ok := g.byName[dep]; !ok {
				return nil, fmt.Errorf("service %q depends on unknown service %q", s.Name, dep)
			}
			if dep == s.Name {
				return nil, fmt.Errorf("service %q depends on itself", s.Name)
			}
			if seenDep[dep] {
				return nil, fmt.Errorf("service %q has duplicate dependency %q", s.Name, dep)
			}
			seenDep[dep] = true

			g.deps[s.Name] = append(g.deps[s.Name], dep)
			g.rdeps[dep] = append(g.rdeps[dep], s.Name)
		}
	}

	if path := findCycle(g.order, g.deps); path != nil {
		return nil, &CycleError{Path: path}
	}

	for _, s := range services {
		for _, dep := range g.deps[s.Name] {
			// dep must start before s: dep is the DAG ancestor of s.
			if err := g.dag.AddEdge(dep, s.Name); err != nil {
				return nil, fmt.Errorf("service %q depends on %q: %w", s.Name, dep, err)
			}
		}
	}

	return g, nil
}

// findCycle performs a DFS over deps (service -> its dependencies) looking
// for a back-edge, returning the cycle as a slice of names starting and
// ending on the repeated node. Deterministic: walks `order` in insertion
// order so the reported path is stable.
func findCycle(order []string, deps map[string][]string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(order))
	var path []string

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = gray
		path = append(path, name)
		for _, dep := range deps[name] {
			switch color[dep] {
			case gray:
				// Found the back-edge; slice path from dep's first occurrence.
				for i, n := range path {
					if n == dep {
						cycle := append(append([]string{}, path[i:]...), dep)
						return cycle
					}
				}
				return []string{dep, name, dep}
			case white:
				if cyc := visit(dep); cyc != nil {
					return cyc
				}
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		return nil
	}

	for _, name := range order {
		if color[name] == white {
			if cyc := visit(name); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// Service returns the stored service definition for name.
func (g *Graph) Service(name string) (catalog.Service, bool) {
	s, ok := g.byName[name]
	return s, ok
}

// Dependencies returns name's immediate dependencies in declaration order.
func (g *Graph) Dependencies(name string) []string {
	return append([]string{}, g.deps[name]...)
}

// Dependents returns name's immediate dependents in first-seen order.
func (g *Graph) Dependents(name string) []string {
	return append([]string{}, g.rdeps[name]...)
}

// CollectDependencies returns the transitive closure of name's dependencies,
// including name itself (spec.md §4.3). Ancestors in the DAG are exactly the
// transitive dependencies, since edges run dependency -> dependent.
func (g *Graph) CollectDependencies(name string) map[string]bool {
	set := map[string]bool{name: true}
	ancestors, err := g.dag.GetAncestors(name)
	if err != nil {
		return g.collectDependenciesFallback(name, set)
	}
	for id := range ancestors {
		set[id] = true
	}
	return set
}

func (g *Graph) collectDependenciesFallback(name string, set map[string]bool) map[string]bool {
	var walk func(string)
	walk = func(n string) {
		for _, dep := range g.deps[n] {
			if !set[dep] {
				set[dep] = true
				walk(dep)
			}
		}
	}
	walk(name)
	return set
}

// CollectDependents returns the transitive closure of name's dependents,
// including name itself (spec.md §4.3). Descendants in the DAG are exactly
// the transitive dependents.
func (g *Graph) CollectDependents(name string) map[string]bool {
	set := map[string]bool{name: true}
	descendants, err := g.dag.GetDescendants(name)
	if err != nil {
		return g.collectDependentsFallback(name, set)
	}
	for id := range descendants {
		set[id] = true
	}
	return set
}

func (g *Graph) collectDependentsFallback(name string, set map[string]bool) map[string]bool {
	var walk func(string)
	walk = func(n string) {
		for _, dep := range g.rdeps[n] {
			if !set[dep] {
				set[dep] = true
				walk(dep)
			}
		}
	}
	walk(name)
	return set
}

// TopoSort returns subset ordered deps-first, breaking ties by the graph's
// insertion order (spec.md §4.3, §8).
func (g *Graph) TopoSort(subset map[string]bool) []string {
	visited := make(map[string]bool, len(subset))
	var out []string

	var visit func(name string)
	visit = func(name string) {
		if visited[name] || !subset[name] {
			return
		}
		visited[name] = true
		for _, dep := range g.deps[name] {
			if subset[dep] {
				visit(dep)
			}
		}
		out = append(out, name)
	}

	for _, name := range g.order {
		visit(name)
	}
	return out
}
