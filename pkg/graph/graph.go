package graph

import (
	"errors"
	"fmt"

	"ticketpilot/pkg/proto"
)

// ErrNoMatchingEdge is returned when no outgoing edge of the current step
// matches the thread state. This is a graph configuration error, never a
// runtime condition: every reachable state must be covered by exactly one
// matching edge.
var ErrNoMatchingEdge = errors.New("no matching edge")

// Predicate guards an edge. A nil predicate always matches.
type Predicate func(*proto.Thread) bool

// Edge is a directed, optionally guarded transition between two named steps.
type Edge struct {
	From string
	To   string
	When Predicate
}

// Graph is a validated set of named steps and directed edges with exactly one
// entry step. Cycles are permitted and expected; any retry bound is the
// responsibility of the individual step.
type Graph struct {
	steps      map[string]Step
	edges      []Edge
	entry      string
	terminal   map[string]bool
	duplicates []string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		steps:    make(map[string]Step),
		terminal: make(map[string]bool),
	}
}

// AddStep registers a step. Registering two steps with the same name is a
// configuration error caught by Validate.
func (g *Graph) AddStep(s Step) *Graph {
	if _, ok := g.steps[s.Name()]; ok {
		g.duplicates = append(g.duplicates, s.Name())
	}
	g.steps[s.Name()] = s
	return g
}

// SetEntry declares the entry step.
func (g *Graph) SetEntry(name string) *Graph {
	g.entry = name
	return g
}

// MarkTerminal declares a step terminal: execution halts after it runs.
func (g *Graph) MarkTerminal(name string) *Graph {
	g.terminal[name] = true
	return g
}

// AddEdge adds an unconditional edge.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges = append(g.edges, Edge{From: from, To: to})
	return g
}

// AddConditionalEdge adds a guarded edge. Edges are evaluated in declaration
// order; the first match wins.
func (g *Graph) AddConditionalEdge(from, to string, when Predicate) *Graph {
	g.edges = append(g.edges, Edge{From: from, To: to, When: when})
	return g
}

// Entry returns the entry step name.
func (g *Graph) Entry() string { return g.entry }

// IsTerminal reports whether the named step is terminal.
func (g *Graph) IsTerminal(name string) bool { return g.terminal[name] }

// Step returns the named step.
func (g *Graph) Step(name string) (Step, bool) {
	s, ok := g.steps[name]
	return s, ok
}

// Validate checks the graph's static structure: no step name is registered
// twice, an entry step exists, all edge endpoints are registered,
// non-terminal steps have at least one outgoing edge, and terminal steps
// have none.
func (g *Graph) Validate() error {
	if len(g.duplicates) > 0 {
		return fmt.Errorf("graph: step %q registered twice", g.duplicates[0])
	}
	if g.entry == "" {
		return errors.New("graph: no entry step declared")
	}
	if _, ok := g.steps[g.entry]; !ok {
		return fmt.Errorf("graph: entry step %q not registered", g.entry)
	}
	outgoing := make(map[string]int)
	for _, e := range g.edges {
		if _, ok := g.steps[e.From]; !ok {
			return fmt.Errorf("graph: edge from unknown step %q", e.From)
		}
		if _, ok := g.steps[e.To]; !ok {
			return fmt.Errorf("graph: edge to unknown step %q", e.To)
		}
		outgoing[e.From]++
	}
	for name := range g.steps {
		if g.terminal[name] {
			if outgoing[name] != 0 {
				return fmt.Errorf("graph: terminal step %q has outgoing edges", name)
			}
			continue
		}
		if outgoing[name] == 0 {
			return fmt.Errorf("graph: non-terminal step %q has no outgoing edges", name)
		}
	}
	return nil
}

// next selects the successor of the given step for the current thread state.
// Edges are evaluated in declaration order; absence of a match is a
// configuration error.
func (g *Graph) next(from string, th *proto.Thread) (string, error) {
	for _, e := range g.edges {
		if e.From != from {
			continue
		}
		if e.When == nil || e.When(th) {
			return e.To, nil
		}
	}
	return "", fmt.Errorf("graph: step %q: %w", from, ErrNoMatchingEdge)
}
