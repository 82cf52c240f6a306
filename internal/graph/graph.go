// Package graph runs the analysis DAG for one request: the data source probe
// at the root, the analysts fanned out behind it, and the strategy node last.
// Nodes exchange no state directly; every write flows through a session patch
// applied by the scheduler, so a run's artifacts can never leak into another.
package graph

import (
	"context"
	"fmt"

	"github.com/marketmind-ai/marketmind/internal/session"
)

// Node is one unit of graph work. Run receives a clone of the run state and
// returns a patch; it must never retain or mutate the clone after returning.
type Node interface {
	Name() string
	Run(ctx context.Context, state *session.AgentState) (*session.Patch, error)
}

// Graph is a set of named nodes with prerequisite edges. Dependencies must
// be added before their dependents, which keeps the graph acyclic by
// construction.
type Graph struct {
	nodes map[string]Node
	deps  map[string][]string
	order []string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]Node),
		deps:  make(map[string][]string),
	}
}

// Add registers a node behind its prerequisites.
func (g *Graph) Add(node Node, deps ...string) error {
	if node == nil {
		return fmt.Errorf("nil node")
	}
	name := node.Name()
	if name == "" {
		return fmt.Errorf("node has no name")
	}
	if _, exists := g.nodes[name]; exists {
		return fmt.Errorf("node %s already registered", name)
	}
	for _, dep := range deps {
		if _, exists := g.nodes[dep]; !exists {
			return fmt.Errorf("node %s depends on unregistered node %s", name, dep)
		}
	}

	g.nodes[name] = node
	g.deps[name] = append([]string(nil), deps...)
	g.order = append(g.order, name)
	return nil
}

// Len returns the number of registered nodes.
func (g *Graph) Len() int { return len(g.order) }

// Names returns the node names in registration order.
func (g *Graph) Names() []string {
	return append([]string(nil), g.order...)
}

// Deps returns the prerequisite names of a node.
func (g *Graph) Deps(name string) []string {
	return append([]string(nil), g.deps[name]...)
}

func (g *Graph) ready(name string, done map[string]bool) bool {
	for _, dep := range g.deps[name] {
		if !done[dep] {
			return false
		}
	}
	return true
}

// NodeSet is the full complement of nodes for an analysis run.
type NodeSet struct {
	Probe     Node
	Macro     Node
	Policy    Node
	Sector    Node
	Technical Node
	IntlNews  Node
	Strategy  Node
}

// Plan assembles the DAG for a request. The probe gates every analyst, the
// sector analyst waits for the policy artifact, and the strategy node waits
// for all analysts in the plan. Quick research drops the technical and
// international news nodes together with their strategy edges; the edges go
// with the nodes, never silently.
func Plan(depth session.ResearchDepth, nodes NodeSet) (*Graph, error) {
	g := New()

	if err := g.Add(nodes.Probe); err != nil {
		return nil, err
	}
	if err := g.Add(nodes.Macro, nodes.Probe.Name()); err != nil {
		return nil, err
	}
	if err := g.Add(nodes.Policy, nodes.Probe.Name()); err != nil {
		return nil, err
	}
	if err := g.Add(nodes.Sector, nodes.Policy.Name()); err != nil {
		return nil, err
	}

	strategyDeps := []string{nodes.Macro.Name(), nodes.Policy.Name(), nodes.Sector.Name()}
	if depth != session.DepthQuick {
		if err := g.Add(nodes.Technical, nodes.Probe.Name()); err != nil {
			return nil, err
		}
		if err := g.Add(nodes.IntlNews, nodes.Probe.Name()); err != nil {
			return nil, err
		}
		strategyDeps = append(strategyDeps, nodes.Technical.Name(), nodes.IntlNews.Name())
	}

	if err := g.Add(nodes.Strategy, strategyDeps...); err != nil {
		return nil, err
	}
	return g, nil
}
