// Package executor runs a dag.Graph.
//
// Execution is single-threaded and cooperative. Every iteration activates each
// cell once, in topological order, feeding it the most recent outputs of its
// upstream cells. A cell that returns cell.Quit ends the run; the remaining
// cells of that iteration are not activated. The Termination passed to Run
// decides whether the run is bounded by an iteration count, by the quit
// signal, or both.
package executor

import (
	"fmt"

	"github.com/specialistvlad/ortrain/internal/cell"
	"github.com/specialistvlad/ortrain/internal/dag"
	"github.com/specialistvlad/ortrain/internal/port"
	"github.com/zclconf/go-cty/cty"
)

// Bindings supplies values for input ports that have no incoming edge, such
// as the forwarded inputs of a composite cell.
type Bindings map[dag.PortRef]cty.Value

// Executor drives a graph. It keeps the last outputs of every cell between
// runs, so a graph may be run repeatedly (a composite cell is run once per
// outer activation) while its cells accumulate state.
type Executor struct {
	graph *dag.Graph
	order []*dag.Node

	// last holds the most recent outputs of each node, seeded with defaults.
	last map[string]port.Values
	// states holds the execution state of each node.
	states map[string]State
	// activations counts completed activations per node over the lifetime
	// of the executor.
	activations map[string]int
}

// New validates the graph and prepares an executor for it.
func New(g *dag.Graph) (*Executor, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, fmt.Errorf("error validating graph: %w", err)
	}

	e := &Executor{
		graph:       g,
		order:       order,
		last:        make(map[string]port.Values, len(order)),
		states:      make(map[string]State, len(order)),
		activations: make(map[string]int, len(order)),
	}
	for _, n := range order {
		e.last[n.ID()] = cell.Defaults(n.Cell())
		e.states[n.ID()] = Pending
	}
	return e, nil
}

// Outputs returns the most recent outputs of a node: the values of its last
// activation, or its defaults if it has never been activated.
func (e *Executor) Outputs(id string) (port.Values, bool) {
	vals, ok := e.last[id]
	if !ok {
		return nil, false
	}
	out := make(port.Values, len(vals))
	for k, v := range vals {
		out[k] = v
	}
	return out, true
}

// State returns the execution state of a node.
func (e *Executor) State(id string) State {
	return e.states[id]
}

// Activations returns how many times a node completed an activation.
func (e *Executor) Activations(id string) int {
	return e.activations[id]
}

// Graph returns the graph being executed.
func (e *Executor) Graph() *dag.Graph {
	return e.graph
}
