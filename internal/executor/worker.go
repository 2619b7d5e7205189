package executor

import (
	"context"
	"fmt"

	"github.com/specialistvlad/ortrain/internal/cell"
	"github.com/specialistvlad/ortrain/internal/ctxlog"
	"github.com/specialistvlad/ortrain/internal/dag"
	"github.com/specialistvlad/ortrain/internal/port"
	"github.com/zclconf/go-cty/cty"
)

// Report summarises one call to Run.
type Report struct {
	// Iterations is the number of iterations in which every cell was activated.
	Iterations int
	// Quit is true when the run ended because a cell returned cell.Quit.
	Quit bool
	// QuitBy is the ID of the node that signalled quit.
	QuitBy string
	// Activations counts completed activations per node during this run.
	Activations map[string]int
}

// Run executes the graph until the termination condition is met. It respects
// the cancellation signal from the provided context between activations.
func (e *Executor) Run(ctx context.Context, term Termination, bindings Bindings) (*Report, error) {
	if err := term.Validate(); err != nil {
		return nil, err
	}
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Executor run starting.", "termination", term.String(), "nodes", len(e.order))

	report := &Report{Activations: make(map[string]int, len(e.order))}
	for !term.reached(report.Iterations) {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		quitBy, err := e.iterate(ctx, report.Iterations, bindings, report)
		if err != nil {
			return report, err
		}
		if quitBy != "" {
			logger.Debug("Run ended by quit signal.", "node", quitBy, "iterations", report.Iterations)
			report.Quit = true
			report.QuitBy = quitBy
			break
		}
		report.Iterations++
	}

	logger.Debug("Executor run finished.", "iterations", report.Iterations, "quit", report.Quit)
	return report, nil
}

// iterate activates every node once, in topological order. It returns the ID
// of the node that signalled quit, if any.
func (e *Executor) iterate(ctx context.Context, iteration int, bindings Bindings, report *Report) (string, error) {
	logger := ctxlog.FromContext(ctx)

	for _, n := range e.order {
		id := n.ID()
		c := n.Cell()

		in, err := e.gather(n, bindings)
		if err != nil {
			e.states[id] = Failed
			return "", err
		}

		e.states[id] = Running
		out, result, err := c.Process(ctx, in)
		if err != nil {
			logger.Error("Cell activation failed.", "node", id, "cell", c.Name(), "iteration", iteration, "error", err)
			e.states[id] = Failed
			return "", fmt.Errorf("node %s (%s) failed at iteration %d: %w", id, c.Name(), iteration, err)
		}
		e.states[id] = Done

		if result == cell.Quit {
			return id, nil
		}

		if err := e.accept(n, out); err != nil {
			e.states[id] = Failed
			return "", err
		}
		e.activations[id]++
		report.Activations[id]++
	}
	return "", nil
}

// gather builds the input values of a node: upstream outputs for connected
// ports, bindings for bound ports, and typed nulls for everything else.
func (e *Executor) gather(n *dag.Node, bindings Bindings) (port.Values, error) {
	id := n.ID()
	specs := n.Cell().Inputs()
	in := make(port.Values, len(specs))

	for _, spec := range specs {
		var val cty.Value
		if edge, ok := e.graph.Incoming(id, spec.Name); ok {
			upstream := e.last[edge.From.Node]
			val = upstream[edge.From.Port]
		} else if bound, ok := bindings[dag.PortRef{Node: id, Port: spec.Name}]; ok {
			val = bound
		} else {
			in[spec.Name] = cty.NullVal(spec.Type)
			continue
		}

		if val == cty.NilVal {
			in[spec.Name] = cty.NullVal(spec.Type)
			continue
		}
		converted, err := port.Convert(val, spec.Type)
		if err != nil {
			return nil, fmt.Errorf("input %s.%s: %w", id, spec.Name, err)
		}
		in[spec.Name] = converted
	}
	return in, nil
}

// accept records the outputs of an activation. Outputs a cell does not
// return keep their previous value; undeclared outputs are an error.
func (e *Executor) accept(n *dag.Node, out port.Values) error {
	id := n.ID()
	specs := n.Cell().Outputs()
	current := e.last[id]

	for name, val := range out {
		spec, ok := specs.Lookup(name)
		if !ok {
			return fmt.Errorf("node %s (%s) produced undeclared output %q", id, n.Cell().Name(), name)
		}
		converted, err := port.Convert(val, spec.Type)
		if err != nil {
			return fmt.Errorf("output %s.%s: %w", id, name, err)
		}
		current[name] = converted
	}
	return nil
}
