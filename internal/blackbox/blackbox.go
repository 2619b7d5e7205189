// Package blackbox wraps a whole graph into a single cell.
//
// A BlackBox exposes selected inner ports as its own inputs and outputs. Each
// activation of the BlackBox runs the inner graph with the configured
// termination, then reports the latest values of the forwarded outputs.
package blackbox

import (
	"context"
	"fmt"

	"github.com/specialistvlad/ortrain/internal/cell"
	"github.com/specialistvlad/ortrain/internal/ctxlog"
	"github.com/specialistvlad/ortrain/internal/dag"
	"github.com/specialistvlad/ortrain/internal/executor"
	"github.com/specialistvlad/ortrain/internal/port"
)

// Forward exposes an inner port under an outer name.
type Forward struct {
	Name  string
	Inner dag.PortRef
}

// Config describes how a BlackBox is wired to its inner graph.
type Config struct {
	Name        string
	Graph       *dag.Graph
	Inputs      []Forward
	Outputs     []Forward
	Termination executor.Termination
}

// BlackBox is a composite cell.
type BlackBox struct {
	name    string
	exec    *executor.Executor
	inputs  []Forward
	outputs []Forward
	term    executor.Termination

	inSpecs  port.Specs
	outSpecs port.Specs

	lastReport *executor.Report
}

var (
	_ cell.Cell      = (*BlackBox)(nil)
	_ cell.Defaulter = (*BlackBox)(nil)
)

// New validates the configuration and prepares the inner executor.
func New(cfg Config) (*BlackBox, error) {
	if cfg.Graph == nil {
		return nil, fmt.Errorf("blackbox %q: graph is nil", cfg.Name)
	}
	if err := cfg.Termination.Validate(); err != nil {
		return nil, fmt.Errorf("blackbox %q: %w", cfg.Name, err)
	}

	inSpecs, err := forwardedSpecs(cfg.Graph, cfg.Inputs, func(c cell.Cell) port.Specs { return c.Inputs() })
	if err != nil {
		return nil, fmt.Errorf("blackbox %q inputs: %w", cfg.Name, err)
	}
	for _, f := range cfg.Inputs {
		if edge, taken := cfg.Graph.Incoming(f.Inner.Node, f.Inner.Port); taken {
			return nil, fmt.Errorf("blackbox %q: forwarded input %s is already fed by %s", cfg.Name, f.Inner, edge.From)
		}
	}
	outSpecs, err := forwardedSpecs(cfg.Graph, cfg.Outputs, func(c cell.Cell) port.Specs { return c.Outputs() })
	if err != nil {
		return nil, fmt.Errorf("blackbox %q outputs: %w", cfg.Name, err)
	}

	exec, err := executor.New(cfg.Graph)
	if err != nil {
		return nil, fmt.Errorf("blackbox %q: %w", cfg.Name, err)
	}

	return &BlackBox{
		name:     cfg.Name,
		exec:     exec,
		inputs:   cfg.Inputs,
		outputs:  cfg.Outputs,
		term:     cfg.Termination,
		inSpecs:  inSpecs,
		outSpecs: outSpecs,
	}, nil
}

func forwardedSpecs(g *dag.Graph, fwds []Forward, side func(cell.Cell) port.Specs) (port.Specs, error) {
	specs := make(port.Specs, 0, len(fwds))
	for _, f := range fwds {
		n, ok := g.Node(f.Inner.Node)
		if !ok {
			return nil, fmt.Errorf("node not found: %s", f.Inner.Node)
		}
		inner, ok := side(n.Cell()).Lookup(f.Inner.Port)
		if !ok {
			return nil, fmt.Errorf("node %s has no port %q", f.Inner.Node, f.Inner.Port)
		}
		name := f.Name
		if name == "" {
			name = f.Inner.Port
		}
		specs = append(specs, port.Spec{Name: name, Type: inner.Type, Doc: inner.Doc})
	}
	if err := specs.Validate(); err != nil {
		return nil, err
	}
	return specs, nil
}

func (b *BlackBox) Name() string        { return b.name }
func (b *BlackBox) Inputs() port.Specs  { return b.inSpecs }
func (b *BlackBox) Outputs() port.Specs { return b.outSpecs }

// Process runs the inner graph once to its termination condition.
func (b *BlackBox) Process(ctx context.Context, in port.Values) (port.Values, cell.Result, error) {
	ctx = ctxlog.With(ctx, "blackbox", b.name)

	bindings := make(executor.Bindings, len(b.inputs))
	for i, f := range b.inputs {
		if val, ok := in[b.inSpecs[i].Name]; ok {
			bindings[f.Inner] = val
		}
	}

	report, err := b.exec.Run(ctx, b.term, bindings)
	if err != nil {
		return nil, cell.OK, err
	}
	b.lastReport = report
	ctxlog.FromContext(ctx).Debug("Inner graph finished.", "iterations", report.Iterations, "quit", report.Quit, "quit_by", report.QuitBy)

	return b.collect(), cell.OK, nil
}

// Defaults exposes the inner cells' defaults before the first activation.
func (b *BlackBox) Defaults() port.Values {
	return b.collect()
}

func (b *BlackBox) collect() port.Values {
	out := make(port.Values, len(b.outputs))
	for i, f := range b.outputs {
		vals, _ := b.exec.Outputs(f.Inner.Node)
		out[b.outSpecs[i].Name] = vals[f.Inner.Port]
	}
	return out
}

// Executor returns the inner executor, mostly for inspection in tests.
func (b *BlackBox) Executor() *executor.Executor {
	return b.exec
}

// LastReport returns the report of the most recent inner run, or nil.
func (b *BlackBox) LastReport() *executor.Report {
	return b.lastReport
}
