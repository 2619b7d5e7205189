package pipeline

import (
	"fmt"

	"github.com/specialistvlad/ortrain/internal/blackbox"
	"github.com/specialistvlad/ortrain/internal/cell"
	"github.com/specialistvlad/ortrain/internal/dag"
	"github.com/specialistvlad/ortrain/internal/executor"
)

const (
	sourceNode  = "source"
	builderNode = "builder"
)

// ModelBuilder is the composite of an observation source and an incremental
// model builder. One activation feeds the builder until the termination
// condition holds, then exposes every builder output.
type ModelBuilder struct {
	*blackbox.BlackBox
	builder     cell.Cell
	connections []string
}

type modelBuilderConfig struct {
	term executor.Termination
	name string
}

// ModelBuilderOption configures NewModelBuilder.
type ModelBuilderOption func(*modelBuilderConfig)

// WithTermination replaces the default stop condition, UntilQuit.
func WithTermination(t executor.Termination) ModelBuilderOption {
	return func(c *modelBuilderConfig) { c.term = t }
}

// WithName sets the composite's cell name.
func WithName(name string) ModelBuilderOption {
	return func(c *modelBuilderConfig) { c.name = name }
}

// NewModelBuilder connects every source output to the builder input of the
// same name. Ports present on one side only stay unconnected.
func NewModelBuilder(source, builder cell.Cell, opts ...ModelBuilderOption) (*ModelBuilder, error) {
	cfg := modelBuilderConfig{term: executor.UntilQuit(), name: "ModelBuilder"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if source == nil || builder == nil {
		return nil, fmt.Errorf("model builder needs a source and a builder")
	}

	g := dag.New()
	if err := g.AddCell(sourceNode, source); err != nil {
		return nil, err
	}
	if err := g.AddCell(builderNode, builder); err != nil {
		return nil, err
	}
	connections, err := g.ConnectByName(sourceNode, builderNode)
	if err != nil {
		return nil, fmt.Errorf("failed to connect source to builder: %w", err)
	}

	outputs := make([]blackbox.Forward, 0, len(builder.Outputs()))
	for _, spec := range builder.Outputs() {
		outputs = append(outputs, blackbox.Forward{Name: spec.Name, Inner: dag.PortRef{Node: builderNode, Port: spec.Name}})
	}

	bb, err := blackbox.New(blackbox.Config{
		Name:        cfg.name,
		Graph:       g,
		Outputs:     outputs,
		Termination: cfg.term,
	})
	if err != nil {
		return nil, err
	}
	return &ModelBuilder{BlackBox: bb, builder: builder, connections: connections}, nil
}

// Connections returns the port names wired from source to builder, in the
// source's port order.
func (m *ModelBuilder) Connections() []string {
	return append([]string(nil), m.connections...)
}

// Builder returns the wrapped incremental model builder.
func (m *ModelBuilder) Builder() cell.Cell {
	return m.builder
}

// BuilderActivations returns how many times the builder has been activated.
func (m *ModelBuilder) BuilderActivations() int {
	return m.Executor().Activations(builderNode)
}
