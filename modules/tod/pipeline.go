// Package tod provides the "TOD" (textured object detection) training
// pipeline: per observation, a feature extractor finds keypoints inside the
// object mask, and a trainer moves them into the object frame and
// accumulates them with their descriptors.
package tod

import (
	"fmt"

	"github.com/specialistvlad/ortrain/internal/blackbox"
	"github.com/specialistvlad/ortrain/internal/cell"
	"github.com/specialistvlad/ortrain/internal/dag"
	"github.com/specialistvlad/ortrain/internal/executor"
	"github.com/specialistvlad/ortrain/internal/observation"
	"github.com/specialistvlad/ortrain/internal/params"
	"github.com/specialistvlad/ortrain/internal/pipeline"
	"github.com/specialistvlad/ortrain/internal/registry"
)

// TypeName is the registered pipeline type.
const TypeName = "TOD"

const featureDescriptorKey = "feature_descriptor"

const (
	extractNode = "extract"
	trainNode   = "train"
)

// Pipeline is the TOD training pipeline.
type Pipeline struct {
	extractors Extractors
}

var _ pipeline.Pipeline = (*Pipeline)(nil)

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithExtractor adds or replaces an extractor.
func WithExtractor(name string, factory ExtractorFactory) Option {
	return func(p *Pipeline) { p.extractors[name] = factory }
}

// New returns a pipeline with the default extractors.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{extractors: DefaultExtractors()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) TypeName() string { return TypeName }

// IncrementalModelBuilder returns a composite of the extractor and the
// trainer. Each activation processes exactly one observation.
func (p *Pipeline) IncrementalModelBuilder(prm params.Params) (cell.Cell, error) {
	_, ext, err := p.extractors.build(prm)
	if err != nil {
		return nil, err
	}

	g := dag.New()
	if err := g.AddCell(extractNode, &extractCell{ext: ext}); err != nil {
		return nil, err
	}
	if err := g.AddCell(trainNode, &trainer{}); err != nil {
		return nil, err
	}
	if err := g.Connect(extractNode, PortFeatures, trainNode, PortFeatures); err != nil {
		return nil, err
	}

	forward := func(node string, names ...string) []blackbox.Forward {
		out := make([]blackbox.Forward, len(names))
		for i, name := range names {
			out[i] = blackbox.Forward{Name: name, Inner: dag.PortRef{Node: node, Port: name}}
		}
		return out
	}
	inputs := append(
		forward(extractNode, observation.PortImage, observation.PortMask, observation.PortDepth, observation.PortK),
		forward(trainNode, observation.PortR, observation.PortT)...)

	bb, err := blackbox.New(blackbox.Config{
		Name:        "TODModelBuilder",
		Graph:       g,
		Inputs:      inputs,
		Outputs:     forward(trainNode, PortPoints, PortObservations),
		Termination: executor.MaxIterations(1),
	})
	if err != nil {
		return nil, err
	}
	return bb, nil
}

// PostProcessor returns the cell that encodes the accumulated cloud.
func (p *Pipeline) PostProcessor(prm params.Params) (cell.Cell, error) {
	name, _, err := p.extractors.build(prm)
	if err != nil {
		return nil, err
	}
	minPoints, err := prm.Int("min_points", 0)
	if err != nil {
		return nil, err
	}
	if minPoints < 0 {
		return nil, fmt.Errorf("min_points must not be negative, got %d", minPoints)
	}
	return &postProcessor{extractor: name, minPoints: minPoints}, nil
}

// Module registers the TOD pipeline.
type Module struct {
	Options []Option
}

func (m *Module) Name() string { return "tod" }

func (m *Module) Register(r *registry.Registry) error {
	return r.Register(New(m.Options...))
}
