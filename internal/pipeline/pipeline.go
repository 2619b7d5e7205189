// Package pipeline defines the contract a training pipeline implements and
// the composite that feeds observations into a pipeline's model builder.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/specialistvlad/ortrain/internal/cell"
	"github.com/specialistvlad/ortrain/internal/params"
)

// DocumentPort is the post-processor output carrying the persistable model.
const DocumentPort = "db_document"

var (
	// ErrNoTypeName is returned for a pipeline whose TypeName is empty.
	ErrNoTypeName = errors.New("pipeline does not declare a type name")
	// ErrNotImplemented is returned by the factories of Base.
	ErrNotImplemented = errors.New("not implemented")
)

// Pipeline is a training strategy. Both factories receive the same
// parameters, unmodified, and must be deterministic for identical input.
type Pipeline interface {
	// TypeName uniquely identifies the pipeline family, e.g. "TOD".
	TypeName() string
	// IncrementalModelBuilder returns a cell that consumes one observation
	// per activation and exposes its accumulated state on its outputs.
	IncrementalModelBuilder(p params.Params) (cell.Cell, error)
	// PostProcessor returns a cell whose inputs match builder outputs by
	// name and whose outputs include DocumentPort.
	PostProcessor(p params.Params) (cell.Cell, error)
}

// Base can be embedded by pipelines. Every method must be overridden; the
// defaults report that nothing is implemented. A pipeline that keeps Base's
// TypeName has no type name: TypeNameOf returns ErrNoTypeName and
// Registry.Register rejects it.
type Base struct{}

// TypeName returns "", which registration rejects with ErrNoTypeName.
func (Base) TypeName() string { return "" }

func (Base) IncrementalModelBuilder(params.Params) (cell.Cell, error) {
	return nil, fmt.Errorf("incremental model builder: %w", ErrNotImplemented)
}

func (Base) PostProcessor(params.Params) (cell.Cell, error) {
	return nil, fmt.Errorf("post processor: %w", ErrNotImplemented)
}

// TypeNameOf returns the pipeline's type name, or ErrNoTypeName.
func TypeNameOf(p Pipeline) (string, error) {
	if p == nil {
		return "", fmt.Errorf("pipeline is nil")
	}
	name := p.TypeName()
	if name == "" {
		return "", fmt.Errorf("%T: %w", p, ErrNoTypeName)
	}
	return name, nil
}
