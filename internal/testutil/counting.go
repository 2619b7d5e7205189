package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/specialistvlad/ortrain/internal/cell"
	"github.com/specialistvlad/ortrain/internal/observation"
	"github.com/specialistvlad/ortrain/internal/params"
	"github.com/specialistvlad/ortrain/internal/pipeline"
	"github.com/specialistvlad/ortrain/internal/port"
	"github.com/specialistvlad/ortrain/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// CountingPipeline counts the observations it is fed and stores
// {"count": n, "label": <params.label>}. FailOn makes the builder fail for
// the named observation id; PanicOn makes it panic.
type CountingPipeline struct {
	Name    string
	FailOn  string
	PanicOn string
	// Built counts the builders created.
	Built atomic.Int64
}

var _ pipeline.Pipeline = (*CountingPipeline)(nil)

// ErrInjected is returned by a CountingPipeline builder for FailOn.
var ErrInjected = errors.New("injected failure")

func (c *CountingPipeline) TypeName() string {
	if c.Name == "" {
		return "counting"
	}
	return c.Name
}

func (c *CountingPipeline) IncrementalModelBuilder(p params.Params) (cell.Cell, error) {
	c.Built.Add(1)
	var n int64
	return &cell.Func{
		CellName: "counter",
		In:       observation.Specs(observation.PortObservationID),
		Out:      port.Specs{{Name: "count", Type: cty.Number}},
		Initial:  port.Values{"count": cty.NumberIntVal(0)},
		Fn: func(ctx context.Context, in port.Values) (port.Values, cell.Result, error) {
			id := observation.String(in[observation.PortObservationID])
			if c.PanicOn != "" && id == c.PanicOn {
				panic("counting pipeline: poisoned observation " + id)
			}
			if c.FailOn != "" && id == c.FailOn {
				return nil, cell.OK, fmt.Errorf("observation %s: %w", id, ErrInjected)
			}
			n++
			return port.Values{"count": cty.NumberIntVal(n)}, cell.OK, nil
		},
	}, nil
}

func (c *CountingPipeline) PostProcessor(p params.Params) (cell.Cell, error) {
	label, err := p.String("label", "")
	if err != nil {
		return nil, err
	}
	return &cell.Func{
		CellName: "count_document",
		In:       port.Specs{{Name: "count", Type: cty.Number}},
		Out:      port.Specs{{Name: pipeline.DocumentPort, Type: cty.DynamicPseudoType}},
		Fn: func(ctx context.Context, in port.Values) (port.Values, cell.Result, error) {
			return port.Values{pipeline.DocumentPort: cty.ObjectVal(map[string]cty.Value{
				"count": in["count"],
				"label": cty.StringVal(label),
			})}, cell.OK, nil
		},
	}, nil
}

// Module registers Pipelines.
type Module struct {
	Pipelines []pipeline.Pipeline
	Err       error
}

func (m *Module) Name() string { return "testutil" }

func (m *Module) Register(r *registry.Registry) error {
	if m.Err != nil {
		return m.Err
	}
	for _, p := range m.Pipelines {
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}
