// Package stats provides the "stats" pipeline. It counts the observations of
// an object per capture session, which makes it a quick check that a
// database holds what a real training run will read.
package stats

import (
	"context"

	"github.com/specialistvlad/ortrain/internal/cell"
	"github.com/specialistvlad/ortrain/internal/observation"
	"github.com/specialistvlad/ortrain/internal/params"
	"github.com/specialistvlad/ortrain/internal/pipeline"
	"github.com/specialistvlad/ortrain/internal/port"
	"github.com/specialistvlad/ortrain/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// TypeName is the registered pipeline type.
const TypeName = "stats"

const (
	PortSessions     = "sessions"
	PortObservations = "observations"
)

// Pipeline counts observations.
type Pipeline struct{}

var _ pipeline.Pipeline = Pipeline{}

func (Pipeline) TypeName() string { return TypeName }

func (Pipeline) IncrementalModelBuilder(params.Params) (cell.Cell, error) {
	return &counter{sessions: map[string]int64{}}, nil
}

func (Pipeline) PostProcessor(params.Params) (cell.Cell, error) {
	return &cell.Func{
		CellName: "StatsDocument",
		In:       counterOutputs,
		Out:      port.Specs{{Name: pipeline.DocumentPort, Type: cty.DynamicPseudoType}},
		Fn: func(ctx context.Context, in port.Values) (port.Values, cell.Result, error) {
			sessions := in[PortSessions]
			if sessions.IsNull() {
				sessions = cty.MapValEmpty(cty.Number)
			}
			total := in[PortObservations]
			if total.IsNull() {
				total = cty.Zero
			}
			doc := cty.ObjectVal(map[string]cty.Value{
				PortObservations: total,
				PortSessions:     sessions,
			})
			return port.Values{pipeline.DocumentPort: doc}, cell.OK, nil
		},
	}, nil
}

var counterOutputs = port.Specs{
	{Name: PortSessions, Type: cty.Map(cty.Number), Doc: "Observation count per session id."},
	{Name: PortObservations, Type: cty.Number},
}

type counter struct {
	sessions map[string]int64
	total    int64
}

var _ cell.Defaulter = (*counter)(nil)

func (c *counter) Name() string { return "StatsCounter" }

func (c *counter) Inputs() port.Specs {
	return observation.Specs(observation.PortSessionID, observation.PortObservationID)
}

func (c *counter) Outputs() port.Specs { return counterOutputs }

func (c *counter) Defaults() port.Values { return c.values() }

func (c *counter) Process(ctx context.Context, in port.Values) (port.Values, cell.Result, error) {
	c.sessions[observation.String(in[observation.PortSessionID])]++
	c.total++
	return c.values(), cell.OK, nil
}

func (c *counter) values() port.Values {
	sessions := cty.MapValEmpty(cty.Number)
	if len(c.sessions) > 0 {
		vals := make(map[string]cty.Value, len(c.sessions))
		for id, n := range c.sessions {
			vals[id] = cty.NumberIntVal(n)
		}
		sessions = cty.MapVal(vals)
	}
	return port.Values{
		PortSessions:     sessions,
		PortObservations: cty.NumberIntVal(c.total),
	}
}

// Module registers the stats pipeline.
type Module struct{}

func (Module) Name() string { return "stats" }

func (Module) Register(r *registry.Registry) error {
	return r.Register(Pipeline{})
}
