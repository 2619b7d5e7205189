// Package cell defines the unit of computation wired into training graphs.
//
// A cell declares named, typed input and output ports and is activated by the
// executor once per iteration. Cells are opaque to the graph: only their port
// declarations are used for wiring and validation.
package cell

import (
	"context"
	"fmt"

	"github.com/specialistvlad/ortrain/internal/port"
)

// Result is the control signal a cell returns from an activation.
type Result int

const (
	// OK means the activation produced outputs and the run may continue.
	OK Result = iota
	// Quit means the cell has nothing more to do. It is a terminal signal to
	// the driving loop, not an error.
	Quit
)

func (r Result) String() string {
	switch r {
	case OK:
		return "ok"
	case Quit:
		return "quit"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Cell is an operation node with declared ports.
type Cell interface {
	// Name is a human-readable name used in logs and errors.
	Name() string
	Inputs() port.Specs
	Outputs() port.Specs
	// Process runs one activation. in holds a value for every declared
	// input; unconnected inputs are typed nulls.
	Process(ctx context.Context, in port.Values) (port.Values, Result, error)
}

// Defaulter is implemented by cells that expose meaningful outputs before
// their first activation, for example an empty accumulated model.
type Defaulter interface {
	Defaults() port.Values
}

// Defaults returns the outputs a cell exposes before it has ever been
// activated: typed nulls, overlaid with the cell's own defaults if it has any.
func Defaults(c Cell) port.Values {
	out := port.Nulls(c.Outputs())
	if d, ok := c.(Defaulter); ok {
		for name, val := range d.Defaults() {
			if _, declared := out[name]; declared {
				out[name] = val
			}
		}
	}
	return out
}

// Validate checks the port declarations of a cell.
func Validate(c Cell) error {
	if c == nil {
		return fmt.Errorf("cell is nil")
	}
	if err := c.Inputs().Validate(); err != nil {
		return fmt.Errorf("cell %q inputs: %w", c.Name(), err)
	}
	if err := c.Outputs().Validate(); err != nil {
		return fmt.Errorf("cell %q outputs: %w", c.Name(), err)
	}
	return nil
}
