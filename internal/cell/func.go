package cell

import (
	"context"

	"github.com/specialistvlad/ortrain/internal/port"
)

// ProcessFunc is the body of a Func cell.
type ProcessFunc func(ctx context.Context, in port.Values) (port.Values, Result, error)

// Func adapts a plain function into a Cell.
type Func struct {
	CellName string
	In       port.Specs
	Out      port.Specs
	Fn       ProcessFunc
	// Initial, if set, is reported through Defaults.
	Initial port.Values
}

var (
	_ Cell      = (*Func)(nil)
	_ Defaulter = (*Func)(nil)
)

func (f *Func) Name() string        { return f.CellName }
func (f *Func) Inputs() port.Specs  { return f.In }
func (f *Func) Outputs() port.Specs { return f.Out }

func (f *Func) Process(ctx context.Context, in port.Values) (port.Values, Result, error) {
	if f.Fn == nil {
		return nil, OK, nil
	}
	return f.Fn(ctx, in)
}

func (f *Func) Defaults() port.Values {
	return f.Initial
}
