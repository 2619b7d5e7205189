package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/specialistvlad/ortrain/internal/cell"
	"github.com/specialistvlad/ortrain/internal/dag"
	"github.com/specialistvlad/ortrain/internal/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

// counter emits n, n+1, ... and quits once it has emitted limit values.
func counter(limit int) *cell.Func {
	next := 0
	return &cell.Func{
		CellName: "counter",
		Out:      port.Specs{{Name: "n", Type: cty.Number}},
		Fn: func(ctx context.Context, in port.Values) (port.Values, cell.Result, error) {
			if next >= limit {
				return nil, cell.Quit, nil
			}
			next++
			return port.Values{"n": cty.NumberIntVal(int64(next))}, cell.OK, nil
		},
	}
}

// summer adds every value it receives on "n" and exposes the total.
func summer() *cell.Func {
	var total int64
	return &cell.Func{
		CellName: "summer",
		In:       port.Specs{{Name: "n", Type: cty.Number}},
		Out:      port.Specs{{Name: "total", Type: cty.Number}},
		Initial:  port.Values{"total": cty.NumberIntVal(0)},
		Fn: func(ctx context.Context, in port.Values) (port.Values, cell.Result, error) {
			if !in["n"].IsNull() {
				v, _ := in["n"].AsBigFloat().Int64()
				total += v
			}
			return port.Values{"total": cty.NumberIntVal(total)}, cell.OK, nil
		},
	}
}

func sumGraph(t *testing.T, limit int) *dag.Graph {
	t.Helper()
	g := dag.New()
	require.NoError(t, g.AddCell("sum", summer()))
	require.NoError(t, g.AddCell("count", counter(limit)))
	require.NoError(t, g.Connect("count", "n", "sum", "n"))
	return g
}

func totalOf(t *testing.T, e *Executor) int64 {
	t.Helper()
	out, ok := e.Outputs("sum")
	require.True(t, ok)
	v, _ := out["total"].AsBigFloat().Int64()
	return v
}

func TestRun_UntilQuit(t *testing.T) {
	e, err := New(sumGraph(t, 3))
	require.NoError(t, err)

	report, err := e.Run(context.Background(), UntilQuit(), nil)
	require.NoError(t, err)

	assert.True(t, report.Quit)
	assert.Equal(t, "count", report.QuitBy)
	assert.Equal(t, 3, report.Iterations)
	assert.Equal(t, 3, report.Activations["count"])
	assert.Equal(t, 3, report.Activations["sum"], "the quitting iteration must not activate downstream cells")
	assert.Equal(t, int64(6), totalOf(t, e))
}

func TestRun_MaxIterations(t *testing.T) {
	e, err := New(sumGraph(t, 100))
	require.NoError(t, err)

	report, err := e.Run(context.Background(), MaxIterations(2), nil)
	require.NoError(t, err)
	assert.False(t, report.Quit)
	assert.Equal(t, 2, report.Iterations)
	assert.Equal(t, int64(3), totalOf(t, e))

	// Outputs persist across runs.
	_, err = e.Run(context.Background(), MaxIterations(1), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6), totalOf(t, e))
	assert.Equal(t, 3, e.Activations("sum"))
}

func TestRun_BoundedUntilQuit(t *testing.T) {
	e, err := New(sumGraph(t, 100))
	require.NoError(t, err)

	report, err := e.Run(context.Background(), UntilQuit().Bounded(4), nil)
	require.NoError(t, err)
	assert.False(t, report.Quit)
	assert.Equal(t, 4, report.Iterations)
}

func TestRun_QuitBeforeFirstActivation(t *testing.T) {
	e, err := New(sumGraph(t, 0))
	require.NoError(t, err)

	report, err := e.Run(context.Background(), UntilQuit(), nil)
	require.NoError(t, err)
	assert.True(t, report.Quit)
	assert.Equal(t, 0, report.Iterations)
	assert.Equal(t, 0, e.Activations("sum"))
	assert.Equal(t, Pending, e.State("sum"))
	assert.Equal(t, int64(0), totalOf(t, e), "defaults are exposed before any activation")
}

func TestRun_Bindings(t *testing.T) {
	g := dag.New()
	var got cty.Value
	require.NoError(t, g.AddCell("echo", &cell.Func{
		CellName: "echo",
		In:       port.Specs{{Name: "msg", Type: cty.String}, {Name: "unbound", Type: cty.String}},
		Out:      port.Specs{{Name: "msg", Type: cty.String}},
		Fn: func(ctx context.Context, in port.Values) (port.Values, cell.Result, error) {
			got = in["unbound"]
			return port.Values{"msg": in["msg"]}, cell.OK, nil
		},
	}))
	e, err := New(g)
	require.NoError(t, err)

	bindings := Bindings{{Node: "echo", Port: "msg"}: cty.StringVal("hi")}
	_, err = e.Run(context.Background(), MaxIterations(1), bindings)
	require.NoError(t, err)

	out, _ := e.Outputs("echo")
	assert.Equal(t, cty.StringVal("hi"), out["msg"])
	assert.True(t, got.IsNull())
	assert.Equal(t, cty.String, got.Type())
}

func TestRun_Errors(t *testing.T) {
	t.Run("cell error stops the run", func(t *testing.T) {
		boom := errors.New("boom")
		g := dag.New()
		require.NoError(t, g.AddCell("bad", &cell.Func{
			CellName: "bad",
			Fn: func(ctx context.Context, in port.Values) (port.Values, cell.Result, error) {
				return nil, cell.OK, boom
			},
		}))
		e, err := New(g)
		require.NoError(t, err)

		_, err = e.Run(context.Background(), MaxIterations(5), nil)
		require.ErrorIs(t, err, boom)
		assert.ErrorContains(t, err, "node bad (bad) failed at iteration 0")
		assert.Equal(t, Failed, e.State("bad"))
	})

	t.Run("undeclared output is rejected", func(t *testing.T) {
		g := dag.New()
		require.NoError(t, g.AddCell("loose", &cell.Func{
			CellName: "loose",
			Fn: func(ctx context.Context, in port.Values) (port.Values, cell.Result, error) {
				return port.Values{"surprise": cty.True}, cell.OK, nil
			},
		}))
		e, err := New(g)
		require.NoError(t, err)

		_, err = e.Run(context.Background(), MaxIterations(1), nil)
		assert.ErrorContains(t, err, `undeclared output "surprise"`)
	})

	t.Run("invalid termination", func(t *testing.T) {
		e, err := New(sumGraph(t, 1))
		require.NoError(t, err)

		_, err = e.Run(context.Background(), Termination{}, nil)
		assert.ErrorContains(t, err, "termination needs")
		_, err = e.Run(context.Background(), MaxIterations(-1), nil)
		assert.ErrorContains(t, err, "must not be negative")
	})

	t.Run("cancelled context", func(t *testing.T) {
		e, err := New(sumGraph(t, 10))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = e.Run(ctx, UntilQuit(), nil)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("cyclic graph", func(t *testing.T) {
		g := dag.New()
		spec := port.Specs{{Name: "v", Type: cty.String}}
		require.NoError(t, g.AddCell("a", &cell.Func{CellName: "a", In: spec, Out: spec}))
		require.NoError(t, g.AddCell("b", &cell.Func{CellName: "b", In: spec, Out: spec}))
		require.NoError(t, g.Connect("a", "v", "b", "v"))
		require.NoError(t, g.Connect("b", "v", "a", "v"))

		_, err := New(g)
		assert.ErrorContains(t, err, "cycle detected")
	})
}

func TestTermination_String(t *testing.T) {
	assert.Equal(t, "until quit", UntilQuit().String())
	assert.Equal(t, "until quit (max 3 iterations)", UntilQuit().Bounded(3).String())
	assert.Equal(t, "5 iterations", MaxIterations(5).String())
}
