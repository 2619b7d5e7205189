package cell

import (
	"context"
	"testing"

	"github.com/specialistvlad/ortrain/internal/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestDefaults(t *testing.T) {
	t.Run("typed nulls without a defaulter", func(t *testing.T) {
		c := &Func{
			CellName: "plain",
			Out:      port.Specs{{Name: "count", Type: cty.Number}},
		}
		vals := Defaults(c)
		require.Contains(t, vals, "count")
		assert.True(t, vals["count"].IsNull())
	})

	t.Run("defaulter values overlay nulls", func(t *testing.T) {
		c := &Func{
			CellName: "counter",
			Out: port.Specs{
				{Name: "count", Type: cty.Number},
				{Name: "label", Type: cty.String},
			},
			Initial: port.Values{
				"count":      cty.NumberIntVal(0),
				"undeclared": cty.True,
			},
		}
		vals := Defaults(c)
		assert.Equal(t, cty.NumberIntVal(0), vals["count"])
		assert.True(t, vals["label"].IsNull())
		assert.NotContains(t, vals, "undeclared")
	})
}

func TestValidate(t *testing.T) {
	assert.Error(t, Validate(nil))

	bad := &Func{CellName: "bad", In: port.Specs{{Name: "x", Type: cty.String}, {Name: "x", Type: cty.String}}}
	assert.ErrorContains(t, Validate(bad), `cell "bad" inputs`)

	good := &Func{CellName: "good", In: port.Specs{{Name: "x", Type: cty.String}}}
	assert.NoError(t, Validate(good))
}

func TestFunc_Process(t *testing.T) {
	c := &Func{
		CellName: "echo",
		In:       port.Specs{{Name: "in", Type: cty.String}},
		Out:      port.Specs{{Name: "out", Type: cty.String}},
		Fn: func(_ context.Context, in port.Values) (port.Values, Result, error) {
			return port.Values{"out": in["in"]}, OK, nil
		},
	}

	out, res, err := c.Process(context.Background(), port.Values{"in": cty.StringVal("hi")})
	require.NoError(t, err)
	assert.Equal(t, OK, res)
	assert.Equal(t, cty.StringVal("hi"), out["out"])
	assert.Equal(t, "quit", Quit.String())
}
