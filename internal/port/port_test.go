package port

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

type blob struct{}

var blobType = cty.Capsule("blob", reflect.TypeOf(blob{}))

func TestIntersect(t *testing.T) {
	outs := Specs{
		{Name: "image", Type: blobType},
		{Name: "depth", Type: blobType},
		{Name: "K", Type: cty.List(cty.Number)},
		{Name: "observation_id", Type: cty.String},
	}
	ins := Specs{
		{Name: "K", Type: cty.List(cty.Number)},
		{Name: "image", Type: blobType},
		{Name: "points", Type: cty.DynamicPseudoType},
	}

	assert.Equal(t, []string{"image", "K"}, Intersect(outs, ins))
	assert.Empty(t, Intersect(outs, Specs{{Name: "other", Type: cty.String}}))
	assert.Empty(t, Intersect(nil, ins))
}

func TestSpecs_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		require.NoError(t, Specs{{Name: "a", Type: cty.String}, {Name: "b", Type: cty.Number}}.Validate())
	})

	t.Run("error cases", func(t *testing.T) {
		assert.ErrorContains(t, Specs{{Name: "", Type: cty.String}}.Validate(), "empty name")
		assert.ErrorContains(t, Specs{{Name: "a"}}.Validate(), "no type")
		assert.ErrorContains(t, Specs{{Name: "a", Type: cty.String}, {Name: "a", Type: cty.String}}.Validate(), "more than once")
	})
}

func TestCompatible(t *testing.T) {
	testCases := []struct {
		name string
		from cty.Type
		to   cty.Type
		want bool
	}{
		{name: "identical", from: cty.String, to: cty.String, want: true},
		{name: "number to string converts", from: cty.Number, to: cty.String, want: true},
		{name: "anything to dynamic", from: blobType, to: cty.DynamicPseudoType, want: true},
		{name: "capsule to string", from: blobType, to: cty.String, want: false},
		{name: "tuple to list", from: cty.Tuple([]cty.Type{cty.Number, cty.Number}), to: cty.List(cty.Number), want: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Compatible(tc.from, tc.to))
		})
	}
}

func TestNullsAndConvert(t *testing.T) {
	specs := Specs{{Name: "count", Type: cty.Number}, {Name: "image", Type: blobType}}
	vals := Nulls(specs)
	require.Len(t, vals, 2)
	assert.True(t, vals["count"].IsNull())
	assert.True(t, vals["image"].Type().Equals(blobType))

	converted, err := Convert(cty.NumberIntVal(3), cty.String)
	require.NoError(t, err)
	assert.Equal(t, cty.StringVal("3"), converted)
}
