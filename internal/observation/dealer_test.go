package observation

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/specialistvlad/ortrain/internal/cell"
	"github.com/specialistvlad/ortrain/internal/store"
	"github.com/specialistvlad/ortrain/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func seeded(t *testing.T, n int) (*memory.Store, []string) {
	t.Helper()
	s := memory.New()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("obs-%d", n-i) // deliberately not sorted
		require.NoError(t, s.WriteObservation(context.Background(), &store.Observation{
			ID:          ids[i],
			ObjectID:    "obj1",
			SessionID:   "s1",
			FrameNumber: i,
			K:           [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		}))
	}
	return s, ids
}

func TestDealer_EmitsEverySequenceInOrder(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("%d observations", n), func(t *testing.T) {
			s, ids := seeded(t, n)
			var hooked []int
			d, err := NewDealer(ids, s, OnDeal(func(ctx context.Context, index, total int, obs *store.Observation) {
				hooked = append(hooked, index)
				assert.Equal(t, n, total)
			}))
			require.NoError(t, err)
			assert.Equal(t, Idle, d.State())

			var emitted []string
			for i := 0; i < n; i++ {
				assert.NotEqual(t, Exhausted, d.State(), "exhausted before emission %d", i+1)
				out, res, err := d.Process(context.Background(), nil)
				require.NoError(t, err)
				require.Equal(t, cell.OK, res)
				emitted = append(emitted, String(out[PortObservationID]))
			}

			assert.Equal(t, ids, emitted)
			assert.Equal(t, Exhausted, d.State())
			assert.Equal(t, n, d.Dealt())
			assert.Len(t, hooked, n)

			for i := 0; i < 2; i++ {
				out, res, err := d.Process(context.Background(), nil)
				require.NoError(t, err)
				assert.Equal(t, cell.Quit, res)
				assert.Nil(t, out)
			}
			assert.Equal(t, n, d.Dealt())
		})
	}
}

func TestDealer_EmptySequence(t *testing.T) {
	d, err := NewDealer(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Exhausted, d.State())

	_, res, err := d.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, cell.Quit, res)
}

func TestDealer_ReadError(t *testing.T) {
	d, err := NewDealer([]string{"missing"}, memory.New())
	require.NoError(t, err)

	_, _, err = d.Process(context.Background(), nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, Idle, d.State(), "a failed read does not advance the sequence")

	_, err = NewDealer([]string{"a"}, nil)
	assert.Error(t, err)
}

func TestDealer_NonFiniteCalibration(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.WriteObservation(context.Background(), &store.Observation{
		ID: "bad", ObjectID: "obj1", SessionID: "s1",
		R: [9]float64{math.NaN(), 0, 0, 0, 1, 0, 0, 0, 1},
	}))
	d, err := NewDealer([]string{"bad"}, s)
	require.NoError(t, err)

	_, _, err = d.Process(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "observation bad")
	assert.Contains(t, err.Error(), "R[0] is not a finite number")
	assert.Equal(t, Idle, d.State())
}

func TestValues_RejectsNonFinite(t *testing.T) {
	testCases := map[string]*store.Observation{
		"NaN in K":  {K: [9]float64{math.NaN()}},
		"+Inf in T": {T: [3]float64{0, math.Inf(1), 0}},
		"-Inf in R": {R: [9]float64{0, 0, 0, 0, 0, 0, 0, 0, math.Inf(-1)}},
	}
	for name, obs := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := Values(obs)
			assert.ErrorContains(t, err, "is not a finite number")
		})
	}
}

func TestValues(t *testing.T) {
	obs := &store.Observation{
		ID:          "o1",
		SessionID:   "s1",
		FrameNumber: 4,
		Mask:        &store.Image{Width: 1, Height: 1, Channels: 1, BytesPerSample: 1, Data: []byte{1}},
		K:           [9]float64{2, 0, 1, 0, 2, 1, 0, 0, 1},
	}
	vals, err := Values(obs)
	require.NoError(t, err)

	for _, spec := range Ports {
		v, ok := vals[spec.Name]
		require.True(t, ok, "missing port %s", spec.Name)
		assert.True(t, v.Type().Equals(spec.Type), "port %s has type %s", spec.Name, v.Type().FriendlyName())
	}

	assert.True(t, vals[PortImage].IsNull())
	mask, ok := store.ImageFromVal(vals[PortMask])
	require.True(t, ok)
	assert.Equal(t, []byte{1}, mask.Data)
	assert.Equal(t, obs.K[:], Matrix(vals[PortK]))
	assert.Len(t, Matrix(vals[PortT]), 3)
	assert.Equal(t, cty.NumberIntVal(4), vals[PortFrameNumber])

	assert.Nil(t, Matrix(cty.NullVal(MatrixType)))
	assert.Equal(t, "", String(cty.NullVal(cty.String)))
	assert.Equal(t, []string{"K", "image"}, Specs("K", "nope", "image").Names())
}
