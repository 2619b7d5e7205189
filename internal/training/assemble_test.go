package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/specialistvlad/ortrain/internal/cell"
	"github.com/specialistvlad/ortrain/internal/monitor"
	"github.com/specialistvlad/ortrain/internal/observation"
	"github.com/specialistvlad/ortrain/internal/params"
	"github.com/specialistvlad/ortrain/internal/pipeline"
	"github.com/specialistvlad/ortrain/internal/port"
	"github.com/specialistvlad/ortrain/internal/store"
	"github.com/specialistvlad/ortrain/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

// countingPipeline counts observation ids and stores {"count": n}.
type countingPipeline struct {
	pipeline.Base
	postInputs  port.Specs
	postOutputs port.Specs
	postSeen    []cty.Value
}

func newCounting() *countingPipeline {
	return &countingPipeline{
		postInputs:  port.Specs{{Name: "count", Type: cty.Number}},
		postOutputs: port.Specs{{Name: pipeline.DocumentPort, Type: cty.String}},
	}
}

func (p *countingPipeline) TypeName() string { return "counting" }

func (p *countingPipeline) IncrementalModelBuilder(params.Params) (cell.Cell, error) {
	var n int64
	return &cell.Func{
		CellName: "counter",
		In:       observation.Specs(observation.PortObservationID),
		Out:      port.Specs{{Name: "count", Type: cty.Number}},
		Initial:  port.Values{"count": cty.NumberIntVal(0)},
		Fn: func(ctx context.Context, in port.Values) (port.Values, cell.Result, error) {
			if in[observation.PortObservationID].IsNull() {
				return nil, cell.OK, fmt.Errorf("observation id missing")
			}
			n++
			return port.Values{"count": cty.NumberIntVal(n)}, cell.OK, nil
		},
	}, nil
}

func (p *countingPipeline) PostProcessor(params.Params) (cell.Cell, error) {
	return &cell.Func{
		CellName: "count_document",
		In:       p.postInputs,
		Out:      p.postOutputs,
		Fn: func(ctx context.Context, in port.Values) (port.Values, cell.Result, error) {
			p.postSeen = append(p.postSeen, in["count"])
			n, _ := in["count"].AsBigFloat().Int64()
			return port.Values{pipeline.DocumentPort: cty.StringVal(fmt.Sprintf(`{"count":%d}`, n))}, cell.OK, nil
		},
	}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []monitor.Event
}

func (r *recorder) Report(_ context.Context, ev monitor.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Close() error { return nil }

func (r *recorder) kinds() []monitor.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []monitor.Kind
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func seed(t *testing.T, s *memory.Store, objectID string, n int) []string {
	t.Helper()
	var ids []string
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-%d", objectID, i)
		ids = append(ids, id)
		require.NoError(t, s.WriteObservation(context.Background(), &store.Observation{
			ID: id, ObjectID: objectID, SessionID: "s1", FrameNumber: i,
		}))
	}
	return ids
}

func TestAssembleAndExecute_WritesOneModel(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	ids := seed(t, s, "obj1", 3)
	rec := &recorder{}
	p := newCounting()

	plan, err := Assemble(ctx, Request{
		ObjectID:       "obj1",
		SessionIDs:     []string{"s1"},
		ObservationIDs: ids,
		Params:         params.Empty(),
		RunID:          "run-1",
	}, p, Deps{Store: s, Reporter: rec})
	require.NoError(t, err)
	assert.Equal(t, "counting", plan.Pipeline())
	assert.Equal(t, []string{observation.PortObservationID}, plan.BuilderConnections())
	assert.Equal(t, []string{"count"}, plan.PostProcessorConnections())

	res, err := plan.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Observations)
	assert.Equal(t, 3, res.BuilderActivations)
	assert.JSONEq(t, `{"count":3}`, string(res.Document))
	require.Len(t, p.postSeen, 1, "post processor runs once")

	models, err := s.ListModels(ctx, "obj1")
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, res.ModelID, models[0].ID)
	assert.Equal(t, "counting", models[0].ModelType)
	assert.Equal(t, []string{"s1"}, models[0].SessionIDs)
	assert.Equal(t, "run-1", models[0].RunID)
	assert.JSONEq(t, `{"count":3}`, string(models[0].Document))
	assert.JSONEq(t, `{}`, string(models[0].Parameters))

	assert.Equal(t, []monitor.Kind{
		monitor.KindRunStarted,
		monitor.KindObservation, monitor.KindObservation, monitor.KindObservation,
		monitor.KindModelWritten,
	}, rec.kinds())
}

func TestExecute_EmptySequenceWritesDefaults(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	p := newCounting()

	plan, err := Assemble(ctx, Request{ObjectID: "obj1", Params: params.Empty()}, p, Deps{Store: s})
	require.NoError(t, err)

	res, err := plan.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.BuilderActivations)
	assert.Equal(t, 0, res.Observations)
	require.Len(t, p.postSeen, 1)
	assert.Equal(t, cty.NumberIntVal(0), p.postSeen[0])
	assert.JSONEq(t, `{"count":0}`, string(res.Document))
}

func TestExecute_MaxIterations(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	ids := seed(t, s, "obj1", 5)

	plan, err := Assemble(ctx, Request{ObjectID: "obj1", ObservationIDs: ids, MaxIterations: 2}, newCounting(), Deps{Store: s})
	require.NoError(t, err)
	res, err := plan.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.BuilderActivations)
	assert.JSONEq(t, `{"count":2}`, string(res.Document))
}

func TestExecute_OnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	ids := seed(t, s, "obj1", 1)

	plan, err := Assemble(ctx, Request{ObjectID: "obj1", ObservationIDs: ids}, newCounting(), Deps{Store: s})
	require.NoError(t, err)
	_, err = plan.Execute(ctx)
	require.NoError(t, err)

	_, err = plan.Execute(ctx)
	assert.ErrorIs(t, err, ErrPlanConsumed)

	models, err := s.ListModels(ctx, "obj1")
	require.NoError(t, err)
	assert.Len(t, models, 1)
}

func TestExecute_MissingObservation(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec := &recorder{}

	plan, err := Assemble(ctx, Request{ObjectID: "obj1", ObservationIDs: []string{"nope"}}, newCounting(), Deps{Store: s, Reporter: rec})
	require.NoError(t, err)
	_, err = plan.Execute(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Contains(t, rec.kinds(), monitor.KindFailed)

	models, err := s.ListModels(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, models)
}

func TestAssemble_PortMismatch(t *testing.T) {
	ctx := context.Background()

	t.Run("no shared ports", func(t *testing.T) {
		p := newCounting()
		p.postInputs = port.Specs{{Name: "descriptors", Type: cty.Number}}
		_, err := Assemble(ctx, Request{ObjectID: "obj1"}, p, Deps{Store: memory.New()})
		var mismatch *PortMismatchError
		require.True(t, errors.As(err, &mismatch), "got %v", err)
		assert.Equal(t, "counting", mismatch.Pipeline)
		assert.Equal(t, []string{"count"}, mismatch.BuilderOutputs)
		assert.Equal(t, []string{"descriptors"}, mismatch.PostInputs)
		assert.ErrorContains(t, err, "share no port")
	})

	t.Run("no document output", func(t *testing.T) {
		p := newCounting()
		p.postOutputs = port.Specs{{Name: "summary", Type: cty.String}}
		_, err := Assemble(ctx, Request{ObjectID: "obj1"}, p, Deps{Store: memory.New()})
		var mismatch *PortMismatchError
		require.True(t, errors.As(err, &mismatch), "got %v", err)
		assert.ErrorContains(t, err, "no db_document output")
	})
}

func TestAssemble_InvalidRequest(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		req  Request
		p    pipeline.Pipeline
		deps Deps
		want string
	}{
		{name: "no object", req: Request{}, p: newCounting(), deps: Deps{Store: memory.New()}, want: "object id"},
		{name: "negative bound", req: Request{ObjectID: "o", MaxIterations: -1}, p: newCounting(), deps: Deps{Store: memory.New()}, want: "must not be negative"},
		{name: "unnamed pipeline", req: Request{ObjectID: "o"}, p: struct{ pipeline.Base }{}, deps: Deps{Store: memory.New()}, want: "type name"},
		{name: "no store", req: Request{ObjectID: "o"}, p: newCounting(), want: "database url"},
		{name: "unsupported url", req: Request{ObjectID: "o", DB: store.Params{URL: "ftp://x"}}, p: newCounting(), want: "unsupported"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Assemble(ctx, tc.req, tc.p, tc.deps)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestAssemble_OpensStoreFromURL(t *testing.T) {
	ctx := context.Background()
	s := memory.Open("assemble-test")
	ids := seed(t, s, "obj9", 2)

	plan, err := Assemble(ctx, Request{
		ObjectID:       "obj9",
		ObservationIDs: ids,
		DB:             store.Params{URL: "memory://assemble-test"},
	}, newCounting(), Deps{})
	require.NoError(t, err)
	res, err := plan.Execute(ctx)
	require.NoError(t, err)

	m, err := s.ReadModel(ctx, res.ModelID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":2}`, string(m.Document))
}

func TestDocumentJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      cty.Value
		want    string
		wantErr error
	}{
		{name: "json string kept verbatim", in: cty.StringVal(`{"a":1}`), want: `{"a":1}`},
		{name: "plain string encoded", in: cty.StringVal("hello"), want: `"hello"`},
		{name: "object encoded", in: cty.ObjectVal(map[string]cty.Value{"n": cty.NumberIntVal(2)}), want: `{"n":2}`},
		{name: "null", in: cty.NullVal(cty.String), wantErr: ErrNoDocument},
		{name: "nil", in: cty.NilVal, wantErr: ErrNoDocument},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DocumentJSON(tc.in)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(got))
		})
	}

	_, err := DocumentJSON(cty.UnknownVal(cty.String))
	assert.ErrorContains(t, err, "not fully known")
}
