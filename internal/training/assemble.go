// Package training assembles and runs the graph that trains one model:
//
//	ObservationDealer -> ModelBuilder (composite) -> PostProcessor -> ModelWriter
//
// Ports are connected by name intersection. A graph whose writer could never
// receive a db_document is rejected at assembly time.
package training

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/specialistvlad/ortrain/internal/ctxlog"
	"github.com/specialistvlad/ortrain/internal/database"
	"github.com/specialistvlad/ortrain/internal/dag"
	"github.com/specialistvlad/ortrain/internal/executor"
	"github.com/specialistvlad/ortrain/internal/monitor"
	"github.com/specialistvlad/ortrain/internal/observation"
	"github.com/specialistvlad/ortrain/internal/params"
	"github.com/specialistvlad/ortrain/internal/pipeline"
	"github.com/specialistvlad/ortrain/internal/store"
)

// Node ids of the assembled graph.
const (
	NodeModelBuilder  = "model_builder"
	NodePostProcessor = "post_processor"
	NodeWriter        = "writer"
)

// Request describes one training run for one object and one pipeline.
type Request struct {
	ObjectID       string
	SessionIDs     []string
	ObservationIDs []string
	Params         params.Params
	DB             store.Params
	// MaxIterations bounds the feed loop. Zero runs until every
	// observation has been dealt.
	MaxIterations int
	RunID         string
}

// Backend is the storage a training run reads from and writes to.
type Backend interface {
	store.ObservationReader
	store.ModelWriter
}

// Deps are the collaborators of a training run.
type Deps struct {
	Store    Backend
	Reporter monitor.Reporter
}

// Plan is an assembled training graph. It can be executed exactly once.
type Plan struct {
	request      Request
	pipelineType string
	graph        *dag.Graph
	exec         *executor.Executor
	dealer       *observation.Dealer
	builder      *pipeline.ModelBuilder
	writer       *modelWriter
	reporter     monitor.Reporter
	closeStore   func() error

	builderPorts []string
	postPorts    []string
	consumed     atomic.Bool
}

// Result summarises an executed plan.
type Result struct {
	ModelID            string
	Pipeline           string
	ObjectID           string
	Observations       int
	BuilderActivations int
	Document           json.RawMessage
}

// Assemble builds, validates and returns the training graph. It does not
// execute it.
func Assemble(ctx context.Context, req Request, p pipeline.Pipeline, deps Deps) (*Plan, error) {
	if req.ObjectID == "" {
		return nil, fmt.Errorf("training request needs an object id")
	}
	if req.MaxIterations < 0 {
		return nil, fmt.Errorf("max iterations must not be negative, got %d", req.MaxIterations)
	}
	typeName, err := pipeline.TypeNameOf(p)
	if err != nil {
		return nil, err
	}
	reporter := deps.Reporter
	if reporter == nil {
		reporter = monitor.Nop{}
	}

	ctx = ctxlog.With(ctx, "object_id", req.ObjectID, "pipeline", typeName)
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Assembling training graph.", "observations", len(req.ObservationIDs), "sessions", len(req.SessionIDs))

	// Without an injected store the plan opens, and later closes, its own.
	var closeStore func() error
	if deps.Store == nil {
		if req.DB.URL == "" {
			return nil, fmt.Errorf("training request needs a store or a database url")
		}
		s, err := database.Open(ctx, req.DB)
		if err != nil {
			return nil, err
		}
		deps.Store, closeStore = s, s.Close
	}
	fail := func(err error) (*Plan, error) {
		if closeStore != nil {
			_ = closeStore()
		}
		return nil, err
	}

	// 1. Observation source.
	dealer, err := observation.NewDealer(req.ObservationIDs, deps.Store,
		observation.OnDeal(func(ctx context.Context, index, total int, obs *store.Observation) {
			reporter.Report(ctx, monitor.Stamp(monitor.Event{
				RunID: req.RunID, ObjectID: req.ObjectID, Pipeline: typeName,
				Kind: monitor.KindObservation, Observation: obs.ID, Index: index, Total: total,
			}))
		}))
	if err != nil {
		return fail(err)
	}

	// 2. Pipeline factories, with the same parameters.
	builder, err := p.IncrementalModelBuilder(req.Params)
	if err != nil {
		return fail(fmt.Errorf("pipeline %s: failed to create incremental model builder: %w", typeName, err))
	}
	post, err := p.PostProcessor(req.Params)
	if err != nil {
		return fail(fmt.Errorf("pipeline %s: failed to create post processor: %w", typeName, err))
	}
	if builder == nil || post == nil {
		return fail(fmt.Errorf("pipeline %s returned a nil cell", typeName))
	}

	// 3. Feed loop composite.
	term := executor.UntilQuit()
	if req.MaxIterations > 0 {
		term = executor.MaxIterations(req.MaxIterations)
	}
	composite, err := pipeline.NewModelBuilder(dealer, builder, pipeline.WithTermination(term))
	if err != nil {
		return fail(fmt.Errorf("pipeline %s: %w", typeName, err))
	}

	mismatch := func(reason string) error {
		return &PortMismatchError{
			Pipeline:       typeName,
			Reason:         reason,
			BuilderOutputs: composite.Outputs().Names(),
			PostInputs:     post.Inputs().Names(),
			PostOutputs:    post.Outputs().Names(),
		}
	}
	if !post.Outputs().Has(pipeline.DocumentPort) {
		return fail(mismatch("post-processor has no " + pipeline.DocumentPort + " output"))
	}

	// 4. Composite -> post-processor.
	g := dag.New()
	if err := g.AddCell(NodeModelBuilder, composite); err != nil {
		return fail(err)
	}
	if err := g.AddCell(NodePostProcessor, post); err != nil {
		return fail(err)
	}
	postPorts, err := g.ConnectByName(NodeModelBuilder, NodePostProcessor)
	if err != nil {
		return fail(fmt.Errorf("pipeline %s: %w", typeName, err))
	}
	if len(postPorts) == 0 {
		return fail(mismatch("post-processor inputs share no port with the builder outputs"))
	}

	// 5. Writer.
	paramsJSON, err := req.Params.MarshalJSON()
	if err != nil {
		return fail(fmt.Errorf("failed to serialise pipeline parameters: %w", err))
	}
	writer := &modelWriter{
		w: deps.Store,
		meta: store.Model{
			ObjectID:   req.ObjectID,
			SessionIDs: append([]string(nil), req.SessionIDs...),
			ModelType:  typeName,
			Parameters: paramsJSON,
			RunID:      req.RunID,
		},
	}
	if err := g.AddCell(NodeWriter, writer); err != nil {
		return fail(err)
	}

	// 6. Post-processor db_document -> writer.
	if err := g.Connect(NodePostProcessor, pipeline.DocumentPort, NodeWriter, pipeline.DocumentPort); err != nil {
		return fail(fmt.Errorf("pipeline %s: %w", typeName, err))
	}

	exec, err := executor.New(g)
	if err != nil {
		return fail(err)
	}

	logger.Debug("Training graph assembled.", "builder_ports", composite.Connections(), "post_ports", postPorts)
	return &Plan{
		request:      req,
		pipelineType: typeName,
		graph:        g,
		exec:         exec,
		dealer:       dealer,
		builder:      composite,
		writer:       writer,
		reporter:     reporter,
		closeStore:   closeStore,
		builderPorts: composite.Connections(),
		postPorts:    postPorts,
	}, nil
}

// Graph returns the assembled graph.
func (p *Plan) Graph() *dag.Graph { return p.graph }

// Pipeline returns the pipeline type name.
func (p *Plan) Pipeline() string { return p.pipelineType }

// BuilderConnections returns the ports wired from the dealer to the builder.
func (p *Plan) BuilderConnections() []string { return append([]string(nil), p.builderPorts...) }

// PostProcessorConnections returns the ports wired from the builder
// composite to the post-processor.
func (p *Plan) PostProcessorConnections() []string { return append([]string(nil), p.postPorts...) }

// Execute runs the graph once: the feed loop, the post-processor, and the
// writer, each activated a single time at the outer level.
func (p *Plan) Execute(ctx context.Context) (*Result, error) {
	if !p.consumed.CompareAndSwap(false, true) {
		return nil, ErrPlanConsumed
	}

	if p.closeStore != nil {
		defer func() {
			if err := p.closeStore(); err != nil {
				ctxlog.FromContext(ctx).Warn("Failed to close store.", "error", err)
			}
		}()
	}

	ctx = ctxlog.With(ctx, "object_id", p.request.ObjectID, "pipeline", p.pipelineType)
	event := monitor.Event{RunID: p.request.RunID, ObjectID: p.request.ObjectID, Pipeline: p.pipelineType}

	started := event
	started.Kind, started.Total = monitor.KindRunStarted, p.dealer.Total()
	p.reporter.Report(ctx, monitor.Stamp(started))

	report, err := p.exec.Run(ctx, executor.MaxIterations(1), nil)
	if err == nil && p.writer.activity != 1 {
		err = fmt.Errorf("model writer ran %d times, want 1 (quit signalled by %q)", p.writer.activity, report.QuitBy)
	}
	if err != nil {
		failed := event
		failed.Kind, failed.Err = monitor.KindFailed, err.Error()
		p.reporter.Report(ctx, monitor.Stamp(failed))
		return nil, fmt.Errorf("training %s for object %s failed: %w", p.pipelineType, p.request.ObjectID, err)
	}

	written := event
	written.Kind, written.ModelID, written.Total = monitor.KindModelWritten, p.writer.lastID, p.dealer.Dealt()
	p.reporter.Report(ctx, monitor.Stamp(written))

	return &Result{
		ModelID:            p.writer.lastID,
		Pipeline:           p.pipelineType,
		ObjectID:           p.request.ObjectID,
		Observations:       p.dealer.Dealt(),
		BuilderActivations: p.builder.BuilderActivations(),
		Document:           p.writer.lastDoc,
	}, nil
}
