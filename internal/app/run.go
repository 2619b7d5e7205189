package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/specialistvlad/ortrain/internal/config"
	"github.com/specialistvlad/ortrain/internal/ctxlog"
	"github.com/specialistvlad/ortrain/internal/database"
	"github.com/specialistvlad/ortrain/internal/monitor"
	"github.com/specialistvlad/ortrain/internal/store"
	"github.com/specialistvlad/ortrain/internal/training"
	"golang.org/x/sync/errgroup"
)

// Outcome is the result of training one object with one pipeline.
type Outcome struct {
	ObjectID     string
	Pipeline     string
	ModelID      string
	Observations int
	Duration     time.Duration
	Err          error
}

// Run trains every configured object with every selected pipeline. Objects
// are trained in parallel, bounded by WorkerCount; one object's failure does
// not stop the others. The returned error joins every failure.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.ctx = ctx
	a.logger.Debug("App.Run method started.", "run_id", a.opts.runID)

	if a.config.HealthcheckPort > 0 {
		if err := a.startHealthcheckServer(); err != nil {
			return err
		}
		defer a.closeHealthcheckServer()
	}

	pipelines, err := a.selectPipelines()
	if err != nil {
		return err
	}

	s, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	reporter := a.openReporter(ctx)
	defer func() {
		if err := reporter.Close(); err != nil {
			a.logger.Warn("Failed to close progress reporter.", "error", err)
		}
	}()

	a.logger.Info("🚀 Starting training...", "objects", len(a.model.ObjectIDs), "pipelines", pipelines, "workers", a.config.WorkerCount)
	outcomes := a.trainAll(ctx, s, reporter, pipelines)
	a.printSummary(outcomes)

	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("object %s, pipeline %s: %w", o.ObjectID, o.Pipeline, o.Err))
		}
	}
	reporter.Report(ctx, monitor.Stamp(monitor.Event{
		RunID: a.opts.runID, Kind: monitor.KindRunFinished, Total: len(outcomes), Index: len(outcomes) - len(errs),
	}))
	a.logger.Info("🏁 Training finished.", "models", len(outcomes)-len(errs), "failures", len(errs))
	return errors.Join(errs...)
}

// selectPipelines returns the pipelines named in the configuration, or every
// registered pipeline that has a parameter block. A listed name that is not
// registered is kept: it fails only its own outcomes.
func (a *App) selectPipelines() ([]string, error) {
	if len(a.model.Pipelines) > 0 {
		for _, name := range a.model.Pipelines {
			if _, err := a.registry.Lookup(name); err != nil {
				a.logger.Warn("Listed pipeline is not registered, its models will fail.", "pipeline", name, "error", err)
			}
		}
		return a.model.Pipelines, nil
	}

	var names []string
	for _, name := range a.registry.Names() {
		if _, ok := a.model.PipelineParams(name); ok {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no pipeline selected: add a parameter block for one of %v or list pipelines under %q",
			a.registry.Names(), config.KeyPipelines)
	}
	return names, nil
}

func (a *App) openStore(ctx context.Context) (store.Store, func(), error) {
	if a.opts.store != nil {
		return a.opts.store, func() {}, nil
	}
	s, err := database.Open(ctx, a.model.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := s.Init(ctx); err != nil {
		_ = s.Close()
		return nil, nil, fmt.Errorf("failed to initialise database: %w", err)
	}
	return s, func() {
		if err := s.Close(); err != nil {
			a.logger.Warn("Failed to close database.", "error", err)
		}
	}, nil
}

// openReporter always logs progress. A configured socket.io monitor that
// cannot be reached is skipped with a warning.
func (a *App) openReporter(ctx context.Context) monitor.Reporter {
	reporters := monitor.Multi{monitor.Log{}}
	if a.opts.reporter != nil {
		reporters = append(reporters, a.opts.reporter)
	}
	if m := a.model.Monitor; m != nil {
		sio, err := monitor.DialSocketIO(ctx, monitor.SocketIOConfig{
			URL:                m.URL,
			Namespace:          m.Namespace,
			Event:              m.Event,
			Timeout:            m.Timeout,
			InsecureSkipVerify: m.InsecureSkipVerify,
		})
		if err != nil {
			a.logger.Warn("Progress monitor unavailable, continuing without it.", "url", m.URL, "error", err)
		} else {
			reporters = append(reporters, sio)
		}
	}
	return reporters
}

func (a *App) trainAll(ctx context.Context, s store.Store, reporter monitor.Reporter, pipelines []string) []Outcome {
	perObject := make([][]Outcome, len(a.model.ObjectIDs))

	var g errgroup.Group
	g.SetLimit(a.config.WorkerCount)
	for i, objectID := range a.model.ObjectIDs {
		g.Go(func() error {
			perObject[i] = a.trainObject(ctx, s, reporter, objectID, pipelines)
			return nil
		})
	}
	_ = g.Wait()

	var outcomes []Outcome
	for _, o := range perObject {
		outcomes = append(outcomes, o...)
	}
	return outcomes
}

func (a *App) trainObject(ctx context.Context, s store.Store, reporter monitor.Reporter, objectID string, pipelines []string) []Outcome {
	ctx = ctxlog.With(ctx, "object_id", objectID)
	logger := ctxlog.FromContext(ctx)

	outcomes := make([]Outcome, len(pipelines))
	for i, name := range pipelines {
		outcomes[i] = Outcome{ObjectID: objectID, Pipeline: name}
	}

	refs, err := s.ListObservations(ctx, objectID)
	if err != nil {
		logger.Error("Failed to list observations.", "error", err)
		for i := range outcomes {
			outcomes[i].Err = fmt.Errorf("failed to list observations: %w", err)
		}
		return outcomes
	}
	if len(refs) == 0 {
		logger.Warn("Object has no observations, models will be empty.")
	}

	for i, name := range pipelines {
		start := time.Now()
		res, err := a.trainOne(ctx, s, reporter, objectID, name, refs)
		outcomes[i].Duration = time.Since(start)
		if err != nil {
			logger.Error("Training failed.", "pipeline", name, "error", err)
			outcomes[i].Err = err
			continue
		}
		outcomes[i].ModelID = res.ModelID
		outcomes[i].Observations = res.Observations
		logger.Info("Model trained.", "pipeline", name, "model_id", res.ModelID, "observations", res.Observations, "duration", outcomes[i].Duration)
	}
	return outcomes
}

// ErrPipelinePanicked marks an outcome whose pipeline panicked. The panic is
// confined to that object and pipeline.
var ErrPipelinePanicked = errors.New("pipeline panicked")

func (a *App) trainOne(ctx context.Context, s store.Store, reporter monitor.Reporter, objectID, name string, refs []store.ObservationRef) (res *training.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			ctxlog.FromContext(ctx).Error("Pipeline panicked.", "pipeline", name, "panic", r, "stack", string(debug.Stack()))
			res = nil
			err = fmt.Errorf("%w: %v", ErrPipelinePanicked, r)
		}
	}()

	p, err := a.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	prm, _ := a.model.PipelineParams(name)

	plan, err := training.Assemble(ctx, training.Request{
		ObjectID:       objectID,
		SessionIDs:     store.SessionIDs(refs),
		ObservationIDs: store.ObservationIDs(refs),
		Params:         prm,
		MaxIterations:  a.config.MaxIterations,
		RunID:          a.opts.runID,
	}, p, training.Deps{Store: s, Reporter: reporter})
	if err != nil {
		return nil, err
	}
	return plan.Execute(ctx)
}
