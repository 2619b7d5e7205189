package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/specialistvlad/ortrain/internal/config"
	"github.com/specialistvlad/ortrain/internal/ctxlog"
	"github.com/specialistvlad/ortrain/internal/monitor"
	"github.com/specialistvlad/ortrain/internal/registry"
	"github.com/specialistvlad/ortrain/internal/store"
)

// Option customises an App, mostly for tests.
type Option func(*options)

type options struct {
	catalog  registry.Catalog
	store    store.Store
	reporter monitor.Reporter
	runID    string
}

// WithCatalog replaces CoreCatalog.
func WithCatalog(c registry.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithStore makes the app use s instead of opening the configured database.
// The app does not close it.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithReporter adds a progress reporter next to the log.
func WithReporter(r monitor.Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	ctx      context.Context
	config   *Config
	model    *config.Model
	registry *registry.Registry
	failures []*registry.ModuleError
	opts     options

	httpServer *echo.Echo
}

// NewApp loads the configuration and discovers the pipelines. Modules that
// fail to register are logged and skipped.
func NewApp(ctx context.Context, outW io.Writer, cfg *Config, loader config.Loader, opts ...Option) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	o := options{catalog: CoreCatalog(), runID: uuid.NewString()}
	for _, opt := range opts {
		opt(&o)
	}

	model, err := loader.Load(ctx, cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	logger.Debug("Configuration loaded.", "objects", len(model.ObjectIDs), "namespaces", model.Namespaces)

	res, err := registry.Discover(ctx, o.catalog, model.Namespaces)
	if err != nil {
		return nil, fmt.Errorf("failed to discover pipelines: %w", err)
	}
	for _, f := range res.Failures {
		logger.Warn("Pipeline module skipped.", "namespace", f.Namespace, "module", f.Module, "error", f.Err)
	}
	logger.Debug("Pipelines discovered.", "pipelines", res.Registry.Names())

	return &App{
		outW:     outW,
		logger:   logger,
		ctx:      ctx,
		config:   cfg,
		model:    model,
		registry: res.Registry,
		failures: res.Failures,
		opts:     o,
	}, nil
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Model returns the loaded configuration.
func (a *App) Model() *config.Model {
	return a.model
}

// RunID identifies the models written by this app.
func (a *App) RunID() string {
	return a.opts.runID
}
