package main

import (
	"context"
	"fmt"

	"github.com/JaimeStill/billwatch/internal/audit"
	"github.com/JaimeStill/billwatch/internal/config"
	"github.com/JaimeStill/billwatch/internal/infrastructure"
	"github.com/JaimeStill/billwatch/internal/pipeline"
	"github.com/JaimeStill/billwatch/internal/render"
	"github.com/JaimeStill/billwatch/internal/source"
)

// App is a started process: configuration plus running infrastructure.
type App struct {
	cfg   *config.Config
	infra *infrastructure.Infrastructure
}

// NewApp initializes and starts the infrastructure.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	infra, err := infrastructure.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	infra.Logger.Info(
		"billwatch starting",
		"version", cfg.Version,
		"env", cfg.Env(),
		"state", cfg.State.Backend,
		"storage", cfg.Storage.Backend,
		"sink", cfg.Sink.Backend,
	)

	if err := infra.Start(); err != nil {
		infra.Lifecycle.Shutdown(cfg.Run.ShutdownTimeoutDuration())
		return nil, err
	}

	return &App{cfg: cfg, infra: infra}, nil
}

// Context returns the run context, cancelled on shutdown.
func (a *App) Context() context.Context {
	return a.infra.Lifecycle.Context()
}

// Runner assembles the pipeline collaborators from configuration.
func (a *App) Runner() (*pipeline.Runner, error) {
	var sink audit.Sink
	switch a.cfg.Sink.Backend {
	case config.SinkPostgres:
		sink = audit.NewPostgresSink(a.infra.Database.Connection(), a.cfg.Audit.BatchSize, a.infra.Logger)
	default:
		sink = audit.NewFileSink(a.cfg.Sink.Path)
	}

	var baseline *source.Baseline
	if !a.cfg.Audit.DisableBaseline {
		baseline = source.LoadBaseline(a.Context(), a.infra.State, a.infra.Logger)
	}

	runner, err := pipeline.New(a.cfg.Pipeline(), pipeline.Deps{
		Source:   source.NewFile(a.cfg.Source.Path),
		Renderer: render.NewManifest(a.infra.Storage, a.cfg.Render.Prefix, a.infra.Logger),
		Sink:     sink,
		State:    a.infra.State,
		Baseline: baseline,
		Logger:   a.infra.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}
	return runner, nil
}

// EventLog returns a reader over the configured audit sink.
func (a *App) EventLog() audit.Log {
	if a.cfg.Sink.Backend == config.SinkPostgres {
		return audit.NewPostgresLog(a.infra.Database.Connection(), a.cfg.Pagination)
	}
	return audit.NewFileLog(a.cfg.Sink.Path, a.cfg.Pagination)
}

// Shutdown stops every system within the configured timeout.
func (a *App) Shutdown() error {
	a.infra.Logger.Info("initiating shutdown")
	return a.infra.Lifecycle.Shutdown(a.cfg.Run.ShutdownTimeoutDuration())
}
