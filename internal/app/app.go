// Package app assembles the store pool, schema tools, pipeline and tool
// dispatcher from configuration. Both the HTTP and the MCP binaries start
// from here.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/querygate/querygate/internal/api"
	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/dialect"
	"github.com/querygate/querygate/internal/generator"
	"github.com/querygate/querygate/internal/history"
	historypostgres "github.com/querygate/querygate/internal/history/postgres"
	"github.com/querygate/querygate/internal/pipeline"
	"github.com/querygate/querygate/internal/pool"
	mysqlengine "github.com/querygate/querygate/internal/query/mysql"
	"github.com/querygate/querygate/internal/regen"
	"github.com/querygate/querygate/internal/schema"
	"github.com/querygate/querygate/internal/tools"
)

type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Pool      *pool.Manager
	Checker   *dialect.Checker
	Inspector *schema.Inspector
	Generator generator.Generator
	Pipeline  *pipeline.Pipeline
	Tools     *tools.Dispatcher
	History   history.Reader

	historyStore *historypostgres.Store
	historyDB    *sql.DB
}

// New opens the store pool and, when enabled, the history database.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	manager, err := pool.Open(ctx, cfg.Store, cfg.Pipeline.Retries, cfg.Pipeline.RetryBackoff, logger)
	if err != nil {
		return nil, fmt.Errorf("open store pool: %w", err)
	}
	a := &App{Config: cfg, Logger: logger, Pool: manager}

	if cfg.AI.GenerateEnabled {
		gen, err := generator.NewOpenAIGenerator(generator.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("initialize sql generator: %w", err)
		}
		a.Generator = gen
	}

	var recorder history.Recorder = history.Nop{}
	if cfg.History.Enabled {
		db, err := historypostgres.Open(ctx, historypostgres.DBConfig{
			DSN:             cfg.History.DSN,
			MaxOpenConns:    cfg.History.MaxOpenConns,
			MaxIdleConns:    cfg.History.MaxIdleConns,
			ConnMaxIdleTime: cfg.History.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.History.ConnMaxLifetime,
			PingAttempts:    3,
		})
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.historyDB = db
		a.historyStore = historypostgres.NewStore(db)
		a.History = a.historyStore
		recorder = a.historyStore
	}

	a.wire(recorder)
	return a, nil
}

func (a *App) wire(recorder history.Recorder) {
	cfg := a.Config
	a.Checker = dialect.New(dialect.Options{DefaultLimit: cfg.Pipeline.DefaultLimit})
	a.Inspector = schema.NewInspector(a.Pool, schema.NewCache(cfg.Schema.CacheTTL, time.Now), a.Logger)

	engine := mysqlengine.NewEngine(a.Pool, mysqlengine.Config{
		RowCap:      cfg.Pipeline.RowCap,
		AllowWrites: cfg.Pipeline.AllowWrites,
	}, a.Logger)

	var regenerator *regen.Orchestrator
	if a.Generator != nil {
		regenerator = regen.New(a.Generator, a.Checker, a.Logger)
	}
	a.Pipeline = pipeline.New(engine, pipeline.Options{
		Checker:                 a.Checker,
		Regenerator:             regenerator,
		Recorder:                recorder,
		Logger:                  a.Logger,
		MaxRegenerationAttempts: cfg.Pipeline.MaxRegenerationAttempts,
		AllowWrites:             cfg.Pipeline.AllowWrites,
	})
	a.Tools = tools.NewDispatcher(a.Inspector, a.Pipeline, tools.Options{
		DefaultSampleRows: cfg.Schema.DefaultSampleRows,
		Logger:            a.Logger,
	})
}

// Readiness probes the store and, when enabled, the history database.
func (a *App) Readiness() api.ReadinessCheck {
	checks := []api.ReadinessCheck{a.Pool.Ping}
	if a.historyStore != nil {
		checks = append(checks, a.historyStore.HealthCheck)
	}
	return api.CombineReadinessChecks(checks...)
}

// APIDependencies returns the handler dependencies for the HTTP surface.
func (a *App) APIDependencies() api.Dependencies {
	deps := api.Dependencies{
		Logger:            a.Logger,
		Readiness:         a.Readiness(),
		DependencyTimeout: time.Second,
		Status:            func() any { return map[string]any{"pool": a.Pool.Status(), "regeneration_enabled": a.Pipeline.RegenerationEnabled()} },
		Tools:             a.Tools,
		Checker:           a.Checker,
		Schema:            a.Inspector,
	}
	if a.History != nil {
		deps.History = a.History
	}
	if a.Generator != nil {
		deps.Generator = a.Generator
	}
	return deps
}

func (a *App) Close() error {
	var errs []error
	if a.Pool != nil {
		errs = append(errs, a.Pool.Close())
	}
	if a.historyDB != nil {
		errs = append(errs, a.historyDB.Close())
	}
	return errors.Join(errs...)
}
