package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"gather/internal/config"
	"gather/internal/db"
	"gather/internal/engine"
	"gather/internal/migrate"
	"gather/internal/notify"
	"gather/internal/telemetry"
)

// Options control how a workspace is opened.
type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/gather.yml.
	ConfigPath string
	LogOutput  io.Writer
	// TraceOutput receives spans when telemetry.tracing is on.
	TraceOutput io.Writer
}

// App is an opened workspace: database, config and a fully wired engine.
type App struct {
	DB      *sql.DB
	Config  *config.Config
	Engine  engine.Engine
	Logger  zerolog.Logger
	Metrics *telemetry.Metrics

	shutdownTracing func(context.Context) error
}

// LoadConfig reads an explicit config file or falls back to the workspace
// default, which itself falls back to built-in defaults.
func LoadConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.FromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.LoadOptional(workspace)
}

// Open migrates the workspace database and wires logging, metrics, tracing
// and notifications into an engine.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg, err := LoadConfig(opts.Workspace, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := telemetry.NewLogger(cfg.Logging, out)

	shutdown, err := telemetry.InitTracing(cfg.Telemetry.Tracing, opts.TraceOutput)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		shutdown(ctx)
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		shutdown(ctx)
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Metrics {
		metrics = telemetry.NewMetrics()
	}
	e := engine.New(conn, cfg)
	e.Logger = telemetry.Component(logger, "engine")
	e.Metrics = metrics
	e.Notifier = NewNotifier(cfg, telemetry.Component(logger, "notify"))

	return &App{
		DB:              conn,
		Config:          cfg,
		Engine:          e,
		Logger:          logger,
		Metrics:         metrics,
		shutdownTracing: shutdown,
	}, nil
}

// NewNotifier fans out to the log and every enabled webhook.
func NewNotifier(cfg *config.Config, logger zerolog.Logger) notify.Notifier {
	var out notify.Multi
	if cfg.Notifications.Log {
		out = append(out, notify.Log{Logger: logger})
	}
	out = append(out, notify.NewWebhooks(cfg.Notifications.Webhooks)...)
	if len(out) == 0 {
		return notify.Nop{}
	}
	return out
}

// Close flushes spans and closes the database.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.shutdownTracing != nil {
		errs = append(errs, a.shutdownTracing(ctx))
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
