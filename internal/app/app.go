// Package app assembles the long-lived services from a configuration: the
// database, the sweep engine, the webhook publisher, metrics and backups.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chainwatch/internal/backup"
	"chainwatch/internal/chain"
	"chainwatch/internal/config"
	cwerrors "chainwatch/internal/errors"
	"chainwatch/internal/metrics"
	"chainwatch/internal/paths"
	"chainwatch/internal/scrape"
	"chainwatch/internal/slogutil"
	"chainwatch/internal/storage"
	"chainwatch/internal/sweep"
	"chainwatch/internal/version"
	"chainwatch/internal/webhooks"
)

// App holds the wired services. Close releases the database and log files.
type App struct {
	Config *config.Config
	Layout paths.Layout

	DB       *storage.DB
	State    *storage.StateRepository
	Sweeps   *storage.SweepRepository
	Runs     *storage.RunRepository
	Engine   *sweep.Engine
	Webhooks *webhooks.Manager
	Metrics  *metrics.Collector
	Backups  *backup.Manager

	loggers *slogutil.LoggerFactory
	logger  *slog.Logger
}

// Options tune Open.
type Options struct {
	// Logger, when set, receives every subsystem's output instead of the
	// per-subsystem log files.
	Logger *slog.Logger
	// CLILevel overrides configured log levels; zero means unset.
	CLILevel slog.Level
	// Fetcher replaces the HTTP profile fetcher.
	Fetcher scrape.Fetcher
}

// Open wires every service from cfg.
func Open(cfg *config.Config, layout paths.Layout, opts Options) (*App, error) {
	if err := layout.Ensure(); err != nil {
		return nil, cwerrors.NewError(cwerrors.StorageFailure, "failed to prepare data directory", err, nil)
	}

	a := &App{
		Config: cfg,
		Layout: layout,
		loggers: slogutil.NewLoggerFactory(slogutil.FactoryOptions{
			Dir:   layout.LogsDir(),
			Level: cfg.Logging.Level,
			Levels: map[string]string{
				slogutil.SubsystemDaemon: cfg.Logging.Daemon,
				slogutil.SubsystemSweep:  cfg.Logging.Sweep,
				slogutil.SubsystemMCP:    cfg.Logging.MCP,
			},
			MaxSize:    cfg.Logging.MaxSize,
			MaxBackups: cfg.Logging.MaxBackups,
		}, opts.CLILevel),
		logger: opts.Logger,
	}
	logger := a.Logger(slogutil.SubsystemSweep)

	db, err := storage.Open(layout.Database(), logger)
	if err != nil {
		a.loggers.Close()
		return nil, cwerrors.NewError(cwerrors.StorageFailure, "failed to open database", err, nil)
	}
	a.DB = db
	a.State = storage.NewStateRepository(db)
	a.Sweeps = storage.NewSweepRepository(db)
	a.Runs = storage.NewRunRepository(db)

	store, err := webhooks.NewStore(db.Conn())
	if err != nil {
		a.Close()
		return nil, cwerrors.NewError(cwerrors.StorageFailure, "failed to open webhook store", err, nil)
	}
	a.Webhooks = webhooks.NewManager(store, webhooks.FromConfig(cfg.Webhooks), logger, webhooks.DefaultConfig())
	a.Metrics = metrics.New()
	a.Backups = backup.NewManager(layout.BackupsDir(), cfg.Schedule.BackupKeep, logger)

	fetcher := opts.Fetcher
	if fetcher == nil {
		userAgent := cfg.Scan.UserAgent
		if userAgent == "" {
			userAgent = version.UserAgent()
		}
		fetcher = scrape.NewHTTPFetcher(scrape.Options{
			BaseURL:     cfg.Scan.BaseURL,
			Timeout:     cfg.Scan.Timeout(),
			UserAgent:   userAgent,
			MaxFailures: cfg.Scan.BreakerMaxFailures,
			OpenTimeout: cfg.Scan.BreakerOpen(),
		}, logger)
	}

	var publisher sweep.Publisher
	if len(cfg.Webhooks) > 0 {
		publisher = a.Webhooks
	}
	a.Engine = sweep.New(EngineOptions(cfg), sweep.Deps{
		Store:     a.State,
		History:   a.Sweeps,
		Fetcher:   fetcher,
		Publisher: publisher,
		Observer:  a.Metrics,
		Logger:    logger,
	})
	return a, nil
}

// EngineOptions derives sweep options from the configuration.
func EngineOptions(cfg *config.Config) sweep.Options {
	return sweep.Options{
		Anchor:      cfg.Anchor,
		RescanAfter: cfg.Scan.RescanAfter(),
		Concurrency: cfg.Scan.Concurrency,
		Budget: chain.Budget{
			MaxExpansions: cfg.Search.MaxExpansions,
			Timeout:       cfg.Search.Timeout(),
		},
		DryRun:           cfg.Publish.DryRun,
		MaxMessageLength: cfg.Publish.MaxMessageLength,
		WarnLength:       cfg.Publish.WarnLength(),
		PruneDisabled:    cfg.Publish.PruneDisabled,
	}
}

// Logger returns the logger for a subsystem.
func (a *App) Logger(subsystem string) *slog.Logger {
	if a.logger != nil {
		return slogutil.ForSubsystem(a.logger, subsystem)
	}
	return a.loggers.Logger(subsystem)
}

// Sweep runs one sweep and emits sweep.failed when it errors.
func (a *App) Sweep(ctx context.Context) (*sweep.Report, error) {
	report, err := a.Engine.Sweep(ctx)
	if err != nil && len(a.Config.Webhooks) > 0 {
		if hookErr := a.Webhooks.SweepFailed(ctx, err); hookErr != nil {
			a.Logger(slogutil.SubsystemSweep).Warn("Failed to report sweep failure", "error", hookErr.Error())
		}
	}
	return report, err
}

// Backup writes a snapshot of the current state.
func (a *App) Backup(ctx context.Context) (string, error) {
	st, err := a.Engine.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	path, err := a.Backups.Create(st, time.Now())
	if err != nil {
		return "", fmt.Errorf("backup failed: %w", err)
	}
	return path, nil
}

// Restore replaces the state with the snapshot at path, or the newest
// snapshot when path is empty.
func (a *App) Restore(ctx context.Context, path string) (*backup.Snapshot, error) {
	if path == "" {
		latest, err := a.Backups.Latest()
		if err != nil {
			return nil, err
		}
		path = latest
	}
	st, snap, err := backup.Load(path)
	if err != nil {
		return nil, err
	}
	if err := a.Engine.Restore(ctx, st); err != nil {
		return nil, err
	}
	return snap, nil
}

// Close releases resources.
func (a *App) Close() error {
	var errs []error
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	errs = append(errs, a.loggers.Close())
	return errors.Join(errs...)
}
