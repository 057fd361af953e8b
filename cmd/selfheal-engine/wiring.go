package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/miradorstack/mirador-selfheal/internal/analyzer"
	"github.com/miradorstack/mirador-selfheal/internal/backup"
	"github.com/miradorstack/mirador-selfheal/internal/cache"
	"github.com/miradorstack/mirador-selfheal/internal/classifier"
	"github.com/miradorstack/mirador-selfheal/internal/collector"
	"github.com/miradorstack/mirador-selfheal/internal/config"
	"github.com/miradorstack/mirador-selfheal/internal/engine"
	"github.com/miradorstack/mirador-selfheal/internal/fixer"
	"github.com/miradorstack/mirador-selfheal/internal/learning"
	"github.com/miradorstack/mirador-selfheal/internal/repo"
	"github.com/miradorstack/mirador-selfheal/internal/restart"
	"github.com/miradorstack/mirador-selfheal/internal/settings"
)

// components holds everything a run needs. Close releases the restart scheduler.
type components struct {
	coordinator *engine.Coordinator
	backups     *backup.Store
	learning    *learning.Store
	restarts    *restart.Scheduler
}

func (c *components) Close() {
	if c.restarts != nil {
		c.restarts.Stop()
	}
}

func buildComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	backups, err := backup.NewStore(cfg.Storage.BackupDir, logger.With(slog.String("component", "backup")))
	if err != nil {
		return nil, err
	}
	ledger, err := learning.Open(cfg.Storage.LearningLedger, logger.With(slog.String("component", "learning")))
	if err != nil {
		return nil, err
	}
	logger.Debug("state stores ready",
		slog.String("backup_root", backups.Root()),
		slog.Int("learning_records", len(ledger.Records())),
	)

	var journal *engine.ReportJournal
	if cfg.Storage.ReportJournal != "" {
		if journal, err = engine.OpenJournal(cfg.Storage.ReportJournal); err != nil {
			return nil, err
		}
	}

	rules, err := classifier.LoadRulePack(cfg.Rules.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("load rule pack: %w", err)
	}

	restarts := restart.NewScheduler(
		restart.NewDockerRequester(cfg.Remediation.DockerBinary),
		cfg.Remediation.CommandTimeout,
		logger.With(slog.String("component", "restart")),
	)

	var inspector fixer.ColumnInspector
	if cfg.Probes.Database.DSN != "" {
		inspector = fixer.NewPostgresInspector(cfg.Probes.Database.DSN)
	}

	engineer := fixer.New(fixer.Options{
		AppRoot:            cfg.Remediation.AppRoot,
		ContainerRoot:      cfg.Remediation.ContainerRoot,
		SettingsFile:       cfg.Remediation.SettingsFile,
		MigrationsDir:      cfg.Remediation.MigrationsDir,
		RequirementsFile:   cfg.Remediation.RequirementsFile,
		ModelReplacements:  cfg.Remediation.ModelReplacements,
		RestartService:     cfg.Remediation.RestartService,
		RestartDelay:       cfg.Remediation.RestartDelay,
		AllowSourcePatches: cfg.Engine.AllowSourcePatches,
	}, backups, restarts, inspector, logger.With(slog.String("component", "fixer")))

	settingsPath := cfg.Remediation.SettingsFile
	if !filepath.IsAbs(settingsPath) {
		settingsPath = filepath.Join(cfg.Remediation.AppRoot, settingsPath)
	}
	diagnoser := analyzer.New(settings.FileReader{Path: settingsPath}, logger.With(slog.String("component", "analyzer")))

	coordinator := engine.NewCoordinator(
		logger.With(slog.String("component", "coordinator")),
		engine.Options{
			AutoApplyThreshold: cfg.Engine.AutoApplyThreshold,
			ValidationCooldown: cfg.Engine.ValidationCooldown,
			ValidationFailAt:   cfg.Engine.ValidationFailAt,
		},
		buildCollector(cfg, logger),
		classifier.New(rules, logger.With(slog.String("component", "classifier"))),
		diagnoser,
		engineer,
		ledger,
		backups,
		journalOrNil(journal),
	)
	if journal != nil {
		if recent, err := journal.Recent(1); err != nil {
			logger.Warn("read report journal", slog.Any("error", err))
		} else if len(recent) == 1 {
			coordinator.Resume(recent[0])
		}
	}

	return &components{
		coordinator: coordinator,
		backups:     backups,
		learning:    ledger,
		restarts:    restarts,
	}, nil
}

// journalOrNil keeps a nil *ReportJournal from becoming a non-nil interface.
func journalOrNil(j *engine.ReportJournal) engine.Journal {
	if j == nil {
		return nil
	}
	return j
}

func buildCollector(cfg *config.Config, logger *slog.Logger) *collector.Collector {
	opts := collector.Options{
		Thresholds: collector.Thresholds{
			MaxErrors:       cfg.Thresholds.MaxErrors,
			MaxRecentErrors: cfg.Thresholds.MaxRecentErrors,
			RecentWindow:    cfg.Thresholds.RecentWindow,
			CPUWarning:      cfg.Thresholds.CPUWarning,
			CPUCritical:     cfg.Thresholds.CPUCritical,
			MemoryWarning:   cfg.Thresholds.MemoryWarning,
			MemoryCritical:  cfg.Thresholds.MemoryCritical,
			DiskWarning:     cfg.Thresholds.DiskWarning,
			DiskCritical:    cfg.Thresholds.DiskCritical,
		},
		Lookback: cfg.Sources.Lookback,
		Timeout:  cfg.Sources.Timeout,
	}

	if cfg.Sources.Docker.Enabled {
		for _, container := range cfg.Sources.Docker.Containers {
			opts.LogSources = append(opts.LogSources, collector.NewDockerLogSource(cfg.Sources.Docker.Binary, container))
		}
	}

	var core *repo.CoreClient
	if cfg.Sources.Core.BaseURL != "" {
		core = repo.NewCoreClient(cfg.Sources.Core.BaseURL, cfg.Sources.Core.LogsPath, cfg.Sources.Core.MetricsPath, cfg.Sources.Core.Timeout)
		for _, service := range cfg.Sources.Core.Services {
			opts.LogSources = append(opts.LogSources, core.LogSource(service))
		}
	}

	switch {
	case cfg.Sources.Host.Enabled:
		opts.Metrics = collector.NewProcMetricSource(cfg.Sources.Host.ProcRoot, cfg.Sources.Host.DiskPath)
	case core != nil:
		opts.Metrics = core
	}

	for _, p := range cfg.Probes.HTTP {
		opts.Probes = append(opts.Probes, collector.NewHTTPProbe(p.Name, p.URL, p.Critical))
	}
	if cfg.Probes.Database.DSN != "" {
		opts.Probes = append(opts.Probes, collector.NewPostgresProbe(cfg.Probes.Database.DSN, cfg.Probes.Database.Critical))
	}
	if cfg.Probes.Cache.Addr != "" {
		pinger, err := cache.NewValkeyProvider(cache.ValkeyConfig{Addr: cfg.Probes.Cache.Addr, Password: cfg.Probes.Cache.Password})
		if err != nil {
			logger.Warn("cache probe disabled", slog.Any("error", err))
		} else {
			opts.Probes = append(opts.Probes, collector.NewCacheProbe(pinger, cfg.Probes.Cache.Critical))
		}
	}

	return collector.New(logger.With(slog.String("component", "collector")), opts)
}

// runLock returns the Valkey lock provider, or an in-process one when Valkey is disabled
// or unreachable.
func runLock(ctx context.Context, cfg *config.Config, logger *slog.Logger) cache.Provider {
	if !cfg.Cache.Enabled || cfg.Cache.Addr == "" {
		return cache.NewMemoryProvider()
	}
	provider, err := cache.ConnectValkey(ctx, cache.ValkeyConfig{
		Addr:         cfg.Cache.Addr,
		Username:     cfg.Cache.Username,
		Password:     cfg.Cache.Password,
		DB:           cfg.Cache.DB,
		DialTimeout:  cfg.Cache.DialTimeout,
		ReadTimeout:  cfg.Cache.ReadTimeout,
		WriteTimeout: cfg.Cache.WriteTimeout,
		MaxRetries:   cfg.Cache.MaxRetries,
		TLS:          cfg.Cache.TLS,
	})
	if err != nil {
		logger.Warn("valkey unavailable, falling back to in-process run lock", slog.Any("error", err))
		return cache.NewMemoryProvider()
	}
	return provider
}
