package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"trading-scanner/config"
	"trading-scanner/internal/calendar"
	"trading-scanner/internal/indicator"
	"trading-scanner/internal/logger"
	"trading-scanner/internal/metrics"
	"trading-scanner/internal/model"
	"trading-scanner/internal/notification"
	"trading-scanner/internal/runner"
	"trading-scanner/internal/scan"
	redisstore "trading-scanner/internal/store/redis"
	sqlitestore "trading-scanner/internal/store/sqlite"
)

func main() {
	cfg := config.Load()
	log := logger.Init("scanner", logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		fatal(log, "invalid configuration", err)
	}

	criteria, err := config.LoadCriteria(cfg.CriteriaPath, cfg.AnalysisColumn())
	if err != nil {
		fatal(log, "load criteria", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, nil, log)
	metricsSrv.Start()
	defer func() {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutCancel()
		metricsSrv.Stop(shutCtx)
	}()

	// ---- SQLite ----
	if err := ensureDir(cfg.SQLitePath); err != nil {
		fatal(log, "failed to create SQLite directory", err)
	}
	reader, err := sqlitestore.NewReader(cfg.SQLitePath, log)
	if err != nil {
		fatal(log, "sqlite reader init failed", err)
	}
	defer reader.Close()

	history, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath, KeepRuns: 500}, log)
	if err != nil {
		fatal(log, "sqlite writer init failed", err)
	}
	defer history.Close()
	health.SetSQLiteOK(true)

	// ---- Redis (optional) ----
	var cache model.ResultCache
	health.SetRedisEnabled(cfg.CacheEnabled)
	if cfg.CacheEnabled {
		rc, err := redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL,
		}, log)
		if err != nil {
			log.Warn("redis unavailable, continuing without result cache", slog.Any("error", err))
		} else {
			defer rc.Close()
			cache = rc
			health.StartLivenessChecker(ctx, rc.Client(), history.DB(), 15*time.Second)
		}
	}
	if cache == nil {
		health.StartLivenessChecker(ctx, nil, history.DB(), 15*time.Second)
	}

	// ---- Alerts ----
	notifiers := []notification.Notifier{notification.NewLogNotifier(log)}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL, log))
	}
	if cfg.TelegramBotToken != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, log))
	}

	// ---- Engine & runner ----
	registry := indicator.NewDefaultRegistry(log)
	engine := scan.NewEngine(registry,
		scan.WithLogger(log),
		scan.WithMetrics(prom),
		scan.WithWorkers(cfg.Workers),
	)
	svc, err := runner.New(runner.Deps{
		Reader:  reader,
		Engine:  engine,
		History: history,
		Cache:   cache,
		Alerts:  notification.NewDispatcher(log, prom, notifiers...),
		Metrics: prom,
		Health:  health,
		Logger:  log,
	}, criteria, runner.Options{
		Analysis:      cfg.Analysis,
		Instruments:   cfg.Instruments,
		Include:       cfg.Include,
		Exclude:       cfg.Exclude,
		CaseSensitive: cfg.CaseSensitive,
		LookbackDays:  cfg.LookbackDays,
		MinThreshold:  cfg.MinThreshold,
		AlertMinScore: cfg.AlertMinScore,
	})
	if err != nil {
		fatal(log, "runner init failed", err)
	}

	log.Info("scanner starting",
		slog.String("analysis", cfg.Analysis),
		slog.String("column", criteria.Column),
		slog.Any("indicators", criteria.WeightedIDs()),
		slog.Int("workers", cfg.Workers),
		slog.String("cron", cfg.ScanCron),
	)

	// ---- One-shot ----
	if cfg.ScanCron == "" {
		report, err := svc.Run(ctx)
		if err != nil {
			fatal(log, "scan failed", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report.Records); err != nil {
			fatal(log, "encode results", err)
		}
		return
	}

	// ---- Scheduled ----
	loc, _ := cfg.Location()
	holidays, _ := cfg.ParseHolidays()
	sched, err := runner.NewScheduler(cfg.ScanCron, svc, calendar.New(loc, holidays), prom, log)
	if err != nil {
		fatal(log, "scheduler init failed", err)
	}
	sched.Start(ctx)
	log.Info("shutdown complete")
}

// ensureDir creates the parent directory of a database file.
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, slog.Any("error", err))
	os.Exit(1)
}
