package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/IZEUS01/Exfil-Guard/internal/api"
	"github.com/IZEUS01/Exfil-Guard/internal/classify"
	"github.com/IZEUS01/Exfil-Guard/internal/config"
	"github.com/IZEUS01/Exfil-Guard/internal/metrics"
	exfilnats "github.com/IZEUS01/Exfil-Guard/internal/nats"
	"github.com/IZEUS01/Exfil-Guard/internal/normalize"
	"github.com/IZEUS01/Exfil-Guard/internal/notify"
	"github.com/IZEUS01/Exfil-Guard/internal/persist"
	"github.com/IZEUS01/Exfil-Guard/internal/rules"
	"github.com/IZEUS01/Exfil-Guard/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting ExfilGuard detection core")

	cfg := config.FromEnv()
	logger.Info("Configuration loaded",
		"http_addr", cfg.HTTPAddr,
		"nats_url", cfg.NATSURL,
		"rules_url", cfg.RulesURL,
		"rules_file", cfg.RulesFile,
		"max_events", cfg.MaxEvents,
		"cleanup_age", cfg.CleanupAge,
		"cleanup_interval", cfg.CleanupInterval,
		"badge_cap", cfg.BadgeCap,
		"hot_reload", cfg.HotReload)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	logger.Info("Connected to NATS")

	prometheusMetrics := metrics.New()

	persister, err := persist.NewKVStore(nc, cfg.KVBucket)
	if err != nil {
		logger.Error("Failed to open persistence bucket", "error", err)
		os.Exit(1)
	}

	ruleLoader := rules.NewLoader(cfg.RulesURL, cfg.RulesFile, cfg.Debounce, logger)
	if _, err := ruleLoader.Load(); err != nil {
		// Built-in defaults are already active; classification never
		// silently disables itself.
		logger.Warn("Rule source failed, running on built-in defaults", "error", err)
	}
	defer ruleLoader.Close()
	snapshot := ruleLoader.Snapshot()
	prometheusMetrics.RulesLoaded.Set(float64(snapshot.Len()))
	prometheusMetrics.PatternErrors.Add(float64(snapshot.PatternErrors()))

	if cfg.HotReload {
		if err := ruleLoader.Watch(); err != nil {
			logger.Error("Failed to start rule watcher", "error", err)
		}
	}

	eventStore := store.New(persister, cfg.MaxEvents, prometheusMetrics, logger)
	defer eventStore.Close()
	if err := eventStore.LoadInitial(); err != nil {
		logger.Warn("Failed to restore persisted events, starting empty", "error", err)
	}

	badge := notify.NewBadge(cfg.BadgeCap)
	badge.Update(eventStore.Stats().HighRisk)
	alerts := notify.NewAlertCenter(cfg.MaxAlerts, cfg.AlertTimeout)
	defer alerts.Close()

	notifier := notify.NewNatsNotifier(nc, exfilnats.SubjectAlerts, logger)
	hook := notify.NewHook(notifier, badge, alerts, cfg.AlertMinSeverity, prometheusMetrics, logger)
	eventStore.SetHook(hook.AfterInsert)
	eventStore.SetStatsHook(hook.AfterChange)

	eventStore.StartCleanup(cfg.CleanupInterval, cfg.CleanupAge)
	defer eventStore.StopCleanup()

	classifier := classify.New(ruleLoader, logger)
	builder := normalize.NewBuilder()

	subscriber := exfilnats.NewSubscriber(nc, eventStore, classifier, builder, cfg.StoreMinSeverity, "exfilguard", prometheusMetrics, logger)
	go func() {
		if err := subscriber.Subscribe(ctx); err != nil {
			logger.Error("NATS subscriber error", "error", err)
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewServer(eventStore, ruleLoader, badge, alerts, prometheusMetrics, nc, logger).Handler(),
	}
	go func() {
		logger.Info("Starting HTTP server", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("ExfilGuard started successfully")
	<-sigChan

	logger.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("ExfilGuard stopped")
}
