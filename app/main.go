package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lysyi3m/rss-skim/app/api"
	"github.com/lysyi3m/rss-skim/app/cfg"
	"github.com/lysyi3m/rss-skim/app/crawler"
	"github.com/lysyi3m/rss-skim/app/database"
	"github.com/lysyi3m/rss-skim/app/feed"
	"github.com/lysyi3m/rss-skim/app/fetcher"
	"github.com/lysyi3m/rss-skim/app/metrics"
	"github.com/lysyi3m/rss-skim/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		return
	}

	setupLogging(appCfg.Debug)

	if err := run(appCfg); err != nil {
		slog.Error("RSS Skim stopped with error", "error", err)
		os.Exit(1)
	}
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func run(appCfg *cfg.Cfg) error {
	slog.Info("Starting RSS Skim", "version", appCfg.Version, "store", appCfg.Store)
	metrics.Init()

	store, err := openStore(appCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}()

	mediaRules, err := feed.ParseMediaRules(appCfg.MediaTypes)
	if err != nil {
		return fmt.Errorf("invalid media types: %w", err)
	}

	httpClient := &http.Client{Transport: fetcher.NewHTTPTransport(appCfg.Concurrency)}
	feedCrawler := crawler.New(
		fetcher.NewHTTPFetcher(httpClient, appCfg.UserAgent),
		store,
		crawler.WithConcurrency(appCfg.Concurrency),
		crawler.WithTimeout(appCfg.FetchTimeout),
		crawler.WithNormalizer(feed.NewNormalizer(feed.WithMediaRules(mediaRules))),
	)

	configCache := feed.NewConfigCache(appCfg.FeedsDir)

	if appCfg.Once {
		return runOnce(configCache, store, feedCrawler)
	}

	scheduler := tasks.NewScheduler(configCache, store, feedCrawler, appCfg.SchedulerInterval, appCfg.WorkerCount)
	slog.Info("Starting background scheduler", "workers", appCfg.WorkerCount, "interval", appCfg.SchedulerInterval)
	scheduler.Start()
	defer func() {
		scheduler.Stop()
		slog.Info("Background scheduler stopped")
	}()

	handler := api.NewHandler(configCache, store, scheduler)
	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler, appCfg.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case runErr = <-serverErrChan:
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	return runErr
}

func openStore(appCfg *cfg.Cfg) (database.Store, error) {
	switch appCfg.Store {
	case database.KindMemory:
		return database.NewMemoryStore(), nil
	case database.KindPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return database.NewPostgresStore(ctx, appCfg.DatabaseURL)
	default:
		if err := os.MkdirAll(filepath.Dir(appCfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
		return database.NewSQLiteStore(appCfg.SQLitePath)
	}
}

// runOnce syncs subscriptions, crawls them once and exits non-zero when
// every feed failed.
func runOnce(configCache *feed.ConfigCache, store database.Store, feedCrawler tasks.Crawler) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syncTask := tasks.NewSyncSubscriptionsTask(configCache, store)
	syncTask.Start()
	if err := syncTask.Execute(ctx); err != nil {
		return err
	}

	crawlTask := tasks.NewCrawlTask("", store, feedCrawler, nil)
	crawlTask.Start()
	if err := crawlTask.Execute(ctx); err != nil {
		return err
	}

	failed := 0
	for _, outcome := range crawlTask.Outcomes {
		if outcome.Error != "" {
			failed++
		}
	}
	if len(crawlTask.Outcomes) > 0 && failed == len(crawlTask.Outcomes) {
		return fmt.Errorf("all %d feeds failed", failed)
	}
	return nil
}
