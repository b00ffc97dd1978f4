// Package main runs syncbridged, the cross-platform sync service that
// keeps GitHub, Linear, and Notion loosely consistent through an
// append-only action buffer.
//
// Usage:
//
//	GITHUB_TOKEN=ghp_xxx \
//	WEBHOOK_SECRET=hook_secret \
//	LINEAR_API_KEY=lin_api_xxx \
//	PORT=3000 \
//	./syncbridged
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jomei/notionapi"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/trancendos/syncbridge/internal/buffer"
	"github.com/trancendos/syncbridge/internal/config"
	"github.com/trancendos/syncbridge/internal/logging"
	"github.com/trancendos/syncbridge/internal/metrics"
	"github.com/trancendos/syncbridge/internal/orchestrate"
	"github.com/trancendos/syncbridge/internal/platform"
	"github.com/trancendos/syncbridge/internal/poller"
	"github.com/trancendos/syncbridge/internal/reconcile"
	"github.com/trancendos/syncbridge/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info(ctx, "syncbridged starting",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("sync_enabled", cfg.Sync.Enabled),
		zap.Bool("notion_mirror", cfg.Notion.MirrorBuffer),
		zap.String("validation_schedule", cfg.Sync.ValidationSchedule),
	)

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	m := metrics.New()
	source := platform.NewGitHubClient(cfg.GitHub.Token.Value(), cfg.GitHub.Owner)
	tracker := platform.NewLinearClient(cfg.Linear.APIKey.Value(), "")

	orchestrator := orchestrate.New(source, tracker, logger, m)
	reconciler := reconcile.New(store, source, tracker, logger, m, cfg.Sync.Concurrency)
	deltaPoller := poller.New(store, orchestrator, logger, m, cfg.Sync.PollInterval)

	srv, err := server.New(cfg, store, orchestrator, reconciler, logger, m)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	// Scheduled validation. SkipIfStillRunning keeps cycles from
	// overlapping when one outlasts the cron interval.
	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
		cron.Recover(cron.DiscardLogger),
	))
	_, err = scheduler.AddFunc(cfg.Sync.ValidationSchedule, func() {
		if _, err := reconciler.RunCycle(ctx); err != nil {
			logger.Error(ctx, "scheduled validation failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid validation schedule %q: %w", cfg.Sync.ValidationSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	go func() {
		if err := deltaPoller.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error(ctx, "delta poller exited", zap.Error(err))
		}
	}()

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "server shutdown error", zap.Error(err))
		return err
	}

	logger.Info(ctx, "syncbridged stopped gracefully")
	return nil
}

// openStore opens the durable buffer and, when configured, wraps it
// with the Notion action-log mirror.
func openStore(cfg *config.Config, logger *logging.Logger) (buffer.Store, error) {
	primary, err := buffer.OpenSQLite(cfg.Buffer.Path)
	if err != nil {
		return nil, fmt.Errorf("opening action buffer at %s: %w", cfg.Buffer.Path, err)
	}

	if !cfg.Notion.MirrorBuffer {
		return primary, nil
	}

	// A bounded HTTP client keeps a slow workspace from stalling
	// ingestion; mirror writes are best-effort anyway.
	client := notionapi.NewClient(notionapi.Token(cfg.Notion.Token.Value()),
		notionapi.WithHTTPClient(&http.Client{Timeout: 15 * time.Second}))
	doc := platform.NewNotionDocClient(client, cfg.Notion.BufferDatabaseID)
	return buffer.NewMirroredStore(primary, doc.Store(), logger), nil
}
