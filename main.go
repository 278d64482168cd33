// Package main runs the comic update notifier: it polls every catalog source,
// remembers the last announced post and fans new ones out to Discord channels.
package main

import (
	"comicwatch/config"
	"comicwatch/crosspost"
	"comicwatch/discord"
	"comicwatch/fanout"
	"comicwatch/fetch"
	"comicwatch/pkg/notifier"
	"comicwatch/poll"
	"comicwatch/registry"
	"comicwatch/server"
	"comicwatch/storage"
	"comicwatch/subs"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
)

// stateStore is what the scheduler and the subscription layer need from a backend.
type stateStore interface {
	Get(ctx context.Context, sourceID string) (*notifier.Announcement, error)
	Upsert(ctx context.Context, a *notifier.Announcement) error
}

type subscriptionStore interface {
	Put(ctx context.Context, sub *notifier.Subscription) error
	Delete(ctx context.Context, guildID, channelID, sourceID string) (int, error)
	ListByGuild(ctx context.Context, guildID string) ([]notifier.Subscription, error)
	ListBySource(ctx context.Context, sourceID string) ([]notifier.Subscription, error)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	states, subStore, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	fetcher := fetch.NewClient(&http.Client{Timeout: cfg.Poll.FetchTimeout}, cfg.Poll.FetchAttempts, logger)
	reg, err := registry.Catalog(fetcher, cfg.Sources)
	if err != nil {
		return fmt.Errorf("build source catalog: %w", err)
	}

	platform, err := discord.New(cfg.DiscordToken, logger)
	if err != nil {
		return fmt.Errorf("init discord: %w", err)
	}

	notify := fanout.New(platform, subStore, crossPoster(cfg, logger), fanout.Config{
		Timeout:     cfg.Delivery.Timeout,
		Concurrency: cfg.Delivery.Concurrency,
		Mentions:    cfg.Delivery.Mentions,
	}, logger)
	if !cfg.Delivery.Mentions {
		logger.Info("Role mentions disabled, roles will be kept unmentionable")
	}

	scheduler := poll.New(reg, states, notify, cfg.Poll.Interval, cfg.Poll.FetchTimeout, logger)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := scheduler.Stop(stopCtx); err != nil {
			logger.Warn("Poll cycle did not finish before shutdown", "error", err)
		}
	}()

	srv := server.New(&server.Config{
		Poller:        scheduler,
		Subscriptions: subs.New(reg, platform, subStore, logger),
		Logger:        logger,
		AdminToken:    cfg.HTTP.AdminToken,
		TrustProxy:    cfg.HTTP.TrustProxy,
	})
	if cfg.HTTP.AdminToken == "" {
		logger.Warn("No admin token configured, operator API is unauthenticated")
	}
	return srv.ListenAndServe(ctx, cfg.HTTP.Port)
}

// openStores opens the configured backend. The returned func releases it.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (stateStore, subscriptionStore, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		db, err := storage.OpenSQLite(ctx, cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		logger.Info("Using SQLite storage", "path", cfg.Storage.SQLitePath)
		return db, db, func() {
			if err := db.Close(); err != nil {
				logger.Warn("Failed to close database", "error", err)
			}
		}, nil

	case config.BackendGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init storage client: %w", err)
		}
		logger.Info("Using Cloud Storage", "bucket", cfg.Storage.Bucket)
		blobs := storage.NewBlobs(client, cfg.Storage.Bucket, "", logger)
		return storage.NewUpdateStore(blobs, logger), storage.NewSubscriptionStore(blobs, logger), func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}, nil

	case config.BackendLocal:
		if err := os.MkdirAll(cfg.Storage.LocalPath, 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("create local storage directory: %w", err)
		}
		logger.Info("Using local storage", "storage_path", cfg.Storage.LocalPath)
		blobs := storage.NewBlobs(nil, "", cfg.Storage.LocalPath, logger)
		return storage.NewUpdateStore(blobs, logger), storage.NewSubscriptionStore(blobs, logger), func() {}, nil
	}
	return nil, nil, nil, errors.New("unknown storage backend " + cfg.Storage.Backend)
}

func crossPoster(cfg *config.Config, logger *slog.Logger) crosspost.Provider {
	switch {
	case cfg.Crosspost.Mock:
		logger.Info("Mock cross-post mode enabled")
		return crosspost.NewMockProvider(logger)
	case cfg.Crosspost.WebhookURL != "":
		return crosspost.NewWebhookProvider(cfg.Crosspost.WebhookURL, nil, logger)
	}
	return nil
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
