package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opticrank/siteaudit/internal/api"
	"github.com/opticrank/siteaudit/internal/assessment"
	"github.com/opticrank/siteaudit/internal/config"
	"github.com/opticrank/siteaudit/internal/crawler"
	"github.com/opticrank/siteaudit/internal/engine"
	"github.com/opticrank/siteaudit/internal/notify"
	"github.com/opticrank/siteaudit/internal/provider"
	"github.com/opticrank/siteaudit/internal/runner"
	"github.com/opticrank/siteaudit/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the assessment server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	// Provider client with its single-flight drain loop.
	var limiter provider.Limiter
	if cfg.Provider.RequestsPerMinute > 0 {
		limiter = provider.NewSlidingWindow(cfg.Provider.RequestsPerMinute, time.Minute)
	}
	client := provider.NewClient(provider.Config{
		APIKey:         cfg.Provider.APIKey,
		BaseURL:        cfg.Provider.BaseURL,
		Model:          cfg.Provider.Model,
		Temperature:    cfg.Provider.Temperature,
		MaxTokens:      cfg.Provider.MaxTokens,
		MaxRetries:     cfg.Provider.MaxRetries,
		Timeout:        cfg.Provider.Timeout(),
		RetryBaseDelay: cfg.Provider.RetryBaseDelay(),
	}, limiter)
	go client.Run(ctx)

	var snap engine.Snapshotter
	if cfg.Crawler.Enabled {
		snap = crawler.New(cfg.Crawler.Timeout())
	}
	eng := engine.New(client, snap, assessment.DefaultScoring())

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Email.Enabled() {
		notifier = notify.NewEmailNotifier(notify.Config{
			APIKey:       cfg.Email.APIKey,
			BaseURL:      cfg.Email.BaseURL,
			From:         cfg.Email.From,
			AdminAddress: cfg.Email.AdminAddress,
		})
	} else {
		slog.Warn("email not configured, reports will not be sent")
	}

	worker := runner.NewWorker(store, eng, notifier, cfg.Runner.PollInterval(), cfg.Runner.PacingStep())
	go worker.Run(ctx)

	sweeper := runner.NewSweeper(store, cfg.Runner.StaleAfter(), cfg.Runner.SweepInterval())
	go sweeper.Run(ctx)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(store).Router(),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("siteaudit listening", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore picks Postgres when a DSN is configured, SQLite otherwise.
func openStore(cfg config.StorageConfig) (storage.Store, error) {
	if cfg.PostgresDSN != "" {
		return storage.OpenPostgres(cfg.PostgresDSN)
	}
	return storage.OpenSQLite(cfg.DataDir)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
