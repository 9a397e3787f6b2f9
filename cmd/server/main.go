package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/recordkeeper/internal/application"
	"github.com/JonMunkholm/recordkeeper/internal/config"
	"github.com/JonMunkholm/recordkeeper/internal/logging"
	"github.com/JonMunkholm/recordkeeper/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	app, err := application.New(connectCtx, cfg, slog.Default())
	cancel()
	if err != nil {
		slog.Error("failed to start application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	server := web.NewServer(cfg, web.Deps{
		Exchange:  app.Exchange,
		Documents: app.Documents,
		Audit:     app.Store,
		Actors:    app.Actors,
		Store:     app.Store,
		Metrics:   app.Metrics,
	})

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests, then wait for running archive operations
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		limiter := app.Exchange.Limiter()
		if active := limiter.ActiveCount(); active > 0 {
			slog.Info("waiting for archive operations to complete", "active", active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("archive operations did not complete in time", "error", err)
			} else {
				slog.Info("all archive operations completed")
			}
		}
	}()

	if err := server.Start(); err != nil {
		slog.Error("server stopped", "error", err)
		app.Close()
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
