package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/commercekit/ordercore/internal/app"
	"github.com/commercekit/ordercore/internal/config"
	"github.com/commercekit/ordercore/pkg/logger"
)

func run() error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		return err
	}

	log := logger.New("ordercore", cfg.LogLevel)
	log.Info("starting order core service",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
	)

	application, err := app.NewApp(cfg, log)
	if err != nil {
		log.Error("failed to initialize application", slog.String("error", err.Error()))
		return err
	}

	// Shut down cleanly on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := application.Run(ctx); err != nil {
		log.Error("application error", slog.String("error", err.Error()))
		return err
	}

	log.Info("order core service stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}
