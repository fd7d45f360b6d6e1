package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"omnigen-api/internal/app"
	"omnigen-api/internal/config"
	"omnigen-api/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker, err := app.NewWorker(ctx, cfg)
	if err != nil {
		logger.Error(ctx, "worker bootstrap failed", err)
		os.Exit(1)
	}

	logger.Info(ctx, "starting job worker",
		"app", cfg.App.Name,
		"version", cfg.App.Version,
		"env", cfg.App.Env,
	)

	if err := worker.Start(ctx); err != nil {
		logger.Error(ctx, "worker start failed", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info(context.Background(), "shutdown signal received")

	worker.Shutdown(context.Background())
}
