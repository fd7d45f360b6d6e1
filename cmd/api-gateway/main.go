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
	// .env 不存在时忽略
	_ = godotenv.Load()

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error(ctx, "application bootstrap failed", err)
		os.Exit(1)
	}

	logger.Info(ctx, "starting api gateway",
		"app", cfg.App.Name,
		"version", cfg.App.Version,
		"env", cfg.App.Env,
	)

	errCh := application.Start(ctx)

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	case err := <-errCh:
		logger.Error(context.Background(), "http server failed", err)
	}

	application.Shutdown(context.Background())
}
