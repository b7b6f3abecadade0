package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/you/carebook/internal/app"
	"github.com/you/carebook/internal/config"
	"github.com/you/carebook/internal/logger"
)

func main() {
	log := logger.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Error("config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, log); err != nil {
		log.Error("app", "error", err)
		os.Exit(1)
	}
	slog.Info("server exited properly")
}
