package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dginev/cortex-dispatch/internal/app"
	"github.com/dginev/cortex-dispatch/internal/config"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("starting cortex-dispatch",
		"source_addr", cfg.SourceAddr,
		"result_addr", cfg.ResultAddr,
		"db", cfg.DBURL)

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("init failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.RegisterSelf(ctx); err != nil {
		logger.Error("register daemon failed", "err", err)
		os.Exit(1)
	}
	defer a.UnregisterSelf(context.Background())

	if err := a.Run(ctx); err != nil {
		logger.Error("shutdown with error", "err", err)
		os.Exit(1)
	}
}
