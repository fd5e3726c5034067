package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tsinling0525/weir/cmd/api/server"
	"github.com/Tsinling0525/weir/config"
	"github.com/Tsinling0525/weir/logging"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	logger.Info("weir api starting", "addr", cfg.Addr(), "store", cfg.Store, "nats", cfg.NATSURL != "")
	if err := app.Serve(ctx); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
