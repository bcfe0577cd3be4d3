package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/vurakit/lexveil/internal/app"
	"github.com/vurakit/lexveil/internal/config"
	"github.com/vurakit/lexveil/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "config file (default: lexveil.yaml in ., ./configs, /etc/lexveil)")
	flag.Parse()

	// Configuration
	mgr, err := config.Load(*configPath)
	if err != nil {
		logging.Setup("info", os.Stderr).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Structured logging
	logger := logging.Setup(mgr.Config().Logging.Level, os.Stdout)
	logger.Info("starting lexveil", "config", mgr.File())

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, mgr, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	if err := a.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
