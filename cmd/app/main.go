package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/bookingcore/config"
	"github.com/Domenick1991/bookingcore/internal/bootstrap"
	"github.com/Domenick1991/bookingcore/internal/logging"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("build components")
	}
	defer components.Close()

	if err := bootstrap.Run(ctx, cfg, components.Services(), components.Checks, logger); err != nil {
		logger.WithError(err).Error("server error")
		components.Close()
		os.Exit(1)
	}
}
