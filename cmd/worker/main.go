package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/bookingcore/config"
	"github.com/Domenick1991/bookingcore/internal/bootstrap"
	"github.com/Domenick1991/bookingcore/internal/kafka"
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
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Fatal("kafka.brokers (or KAFKA_BROKERS) is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("build components")
	}
	defer components.Close()

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.BookingRequestTopic, logger)
	defer consumer.Close()

	go bootstrap.RunSweeper(ctx, components.Matcher, cfg.Matcher.SweepInterval, cfg.Matcher.StaleAfter, cfg.Matcher.SweepBatch, logger)

	logger.WithField("topic", cfg.Kafka.BookingRequestTopic).Info("worker consuming booking request triggers")
	if err := consumer.Consume(ctx, bootstrap.TriggerHandler(components.Matcher, logger)); err != nil {
		logger.WithError(err).Error("consumer stopped")
		stop()
		return
	}
	logger.Info("worker stopped")
}
