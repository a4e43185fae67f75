package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/relaychat/server/internal/app"
	"github.com/relaychat/server/internal/config"
	"github.com/relaychat/server/internal/logger"
)

// The standalone worker only makes sense with a shared queue; without Kafka
// the api process runs its own worker pool.
func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		logger.Get().Fatal("failed to load configuration", zap.Error(err))
	}

	log := logger.Init(cfg.Environment, cfg.LogLevel, cfg.LogFormat).With(zap.String("component", "worker"))
	defer logger.Sync()

	if !cfg.UseKafka() {
		log.Fatal("KAFKA_BROKERS is required for the standalone worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialise", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("shutdown", zap.Error(err))
		}
	}()

	if err := a.Worker().Run(ctx); err != nil {
		log.Error("worker pool stopped", zap.Error(err))
	}
	log.Info("worker exited")
}
