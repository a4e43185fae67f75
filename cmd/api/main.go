package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/relaychat/server/internal/app"
	"github.com/relaychat/server/internal/config"
	"github.com/relaychat/server/internal/logger"
)

func main() {
	// env vars override .env
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		logger.Get().Fatal("failed to load configuration", zap.Error(err))
	}

	log := logger.Init(cfg.Environment, cfg.LogLevel, cfg.LogFormat)
	defer logger.Sync()

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

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.OTPLimiter.RunSweeper(ctx, time.Hour)
	}()
	go func() {
		defer wg.Done()
		a.VerifyLimiter.RunSweeper(ctx, time.Hour)
	}()

	if cfg.RunWorker {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Worker().Run(ctx); err != nil {
				log.Error("worker pool stopped", zap.Error(err))
			}
		}()
	} else if !cfg.UseKafka() {
		log.Warn("RUN_WORKER is off and no Kafka is configured; async messages will stay pending")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// sync dispatch waits on the provider
		WriteTimeout: cfg.ProviderTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.Port), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	wg.Wait()
	log.Info("server exited")
}
