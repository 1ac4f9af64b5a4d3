package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cartpulse/cartpulse-stack/common/config"
	"github.com/cartpulse/cartpulse-stack/common/eventstore"
	"github.com/cartpulse/cartpulse-stack/common/featurestore"
	"github.com/cartpulse/cartpulse-stack/common/logging"
	"github.com/cartpulse/cartpulse-stack/features/internal/aggregator"
	"github.com/cartpulse/cartpulse-stack/features/internal/scheduler"
	"github.com/cartpulse/cartpulse-stack/features/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "features: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).
		With("service", "features")
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events, err := eventstore.New(cfg.OpenSearch)
	if err != nil {
		return fmt.Errorf("connect event store: %w", err)
	}

	features, err := featurestore.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect feature store: %w", err)
	}
	defer features.Close()

	agg := aggregator.New(events, features, cfg.Features, logger)
	sched := scheduler.New(agg, cfg.Features.Interval, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	handler := server.NewHandler(sched, agg.Totals,
		server.ReadinessCheck{Name: "eventstore", Check: func(context.Context) error {
			return events.Ping()
		}},
		server.ReadinessCheck{Name: "featurestore", Check: features.Ping},
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Features.Server.Port),
		Handler:      server.NewRouter(handler),
		ReadTimeout:  cfg.Features.Server.ReadTimeout,
		WriteTimeout: cfg.Features.Server.WriteTimeout,
		IdleTimeout:  cfg.Features.Server.IdleTimeout,
	}

	go func() {
		logger.Info("features listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err.Error())
	}

	if err := sched.Stop(); err != nil {
		logger.Warn("scheduler stop", "error", err.Error())
	}
	return nil
}
