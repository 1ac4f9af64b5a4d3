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
	"github.com/cartpulse/cartpulse-stack/common/logging"
	"github.com/cartpulse/cartpulse-stack/common/messaging"
	"github.com/cartpulse/cartpulse-stack/common/messaging/nats"
	"github.com/cartpulse/cartpulse-stack/materializer/internal/consumer"
	"github.com/cartpulse/cartpulse-stack/materializer/internal/dlq"
	"github.com/cartpulse/cartpulse-stack/materializer/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "materializer: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).
		With("service", "materializer")
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	js, err := nats.NewJetStreamClient(nats.Config{
		URL:           cfg.NATS.URL,
		Name:          "cartpulse-materializer",
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait,
		Timeout:       5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer js.Close()

	// The events stream and the durable consumer group must exist before
	// the pull loop binds to them.
	if _, err := js.CreateOrUpdateStream(ctx, nats.EventsStream); err != nil {
		return fmt.Errorf("create events stream: %w", err)
	}
	if _, err := js.CreateOrUpdateConsumer(ctx, nats.EventsStream.Name, nats.ConsumerConfig{
		Name:          cfg.Materializer.ConsumerGroup,
		FilterSubject: messaging.SubjectEventsAll,
		AckWait:       cfg.Materializer.AckWait,
		MaxAckPending: cfg.Materializer.MaxAckPending,
	}); err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}

	reader, err := js.PullConsumer(ctx, nats.EventsStream.Name, cfg.Materializer.ConsumerGroup)
	if err != nil {
		return fmt.Errorf("bind pull consumer: %w", err)
	}

	store, err := eventstore.New(cfg.OpenSearch)
	if err != nil {
		return fmt.Errorf("connect event store: %w", err)
	}

	deadLetter, err := dlq.NewWriter(ctx, js, cfg.Materializer.ConsumerGroup, logger)
	if err != nil {
		return fmt.Errorf("create dead-letter writer: %w", err)
	}

	cons := consumer.New(reader, store, deadLetter, cfg.Materializer, logger)
	if err := cons.Start(ctx); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	handler := server.NewHandler(cons, deadLetter.Stats,
		server.ReadinessCheck{Name: "nats", Check: func(context.Context) error {
			if !js.IsConnected() {
				return fmt.Errorf("nats disconnected")
			}
			return nil
		}},
		server.ReadinessCheck{Name: "eventstore", Check: func(context.Context) error {
			return store.Ping()
		}},
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Materializer.Server.Port),
		Handler:      server.NewRouter(handler),
		ReadTimeout:  cfg.Materializer.Server.ReadTimeout,
		WriteTimeout: cfg.Materializer.Server.WriteTimeout,
		IdleTimeout:  cfg.Materializer.Server.IdleTimeout,
	}

	go func() {
		logger.Info("materializer listening", "addr", srv.Addr)
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

	// Stop drains the buffered batch before the connections close.
	cons.Stop()
	return nil
}
