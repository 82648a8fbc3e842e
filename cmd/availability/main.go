package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slotbook/slotbook/internal/availability"
	"github.com/slotbook/slotbook/internal/config"
	"github.com/slotbook/slotbook/internal/contracts/event"
	"github.com/slotbook/slotbook/internal/messaging/rabbitmq"
	"github.com/slotbook/slotbook/internal/pkg/logger"
	"github.com/slotbook/slotbook/internal/transport/rest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}
	logger.Init()
	log := logger.Logger.With().
		Str("service", "availability").
		Str("env", cfg.AppEnv).
		Logger()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Bus ----
	conn, err := rabbitmq.DialWithRetry(rootCtx, cfg.RabbitURL)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbitmq dial failed")
	}
	defer conn.Close()

	pub, err := rabbitmq.NewPublisher(conn, cfg.RabbitExchange)
	if err != nil {
		log.Fatal().Err(err).Msg("publisher init failed")
	}
	defer pub.Close()

	rec := availability.NewReconciler(pub, availability.SuffixRule)

	consumer, err := rabbitmq.NewConsumer(conn, cfg.RabbitExchange, cfg.AvailabilityQueue,
		event.TypeBookingCreated)
	if err != nil {
		log.Fatal().Err(err).Msg("consumer init failed")
	}
	if err := consumer.Start(rootCtx, rec.Handle); err != nil {
		log.Fatal().Err(err).Msg("consumer start failed")
	}
	log.Info().Str("queue", cfg.AvailabilityQueue).Msg("listening for booking.created")

	// ---- Health / metrics HTTP ----
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", rest.Health("availability"))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
