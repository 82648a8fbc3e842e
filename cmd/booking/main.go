package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/slotbook/slotbook/internal/booking"
	"github.com/slotbook/slotbook/internal/booking/store/memory"
	"github.com/slotbook/slotbook/internal/booking/store/postgres"
	"github.com/slotbook/slotbook/internal/booking/store/redisstore"
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
		Str("service", "booking").
		Str("env", cfg.AppEnv).
		Logger()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Booking store ----
	store, closeStore, err := openStore(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	defer closeStore()
	log.Info().Str("backend", cfg.StoreBackend).Msg("booking store ready")

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

	svc := booking.NewService(store, pub)

	// ---- Reconciliation consumer (slot.* results) ----
	consumer, err := rabbitmq.NewConsumer(conn, cfg.RabbitExchange, cfg.BookingQueue,
		event.TypeSlotReserved, event.TypeSlotReserveFailed)
	if err != nil {
		log.Fatal().Err(err).Msg("consumer init failed")
	}
	if err := consumer.Start(rootCtx, svc.HandleResult); err != nil {
		log.Fatal().Err(err).Msg("consumer start failed")
	}

	// ---- HTTP server ----
	httpHandler := rest.NewRouter(rest.RouterOptions{
		Handler:          rest.NewHandler(svc),
		RateLimitEnabled: cfg.RLEnabled,
		RateLimit:        cfg.RLLimit,
		RateLimitWindow:  cfg.RLWindow,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler,
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

func openStore(ctx context.Context, cfg *config.Config) (booking.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.StoreRedis:
		s, err := redisstore.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return memory.New(), func() {}, nil
	}
}
