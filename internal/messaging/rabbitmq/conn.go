package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/slotbook/slotbook/internal/pkg/logger"
)

// dialRetryDelay is the fixed backoff between initial connection
// attempts. The broker may simply not be up yet when a dependent
// service starts, so this loops until the context is canceled.
const dialRetryDelay = 2 * time.Second

// DialWithRetry connects to the broker, retrying indefinitely with a
// fixed delay. It only fails when ctx is canceled.
func DialWithRetry(ctx context.Context, url string) (*amqp.Connection, error) {
	log := logger.Logger.With().Str("component", "rabbitmq").Logger()

	for {
		conn, err := amqp.Dial(url)
		if err == nil {
			return conn, nil
		}

		log.Warn().Err(err).Msgf("broker not ready, retrying in %s", dialRetryDelay)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial rabbitmq: %w", ctx.Err())
		case <-time.After(dialRetryDelay):
		}
	}
}

// DeclareExchange declares the shared topic exchange. Declaration is
// idempotent; a redeclare with conflicting parameters is a channel
// error and therefore fatal configuration drift.
func DeclareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return nil
}
