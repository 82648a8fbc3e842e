package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/slotbook/slotbook/internal/pkg/logger"
)

// HandleFunc processes one delivery. Returning nil acknowledges the
// message; returning an error requeues it. Handlers must therefore
// swallow (and log) anything that would never succeed on retry.
type HandleFunc func(ctx context.Context, d amqp.Delivery) error

// Consumer owns one durable queue bound to the topic exchange and
// feeds its deliveries to a handler, one at a time.
type Consumer struct {
	ch          *amqp.Channel
	queue       string
	consumerTag string
}

// NewConsumer declares the role's queue, binds it to the exchange for
// each routing key, and caps prefetch at one in-flight message. The
// prefetch limit trades throughput for strict per-consumer ordering
// and bounded back-pressure: a slow handler stalls delivery instead
// of buffering work in memory.
func NewConsumer(conn *amqp.Connection, exchange, queue string, routingKeys ...string) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := DeclareExchange(ch, exchange); err != nil {
		_ = ch.Close()
		return nil, err
	}

	q, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue %q: %w", queue, err)
	}

	for _, rk := range routingKeys {
		if err := ch.QueueBind(q.Name, rk, exchange, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("bind %q to %q: %w", q.Name, rk, err)
		}
	}

	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	return &Consumer{
		ch:          ch,
		queue:       q.Name,
		consumerTag: queue,
	}, nil
}

// Start launches the consume loop in a goroutine. The loop exits when
// ctx is canceled or the deliveries channel closes; unacked messages
// are then redelivered by the broker.
func (c *Consumer) Start(ctx context.Context, handle HandleFunc) error {
	log := logger.Logger.With().
		Str("component", "rabbitmq_consumer").
		Str("queue", c.queue).
		Logger()

	deliveries, err := c.ch.Consume(
		c.queue,
		c.consumerTag,
		false, // autoAck: we ack only after the handler finished
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %q: %w", c.queue, err)
	}

	go func() {
		defer func() {
			_ = c.ch.Close()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					log.Warn().Msg("deliveries channel closed")
					return
				}

				if err := handle(ctx, d); err != nil {
					log.Error().Err(err).Str("routing_key", d.RoutingKey).Msg("handler failed, requeueing")
					_ = d.Nack(false, true)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	log.Info().Msg("consumer started")
	return nil
}
