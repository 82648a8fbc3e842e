package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/slotbook/slotbook/internal/contracts/event"
	"github.com/slotbook/slotbook/internal/metrics"
)

// confirmWait bounds how long a publish waits for the broker's
// confirm, so a broker outage surfaces as an error instead of
// hanging the caller.
const confirmWait = 5 * time.Second

// publishChannel is the slice of amqp.Channel the publisher drives.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes envelopes to the topic exchange with persistent
// delivery and publisher confirms. The routing key is the event type.
// Publishes are mandatory: a message no queue is bound for comes back
// as a basic.return and is reported as an error, not silently dropped.
type Publisher struct {
	exchange    string
	confirmWait time.Duration

	mu  sync.Mutex
	ch  publishChannel
	tag uint64 // delivery tag of the last publish sent on ch

	confirmCh <-chan amqp.Confirmation
	returnCh  <-chan amqp.Return
}

// NewPublisher opens a confirming channel on conn and ensures the
// exchange exists.
func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := DeclareExchange(ch, exchange); err != nil {
		_ = ch.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	return newPublisher(ch, exchange,
		ch.NotifyPublish(make(chan amqp.Confirmation, 8)),
		ch.NotifyReturn(make(chan amqp.Return, 8)),
	), nil
}

func newPublisher(ch publishChannel, exchange string, confirms <-chan amqp.Confirmation, returns <-chan amqp.Return) *Publisher {
	return &Publisher{
		exchange:    exchange,
		confirmWait: confirmWait,
		ch:          ch,
		confirmCh:   confirms,
		returnCh:    returns,
	}
}

// Publish sends the envelope to the exchange using its type as the
// routing key. It returns only after the broker has confirmed that
// exact message: confirmations carry the channel's delivery tag, so a
// confirm left over from an earlier timed-out publish is drained
// instead of being taken for this one's ack.
func (p *Publisher) Publish(ctx context.Context, env event.Envelope) error {
	body, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		return errors.New("publisher channel closed")
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		env.Type, // routing key
		true,     // mandatory: unroutable messages come back as returns
		false,    // immediate
		amqp.Publishing{
			MessageId:    env.EventID,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		metrics.EventPublishFailed(env.Type)
		return fmt.Errorf("publish %s: %w", env.Type, err)
	}

	// The channel assigns delivery tags sequentially; with the mutex
	// held there is exactly one publish in flight, so this publish owns
	// the next tag.
	p.tag++

	if err := p.awaitConfirm(ctx, env); err != nil {
		metrics.EventPublishFailed(env.Type)
		return err
	}
	metrics.EventPublished(env.Type)
	return nil
}

func (p *Publisher) awaitConfirm(ctx context.Context, env event.Envelope) error {
	deadline := time.NewTimer(p.confirmWait)
	defer deadline.Stop()

	var returned *amqp.Return
	for {
		select {
		case ret := <-p.returnCh:
			// basic.return precedes the confirm for an unroutable
			// publish; remember it and keep waiting for the ack.
			if ret.MessageId == env.EventID {
				returned = &ret
			}

		case conf := <-p.confirmCh:
			if conf.DeliveryTag < p.tag {
				continue // stale confirm from a publish that already timed out
			}
			// The return, if any, was sent first but select order is
			// not guaranteed.
			if returned == nil {
				select {
				case ret := <-p.returnCh:
					if ret.MessageId == env.EventID {
						returned = &ret
					}
				default:
				}
			}
			if returned != nil {
				return fmt.Errorf("publish %s: unroutable (reply %d %s)", env.Type, returned.ReplyCode, returned.ReplyText)
			}
			if !conf.Ack {
				return fmt.Errorf("publish %s: broker nack", env.Type)
			}
			return nil

		case <-deadline.C:
			return fmt.Errorf("publish %s: confirm timeout after %s", env.Type, p.confirmWait)

		case <-ctx.Done():
			return fmt.Errorf("publish %s: %w", env.Type, ctx.Err())
		}
	}
}

// Close releases the channel. The connection is owned by the caller.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	return nil
}
