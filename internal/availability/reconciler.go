// Package availability turns booking.created into a slot.* result.
// The reconciler holds no state: every delivery is an independent
// unit of work, decided and answered in one pass.
package availability

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/slotbook/slotbook/internal/contracts/event"
	"github.com/slotbook/slotbook/internal/metrics"
	"github.com/slotbook/slotbook/internal/pkg/logger"
)

// Publisher is the outbound bus seen by the reconciler.
type Publisher interface {
	Publish(ctx context.Context, env event.Envelope) error
}

type Reconciler struct {
	pub    Publisher
	decide DecideFunc
}

// NewReconciler wires the reconciler with an admission predicate.
// A nil decide falls back to the suffix rule.
func NewReconciler(pub Publisher, decide DecideFunc) *Reconciler {
	if decide == nil {
		decide = SuffixRule
	}
	return &Reconciler{pub: pub, decide: decide}
}

// Handle processes one delivery. The inbound message is acked (nil
// return) only after the outbound publish was accepted by the broker:
// if the process dies in between, redelivery repeats the whole unit,
// decision included. Downstream tolerates the resulting duplicates.
func (r *Reconciler) Handle(ctx context.Context, d amqp.Delivery) error {
	log := logger.Logger.With().
		Str("component", "availability_reconciler").
		Str("routing_key", d.RoutingKey).
		Logger()

	env, err := event.Decode(d.Body)
	if err != nil {
		log.Warn().Err(err).Msg("malformed envelope, dropping")
		metrics.EventConsumed(d.RoutingKey, "discarded")
		return nil
	}

	if env.Type != event.TypeBookingCreated {
		log.Debug().Str("type", env.Type).Msg("irrelevant event type, ignoring")
		metrics.EventConsumed(env.Type, "discarded")
		return nil
	}

	var p event.BookingCreatedPayload
	if err := env.DecodePayload(&p); err != nil {
		log.Warn().Err(err).Msg("invalid booking.created payload, dropping")
		metrics.EventConsumed(env.Type, "discarded")
		return nil
	}
	if err := p.Validate(); err != nil {
		log.Warn().Err(err).Msg("rejected booking.created payload, dropping")
		metrics.EventConsumed(env.Type, "discarded")
		return nil
	}

	log = log.With().
		Str("event_id", env.EventID).
		Str("booking_id", p.BookingID).
		Logger()

	out, err := r.result(p)
	if err != nil {
		log.Warn().Err(err).Msg("building result failed, dropping")
		metrics.EventConsumed(env.Type, "discarded")
		return nil
	}

	if err := r.pub.Publish(ctx, out); err != nil {
		// Do not ack: redelivery retries the whole unit.
		return fmt.Errorf("publish %s for booking %s: %w", out.Type, p.BookingID, err)
	}

	log.Info().Str("result", out.Type).Msg("booking decided")
	metrics.EventConsumed(env.Type, "applied")
	return nil
}

// result evaluates the admission decision and builds the outbound
// envelope, correlated by booking id.
func (r *Reconciler) result(p event.BookingCreatedPayload) (event.Envelope, error) {
	dec := r.decide(p)
	if dec.Admit {
		return event.New(event.TypeSlotReserved, p.BookingID, event.SlotReservedPayload{
			BookingID:  p.BookingID,
			ResourceID: p.FacilityID,
			Date:       p.Date,
			Time:       p.Time,
		})
	}
	return event.New(event.TypeSlotReserveFailed, p.BookingID, event.SlotReserveFailedPayload{
		BookingID: p.BookingID,
		Reason:    dec.Reason,
	})
}
