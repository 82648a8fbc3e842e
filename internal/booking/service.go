package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/slotbook/slotbook/internal/contracts/event"
	"github.com/slotbook/slotbook/internal/metrics"
	"github.com/slotbook/slotbook/internal/pkg/logger"
)

// Publisher is the outbound bus seen by the saga.
type Publisher interface {
	Publish(ctx context.Context, env event.Envelope) error
}

// CreateRequest carries the immutable booking attributes.
type CreateRequest struct {
	FacilityID string
	Date       string
	Time       string
	UserID     string
}

// Service owns booking state. Its two entry points — Create (HTTP)
// and HandleResult (bus consumer) — run concurrently and coordinate
// only through the Store.
type Service struct {
	store Store
	pub   Publisher
}

func NewService(store Store, pub Publisher) *Service {
	return &Service{store: store, pub: pub}
}

// Create inserts a PENDING record and publishes booking.created. The
// record is readable before Create returns. If the publish fails the
// whole creation fails: the error is surfaced to the caller and the
// record is best-effort resolved to CANCELLED so nothing stays
// silently PENDING with no event on the bus.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Record, error) {
	if strings.TrimSpace(req.FacilityID) == "" || strings.TrimSpace(req.UserID) == "" {
		return Record{}, fmt.Errorf("%w: facility_id and user_id are required", ErrInvalidRequest)
	}

	rec := Record{
		BookingID:  uuid.NewString(),
		Status:     StatusPending,
		FacilityID: req.FacilityID,
		Date:       req.Date,
		Time:       req.Time,
		UserID:     req.UserID,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.store.Insert(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("insert booking: %w", err)
	}

	env, err := event.New(event.TypeBookingCreated, rec.BookingID, event.BookingCreatedPayload{
		BookingID:  rec.BookingID,
		FacilityID: rec.FacilityID,
		Date:       rec.Date,
		Time:       rec.Time,
		UserID:     rec.UserID,
	})
	if err != nil {
		return Record{}, err
	}

	if err := s.pub.Publish(ctx, env); err != nil {
		log := logger.WithCtx(ctx)
		log.Error().Err(err).Str("booking_id", rec.BookingID).Msg("booking.created publish failed")

		// The workflow never started; close the record out so it
		// cannot stay PENDING forever.
		if _, rerr := s.store.Resolve(ctx, rec.BookingID, Resolution{
			Status:       StatusCancelled,
			CancelReason: "publish_failed",
		}); rerr != nil {
			log.Error().Err(rerr).Str("booking_id", rec.BookingID).Msg("orphaned PENDING record")
		}
		return Record{}, fmt.Errorf("publish booking.created: %w", err)
	}

	return rec, nil
}

// Get returns the current record for bookingID or ErrNotFound.
func (s *Service) Get(ctx context.Context, bookingID string) (Record, error) {
	return s.store.Get(ctx, bookingID)
}

// List returns all records, oldest first.
func (s *Service) List(ctx context.Context) ([]Record, error) {
	return s.store.List(ctx)
}

// HandleResult is the reconciliation consumer handler for slot.*
// deliveries. Returning an error requeues the delivery; nil acks it.
func (s *Service) HandleResult(ctx context.Context, d amqp.Delivery) error {
	log := logger.Logger.With().
		Str("component", "booking_saga").
		Str("routing_key", d.RoutingKey).
		Logger()

	env, err := event.Decode(d.Body)
	if err != nil {
		// Poison: redelivering can never help, drop for liveness.
		log.Warn().Err(err).Msg("malformed envelope, dropping")
		metrics.EventConsumed(d.RoutingKey, "discarded")
		return nil
	}

	log = log.With().
		Str("event_id", env.EventID).
		Str("correlation_id", env.CorrelationID).
		Logger()

	var res Resolution
	var bookingID string

	switch env.Type {
	case event.TypeSlotReserved:
		var p event.SlotReservedPayload
		if err := env.DecodePayload(&p); err != nil {
			log.Warn().Err(err).Msg("invalid slot.reserved payload, dropping")
			metrics.EventConsumed(env.Type, "discarded")
			return nil
		}
		if err := p.Validate(); err != nil {
			log.Warn().Err(err).Msg("rejected slot.reserved payload, dropping")
			metrics.EventConsumed(env.Type, "discarded")
			return nil
		}
		bookingID = p.BookingID
		res = Resolution{
			Status: StatusConfirmed,
			ReservedSlot: &ReservedSlot{
				ResourceID: p.ResourceID,
				Date:       p.Date,
				Time:       p.Time,
			},
		}

	case event.TypeSlotReserveFailed:
		var p event.SlotReserveFailedPayload
		if err := env.DecodePayload(&p); err != nil {
			log.Warn().Err(err).Msg("invalid slot.reserve_failed payload, dropping")
			metrics.EventConsumed(env.Type, "discarded")
			return nil
		}
		if err := p.Validate(); err != nil {
			log.Warn().Err(err).Msg("rejected slot.reserve_failed payload, dropping")
			metrics.EventConsumed(env.Type, "discarded")
			return nil
		}
		bookingID = p.BookingID
		res = Resolution{
			Status:       StatusCancelled,
			CancelReason: p.Reason,
		}

	default:
		// Unknown types on a shared queue are not errors.
		log.Debug().Str("type", env.Type).Msg("irrelevant event type, ignoring")
		metrics.EventConsumed(env.Type, "discarded")
		return nil
	}

	rec, err := s.store.Resolve(ctx, bookingID, res)
	switch {
	case errors.Is(err, ErrNotFound):
		// The result may have overtaken the creation write. Requeue
		// once (the broker marks the retry as redelivered) to narrow
		// that race, then discard for good.
		if !d.Redelivered {
			log.Warn().Str("booking_id", bookingID).Msg("unknown booking, requeueing once")
			metrics.EventConsumed(env.Type, "requeued")
			return fmt.Errorf("booking %s not yet visible", bookingID)
		}
		log.Warn().Str("booking_id", bookingID).Msg("unknown booking after redelivery, dropping")
		metrics.EventConsumed(env.Type, "discarded")
		return nil

	case errors.Is(err, ErrAlreadyResolved):
		// Duplicate or late result for a settled booking: no-op.
		log.Info().Str("booking_id", bookingID).Str("status", string(rec.Status)).Msg("already resolved, ignoring")
		metrics.EventConsumed(env.Type, "duplicate")
		return nil

	case err != nil:
		return fmt.Errorf("resolve booking %s: %w", bookingID, err)
	}

	log.Info().Str("booking_id", bookingID).Str("status", string(rec.Status)).Msg("booking resolved")
	metrics.EventConsumed(env.Type, "applied")
	metrics.BookingResolved(string(rec.Status))
	return nil
}
