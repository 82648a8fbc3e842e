package availability

import (
	"context"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotbook/slotbook/internal/contracts/event"
)

type capturePublisher struct {
	mu        sync.Mutex
	published []event.Envelope
	err       error
}

func (p *capturePublisher) Publish(_ context.Context, env event.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, env)
	return nil
}

func (p *capturePublisher) all() []event.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event.Envelope(nil), p.published...)
}

func deliveryFor(t *testing.T, env event.Envelope) amqp.Delivery {
	t.Helper()
	body, err := env.Encode()
	require.NoError(t, err)
	return amqp.Delivery{Body: body, RoutingKey: env.Type}
}

func TestHandle_AdmitPublishesSlotReserved(t *testing.T) {
	pub := &capturePublisher{}
	rec := NewReconciler(pub, nil)

	in, err := event.New(event.TypeBookingCreated, "b-1", event.BookingCreatedPayload{
		BookingID:  "b-1",
		FacilityID: "room-A",
		Date:       "2025-12-20",
		Time:       "18:00",
		UserID:     "u1",
	})
	require.NoError(t, err)

	require.NoError(t, rec.Handle(context.Background(), deliveryFor(t, in)))

	out := pub.all()
	require.Len(t, out, 1)
	assert.Equal(t, event.TypeSlotReserved, out[0].Type)
	assert.Equal(t, "b-1", out[0].CorrelationID)

	var p event.SlotReservedPayload
	require.NoError(t, out[0].DecodePayload(&p))
	assert.Equal(t, event.SlotReservedPayload{
		BookingID:  "b-1",
		ResourceID: "room-A",
		Date:       "2025-12-20",
		Time:       "18:00",
	}, p)
}

func TestHandle_DenyPublishesSlotReserveFailed(t *testing.T) {
	pub := &capturePublisher{}
	rec := NewReconciler(pub, nil)

	in, err := event.New(event.TypeBookingCreated, "b-2", event.BookingCreatedPayload{
		BookingID:  "b-2",
		FacilityID: "room-x",
		Date:       "2025-12-20",
		Time:       "19:00",
		UserID:     "u2",
	})
	require.NoError(t, err)

	require.NoError(t, rec.Handle(context.Background(), deliveryFor(t, in)))

	out := pub.all()
	require.Len(t, out, 1)
	assert.Equal(t, event.TypeSlotReserveFailed, out[0].Type)
	assert.Equal(t, "b-2", out[0].CorrelationID)

	var p event.SlotReserveFailedPayload
	require.NoError(t, out[0].DecodePayload(&p))
	assert.Equal(t, "resource_unavailable", p.Reason)
}

func TestHandle_IgnoresIrrelevantEventTypes(t *testing.T) {
	pub := &capturePublisher{}
	rec := NewReconciler(pub, nil)

	in, err := event.New("slot.reserved", "b-3", event.SlotReservedPayload{BookingID: "b-3"})
	require.NoError(t, err)

	// Unknown/irrelevant types are acked (nil) without output.
	assert.NoError(t, rec.Handle(context.Background(), deliveryFor(t, in)))
	assert.Empty(t, pub.all())
}

func TestHandle_DropsPoisonBody(t *testing.T) {
	pub := &capturePublisher{}
	rec := NewReconciler(pub, nil)

	err := rec.Handle(context.Background(), amqp.Delivery{Body: []byte("{broken")})
	assert.NoError(t, err)
	assert.Empty(t, pub.all())
}

func TestHandle_DropsPayloadMissingBookingID(t *testing.T) {
	pub := &capturePublisher{}
	rec := NewReconciler(pub, nil)

	in, err := event.New(event.TypeBookingCreated, "", event.BookingCreatedPayload{FacilityID: "room-A"})
	require.NoError(t, err)

	assert.NoError(t, rec.Handle(context.Background(), deliveryFor(t, in)))
	assert.Empty(t, pub.all())
}

func TestHandle_PublishFailureRequeues(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	rec := NewReconciler(pub, nil)

	in, err := event.New(event.TypeBookingCreated, "b-4", event.BookingCreatedPayload{
		BookingID:  "b-4",
		FacilityID: "room-A",
	})
	require.NoError(t, err)

	// Publish must be accepted before the inbound ack; failure means
	// the delivery is requeued and the whole unit re-runs.
	assert.Error(t, rec.Handle(context.Background(), deliveryFor(t, in)))
}

func TestHandle_RedeliveryRepublishesSameOutcome(t *testing.T) {
	pub := &capturePublisher{}
	rec := NewReconciler(pub, nil)

	in, err := event.New(event.TypeBookingCreated, "b-5", event.BookingCreatedPayload{
		BookingID:  "b-5",
		FacilityID: "room-x",
	})
	require.NoError(t, err)

	d := deliveryFor(t, in)
	require.NoError(t, rec.Handle(context.Background(), d))
	d.Redelivered = true
	require.NoError(t, rec.Handle(context.Background(), d))

	out := pub.all()
	require.Len(t, out, 2)
	assert.Equal(t, out[0].Type, out[1].Type)
	assert.Equal(t, out[0].CorrelationID, out[1].CorrelationID)
}
