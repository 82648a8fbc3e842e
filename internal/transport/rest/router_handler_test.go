package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotbook/slotbook/internal/availability"
	"github.com/slotbook/slotbook/internal/booking"
	"github.com/slotbook/slotbook/internal/booking/store/memory"
	"github.com/slotbook/slotbook/internal/contracts/event"
	"github.com/slotbook/slotbook/internal/transport/rest"
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

type testEnv struct {
	svc    *booking.Service
	pub    *capturePublisher
	server http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	pub := &capturePublisher{}
	svc := booking.NewService(memory.New(), pub)
	h := rest.NewRouter(rest.RouterOptions{Handler: rest.NewHandler(svc)})
	return &testEnv{svc: svc, pub: pub, server: h}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

type dataBody struct {
	Data json.RawMessage `json:"data"`
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var body dataBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NoError(t, json.Unmarshal(body.Data, dest))
}

// deliverResult feeds a slot.* envelope into the saga's consumer
// entry point, standing in for the availability service's output.
func (e *testEnv) deliverResult(t *testing.T, env event.Envelope) {
	t.Helper()
	body, err := env.Encode()
	require.NoError(t, err)
	require.NoError(t, e.svc.HandleResult(context.Background(), amqp.Delivery{
		Body:       body,
		RoutingKey: env.Type,
	}))
}

func TestCreateBooking(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/bookings", map[string]string{
		"facility_id": "room-A",
		"date":        "2025-12-20",
		"time":        "18:00",
		"user_id":     "u1",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp struct {
		BookingID string `json:"booking_id"`
		Status    string `json:"status"`
	}
	decodeData(t, rr, &resp)
	assert.NotEmpty(t, resp.BookingID)
	assert.Equal(t, "PENDING", resp.Status)
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))

	// booking.created is on the bus.
	out := env.pub.all()
	require.Len(t, out, 1)
	assert.Equal(t, event.TypeBookingCreated, out[0].Type)
	assert.Equal(t, resp.BookingID, out[0].CorrelationID)
}

func TestCreateBooking_InvalidBody(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/bookings", map[string]string{"facility_id": "room-A"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "request.invalid")
	assert.Empty(t, env.pub.all())
}

func TestCreateBooking_PublishFailureIsCreationFailure(t *testing.T) {
	env := newTestEnv(t)
	env.pub.err = errors.New("bus unreachable")

	rr := env.do(t, http.MethodPost, "/bookings", map[string]string{
		"facility_id": "room-A", "date": "d", "time": "t", "user_id": "u1",
	})
	// The workflow never started; distinct from a denial, which is a
	// successful workflow that resolves to CANCELLED.
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestGetBooking_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/bookings/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "booking.not_found")
}

func TestListBookings(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/bookings", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var recs []booking.Record
	decodeData(t, rr, &recs)
	assert.Empty(t, recs)

	env.do(t, http.MethodPost, "/bookings", map[string]string{
		"facility_id": "room-A", "date": "d", "time": "t", "user_id": "u1",
	})

	rr = env.do(t, http.MethodGet, "/bookings", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeData(t, rr, &recs)
	assert.Len(t, recs, 1)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"booking"`)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

// End-to-end through the in-process pipeline: HTTP create, then the
// availability reconciler decides on the published event, and its
// result flows back through the saga consumer to the read path.
func TestEndToEnd_ConfirmedFlow(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/bookings", map[string]string{
		"facility_id": "room-A", "date": "2025-12-20", "time": "18:00", "user_id": "u1",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var created struct {
		BookingID string `json:"booking_id"`
	}
	decodeData(t, rr, &created)

	// Run the availability side over the published booking.created.
	availPub := &capturePublisher{}
	reconciler := availability.NewReconciler(availPub, nil)
	in := env.pub.all()[0]
	body, err := in.Encode()
	require.NoError(t, err)
	require.NoError(t, reconciler.Handle(context.Background(), amqp.Delivery{Body: body, RoutingKey: in.Type}))

	results := availPub.all()
	require.Len(t, results, 1)
	require.Equal(t, event.TypeSlotReserved, results[0].Type)
	env.deliverResult(t, results[0])

	rr = env.do(t, http.MethodGet, "/bookings/"+created.BookingID, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var rec booking.Record
	decodeData(t, rr, &rec)
	assert.Equal(t, booking.StatusConfirmed, rec.Status)
	require.NotNil(t, rec.ReservedSlot)
	assert.Equal(t, "room-A", rec.ReservedSlot.ResourceID)
}

func TestEndToEnd_CancelledFlow(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/bookings", map[string]string{
		"facility_id": "room-x", "date": "2025-12-20", "time": "18:00", "user_id": "u1",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var created struct {
		BookingID string `json:"booking_id"`
	}
	decodeData(t, rr, &created)

	availPub := &capturePublisher{}
	reconciler := availability.NewReconciler(availPub, nil)
	in := env.pub.all()[0]
	body, err := in.Encode()
	require.NoError(t, err)
	require.NoError(t, reconciler.Handle(context.Background(), amqp.Delivery{Body: body, RoutingKey: in.Type}))

	results := availPub.all()
	require.Len(t, results, 1)
	require.Equal(t, event.TypeSlotReserveFailed, results[0].Type)
	env.deliverResult(t, results[0])

	rr = env.do(t, http.MethodGet, "/bookings/"+created.BookingID, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var rec booking.Record
	decodeData(t, rr, &rec)
	assert.Equal(t, booking.StatusCancelled, rec.Status)
	assert.Equal(t, "resource_unavailable", rec.CancelReason)
}

func TestEndToEnd_ConcurrentCreationsStayIsolated(t *testing.T) {
	env := newTestEnv(t)

	var wg sync.WaitGroup
	ids := make([]string, 2)
	facilities := []string{"room-A", "room-x"}

	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			defer wg.Done()
			rr := env.do(t, http.MethodPost, "/bookings", map[string]string{
				"facility_id": facilities[i], "date": "d", "time": "t", "user_id": "u",
			})
			if rr.Code != http.StatusCreated {
				t.Errorf("create %d: status %d", i, rr.Code)
				return
			}
			var body dataBody
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Errorf("create %d: %v", i, err)
				return
			}
			var created struct {
				BookingID string `json:"booking_id"`
			}
			if err := json.Unmarshal(body.Data, &created); err != nil {
				t.Errorf("create %d: %v", i, err)
				return
			}
			ids[i] = created.BookingID
		}(i)
	}
	wg.Wait()
	require.NotEmpty(t, ids[0])
	require.NotEmpty(t, ids[1])

	availPub := &capturePublisher{}
	reconciler := availability.NewReconciler(availPub, nil)
	for _, in := range env.pub.all() {
		body, err := in.Encode()
		require.NoError(t, err)
		require.NoError(t, reconciler.Handle(context.Background(), amqp.Delivery{Body: body, RoutingKey: in.Type}))
	}
	for _, out := range availPub.all() {
		env.deliverResult(t, out)
	}

	var recA booking.Record
	rr := env.do(t, http.MethodGet, "/bookings/"+ids[0], nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeData(t, rr, &recA)
	assert.Equal(t, booking.StatusConfirmed, recA.Status)
	require.NotNil(t, recA.ReservedSlot)
	assert.Equal(t, "room-A", recA.ReservedSlot.ResourceID)
	assert.Empty(t, recA.CancelReason)

	var recB booking.Record
	rr = env.do(t, http.MethodGet, "/bookings/"+ids[1], nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeData(t, rr, &recB)
	assert.Equal(t, booking.StatusCancelled, recB.Status)
	assert.Equal(t, "resource_unavailable", recB.CancelReason)
	assert.Nil(t, recB.ReservedSlot)
}
