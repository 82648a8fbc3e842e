package rest

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/slotbook/slotbook/internal/booking"
	appCtx "github.com/slotbook/slotbook/internal/pkg/context"
	"github.com/slotbook/slotbook/internal/transport/rest/response"
)

type Handler struct {
	svc      *booking.Service
	validate *validator.Validate
}

func NewHandler(svc *booking.Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

type createBookingRequest struct {
	FacilityID string `json:"facility_id" validate:"required"`
	Date       string `json:"date" validate:"required"`
	Time       string `json:"time" validate:"required"`
	UserID     string `json:"user_id" validate:"required"`
}

type createBookingResponse struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

// Create accepts a booking request, records it as PENDING and kicks
// off the workflow. A failure here means the workflow never started,
// as opposed to a denial, which resolves the booking to CANCELLED.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "facility_id, date, time and user_id are required")
		return
	}

	rec, err := h.svc.Create(r.Context(), booking.CreateRequest{
		FacilityID: req.FacilityID,
		Date:       req.Date,
		Time:       req.Time,
		UserID:     req.UserID,
	})
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusCreated, createBookingResponse{
		BookingID: rec.BookingID,
		Status:    string(rec.Status),
	})
}

// Get returns the current state of one booking.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")
	if bookingID == "" {
		fail(w, r, http.StatusBadRequest, "request.invalid", "missing bookingID")
		return
	}

	rec, err := h.svc.Get(r.Context(), bookingID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, rec)
}

// List returns all bookings, oldest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.List(r.Context())
	if err != nil {
		handleErr(w, r, err)
		return
	}
	if recs == nil {
		recs = []booking.Record{}
	}

	response.Data(w, http.StatusOK, recs)
}

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		fail(w, r, http.StatusNotFound, "booking.not_found", "no such booking")
	case errors.Is(err, booking.ErrInvalidRequest):
		fail(w, r, http.StatusBadRequest, "request.invalid", err.Error())
	default:
		// Creation failures (e.g. the bus rejected the publish) land
		// here: the workflow never started.
		fail(w, r, http.StatusInternalServerError, "internal", "booking creation failed")
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	response.Fail(w, status, code, message, appCtx.GetRequestID(r.Context()))
}
