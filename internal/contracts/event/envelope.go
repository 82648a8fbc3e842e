package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event types carried on the bus. The routing key equals the type.
const (
	TypeBookingCreated    = "booking.created"
	TypeSlotReserved      = "slot.reserved"
	TypeSlotReserveFailed = "slot.reserve_failed"
)

// Envelope is the canonical message shape for all bus traffic.
// Payload stays raw JSON so a decode/encode round-trip preserves the
// producer's bytes; each consumer decodes only the types it accepts.
type Envelope struct {
	EventID       string          `json:"event_id"`
	Type          string          `json:"type"`
	Timestamp     string          `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
}

// New builds an envelope for publishing: event_id and timestamp are
// generated, everything else is copied verbatim. No payload shape
// validation happens here; that is the consumer's job per type.
func New(eventType, correlationID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		Type:          eventType,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		CorrelationID: correlationID,
		Payload:       raw,
	}, nil
}

// Decode parses a wire body into an envelope.
func Decode(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// Encode renders the envelope to its wire body.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodePayload unmarshals the raw payload into a typed variant.
func (e Envelope) DecodePayload(dest any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("empty payload for type %q", e.Type)
	}
	return json.Unmarshal(e.Payload, dest)
}

// BookingCreatedPayload is the payload of booking.created.
type BookingCreatedPayload struct {
	BookingID  string `json:"booking_id"`
	FacilityID string `json:"facility_id"`
	Date       string `json:"date"`
	Time       string `json:"time"`
	UserID     string `json:"user_id"`
}

func (p BookingCreatedPayload) Validate() error {
	if strings.TrimSpace(p.BookingID) == "" {
		return fmt.Errorf("booking.created: missing booking_id")
	}
	if strings.TrimSpace(p.FacilityID) == "" {
		return fmt.Errorf("booking.created: missing facility_id")
	}
	return nil
}

// SlotReservedPayload is the payload of slot.reserved.
type SlotReservedPayload struct {
	BookingID  string `json:"booking_id"`
	ResourceID string `json:"resource_id"`
	Date       string `json:"date"`
	Time       string `json:"time"`
}

func (p SlotReservedPayload) Validate() error {
	if strings.TrimSpace(p.BookingID) == "" {
		return fmt.Errorf("slot.reserved: missing booking_id")
	}
	return nil
}

// SlotReserveFailedPayload is the payload of slot.reserve_failed.
type SlotReserveFailedPayload struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
}

func (p SlotReserveFailedPayload) Validate() error {
	if strings.TrimSpace(p.BookingID) == "" {
		return fmt.Errorf("slot.reserve_failed: missing booking_id")
	}
	return nil
}
