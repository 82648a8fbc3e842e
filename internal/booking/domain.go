package booking

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

var (
	ErrNotFound        = errors.New("booking not found")
	ErrAlreadyExists   = errors.New("booking already exists")
	ErrAlreadyResolved = errors.New("booking already resolved")
	ErrInvalidRequest  = errors.New("invalid booking request")
)

// ReservedSlot is attached when a booking is confirmed.
type ReservedSlot struct {
	ResourceID string `json:"resource_id"`
	Date       string `json:"date"`
	Time       string `json:"time"`
}

// Record is the booking aggregate. The saga service is its sole
// writer; status only moves out of PENDING, never out of a terminal
// state.
type Record struct {
	BookingID  string `json:"booking_id"`
	Status     Status `json:"status"`
	FacilityID string `json:"facility_id"`
	Date       string `json:"date"`
	Time       string `json:"time"`
	UserID     string `json:"user_id"`

	ReservedSlot *ReservedSlot `json:"reserved_slot,omitempty"`
	CancelReason string        `json:"cancel_reason,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Resolution is a terminal transition applied to a PENDING record.
// Exactly one of ReservedSlot / CancelReason is set, matching Status.
type Resolution struct {
	Status       Status
	ReservedSlot *ReservedSlot
	CancelReason string
}

// Store is the ownership store for booking records. Resolve is a
// compare-and-set that only moves a record out of PENDING: it returns
// ErrNotFound for unknown ids and ErrAlreadyResolved when the record
// is already terminal, and must be safe under concurrent callers.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	Get(ctx context.Context, bookingID string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	Resolve(ctx context.Context, bookingID string, res Resolution) (Record, error)
}
