// Package postgres implements the booking store on database/sql with
// the pq driver. Status transitions rely on a conditional UPDATE so
// two concurrent reconciliation deliveries cannot both win.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/slotbook/slotbook/internal/booking"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

// Open connects and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := New(db)
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure bookings schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Insert(ctx context.Context, rec booking.Record) error {
	_, err := s.db.ExecContext(ctx, insertBookingSQL,
		rec.BookingID, string(rec.Status),
		rec.FacilityID, rec.Date, rec.Time, rec.UserID,
		rec.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return booking.ErrAlreadyExists
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, bookingID string) (booking.Record, error) {
	row := s.db.QueryRowContext(ctx, getBookingSQL, bookingID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.Record{}, booking.ErrNotFound
	}
	if err != nil {
		return booking.Record{}, fmt.Errorf("get booking: %w", err)
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context) ([]booking.Record, error) {
	rows, err := s.db.QueryContext(ctx, listBookingsSQL)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []booking.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return out, nil
}

func (s *Store) Resolve(ctx context.Context, bookingID string, res booking.Resolution) (booking.Record, error) {
	var resourceID, slotDate, slotTime, reason sql.NullString
	if res.ReservedSlot != nil {
		resourceID = sql.NullString{String: res.ReservedSlot.ResourceID, Valid: true}
		slotDate = sql.NullString{String: res.ReservedSlot.Date, Valid: true}
		slotTime = sql.NullString{String: res.ReservedSlot.Time, Valid: true}
	}
	if res.CancelReason != "" {
		reason = sql.NullString{String: res.CancelReason, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, resolveBookingSQL,
		bookingID, string(res.Status),
		resourceID, slotDate, slotTime, reason,
		time.Now().UTC(),
	)
	if err != nil {
		return booking.Record{}, fmt.Errorf("resolve booking: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return booking.Record{}, fmt.Errorf("resolve booking: %w", err)
	}
	if n == 0 {
		// Either the row does not exist or it is already terminal.
		rec, getErr := s.Get(ctx, bookingID)
		if getErr != nil {
			return booking.Record{}, getErr
		}
		return rec, booking.ErrAlreadyResolved
	}

	return s.Get(ctx, bookingID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (booking.Record, error) {
	var rec booking.Record
	var status string
	var resourceID, slotDate, slotTime, reason sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&rec.BookingID, &status,
		&rec.FacilityID, &rec.Date, &rec.Time, &rec.UserID,
		&resourceID, &slotDate, &slotTime, &reason,
		&rec.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return booking.Record{}, err
	}

	rec.Status = booking.Status(status)
	if resourceID.Valid {
		rec.ReservedSlot = &booking.ReservedSlot{
			ResourceID: resourceID.String,
			Date:       slotDate.String,
			Time:       slotTime.String,
		}
	}
	rec.CancelReason = reason.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		rec.ResolvedAt = &t
	}
	return rec, nil
}
