// Package memory is the default booking store: a mutex-guarded map.
// The Resolve compare-and-set happens under the same lock as reads,
// so concurrent duplicate deliveries for one booking serialize here.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/slotbook/slotbook/internal/booking"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]booking.Record
}

func New() *Store {
	return &Store{records: make(map[string]booking.Record)}
}

func (s *Store) Insert(_ context.Context, rec booking.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.BookingID]; ok {
		return booking.ErrAlreadyExists
	}
	s.records[rec.BookingID] = rec
	return nil
}

func (s *Store) Get(_ context.Context, bookingID string) (booking.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[bookingID]
	if !ok {
		return booking.Record{}, booking.ErrNotFound
	}
	return rec, nil
}

func (s *Store) List(_ context.Context) ([]booking.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]booking.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) Resolve(_ context.Context, bookingID string, res booking.Resolution) (booking.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[bookingID]
	if !ok {
		return booking.Record{}, booking.ErrNotFound
	}
	if rec.Status.Terminal() {
		return rec, booking.ErrAlreadyResolved
	}

	now := time.Now().UTC()
	rec.Status = res.Status
	rec.ReservedSlot = res.ReservedSlot
	rec.CancelReason = res.CancelReason
	rec.ResolvedAt = &now

	s.records[bookingID] = rec
	return rec, nil
}
