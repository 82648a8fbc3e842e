// Package redisstore implements the booking store on Redis. Records
// are JSON values under booking:<id>; Resolve runs inside a WATCH
// transaction so concurrent duplicate deliveries race safely.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/slotbook/slotbook/internal/booking"
)

const (
	keyPrefix = "booking:"
	indexKey  = "bookings:index"

	// resolveAttempts bounds WATCH retries under contention.
	resolveAttempts = 5
)

type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

// Open parses a redis URL, connects and pings.
func Open(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(rdb), nil
}

func (s *Store) Close() error { return s.rdb.Close() }

func key(bookingID string) string { return keyPrefix + bookingID }

func (s *Store) Insert(ctx context.Context, rec booking.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal booking: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, key(rec.BookingID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	if !ok {
		return booking.ErrAlreadyExists
	}

	if err := s.rdb.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(rec.CreatedAt.UnixNano()),
		Member: rec.BookingID,
	}).Err(); err != nil {
		return fmt.Errorf("index booking: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, bookingID string) (booking.Record, error) {
	raw, err := s.rdb.Get(ctx, key(bookingID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return booking.Record{}, booking.ErrNotFound
	}
	if err != nil {
		return booking.Record{}, fmt.Errorf("get booking: %w", err)
	}

	var rec booking.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return booking.Record{}, fmt.Errorf("unmarshal booking: %w", err)
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context) ([]booking.Record, error) {
	ids, err := s.rdb.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	out := make([]booking.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if errors.Is(err, booking.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) Resolve(ctx context.Context, bookingID string, res booking.Resolution) (booking.Record, error) {
	var resolved booking.Record

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key(bookingID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return booking.ErrNotFound
		}
		if err != nil {
			return err
		}

		var rec booking.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("unmarshal booking: %w", err)
		}
		if rec.Status.Terminal() {
			resolved = rec
			return booking.ErrAlreadyResolved
		}

		now := time.Now().UTC()
		rec.Status = res.Status
		rec.ReservedSlot = res.ReservedSlot
		rec.CancelReason = res.CancelReason
		rec.ResolvedAt = &now

		next, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal booking: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key(bookingID), next, 0)
			return nil
		})
		if err != nil {
			return err
		}
		resolved = rec
		return nil
	}

	for i := 0; i < resolveAttempts; i++ {
		err := s.rdb.Watch(ctx, txn, key(bookingID))
		if errors.Is(err, redis.TxFailedErr) {
			continue // key changed under us, retry
		}
		if err != nil {
			return resolved, err
		}
		return resolved, nil
	}
	return booking.Record{}, fmt.Errorf("resolve booking %s: too much contention", bookingID)
}
