package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS bookings (
    booking_id    TEXT PRIMARY KEY,
    status        TEXT NOT NULL,
    facility_id   TEXT NOT NULL,
    date          TEXT NOT NULL,
    time          TEXT NOT NULL,
    user_id       TEXT NOT NULL,
    resource_id   TEXT,
    slot_date     TEXT,
    slot_time     TEXT,
    cancel_reason TEXT,
    created_at    TIMESTAMPTZ NOT NULL,
    resolved_at   TIMESTAMPTZ
)`

const insertBookingSQL = `
INSERT INTO bookings (booking_id, status, facility_id, date, time, user_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

const getBookingSQL = `
SELECT booking_id, status, facility_id, date, time, user_id,
       resource_id, slot_date, slot_time, cancel_reason,
       created_at, resolved_at
FROM bookings
WHERE booking_id = $1`

const listBookingsSQL = `
SELECT booking_id, status, facility_id, date, time, user_id,
       resource_id, slot_date, slot_time, cancel_reason,
       created_at, resolved_at
FROM bookings
ORDER BY created_at`

// resolveBookingSQL is the compare-and-set: only a PENDING row moves.
const resolveBookingSQL = `
UPDATE bookings
SET status = $2, resource_id = $3, slot_date = $4, slot_time = $5,
    cancel_reason = $6, resolved_at = $7
WHERE booking_id = $1 AND status = 'PENDING'`
