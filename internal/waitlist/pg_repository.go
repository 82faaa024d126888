package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const entryColumns = `id, client_ref, treatment_ref, preferred_date, alternative_dates,
	preferred_time, flexible_timing, priority, status, notified_at, expires_at, created_at, updated_at`

const bookingColumns = `id, waitlist_entry_ref, slot_id, resource_ref, starts_at,
	duration_minutes, status, expires_at, created_at, updated_at`

// Helpers

func scanEntry(row pgx.Row) (*WaitlistEntry, error) {
	var e WaitlistEntry
	var preferredTime *string
	var notifiedAt *time.Time

	err := row.Scan(
		&e.ID,
		&e.ClientRef,
		&e.TreatmentRef,
		&e.PreferredDate,
		&e.AlternativeDates,
		&preferredTime,
		&e.FlexibleTiming,
		&e.Priority,
		&e.Status,
		&notifiedAt,
		&e.ExpiresAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}

	e.PreferredTime = preferredTime
	e.NotifiedAt = notifiedAt
	return &e, nil
}

func scanSlot(row pgx.Row) (*AvailabilitySlot, error) {
	var s AvailabilitySlot

	err := row.Scan(
		&s.ID,
		&s.ResourceRef,
		&s.StartsAt,
		&s.DurationMinutes,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanTreatment(row pgx.Row) (*Treatment, error) {
	var t Treatment

	err := row.Scan(&t.ID, &t.Name, &t.DurationMinutes, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTreatmentNotFound
		}
		return nil, err
	}

	return &t, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var entryRef, slotID *uuid.UUID
	var expiresAt *time.Time

	err := row.Scan(
		&b.ID,
		&entryRef,
		&slotID,
		&b.Slot.ResourceRef,
		&b.Slot.StartsAt,
		&b.Slot.DurationMinutes,
		&b.Status,
		&expiresAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	b.WaitlistEntryRef = entryRef
	b.SlotID = slotID
	b.ExpiresAt = expiresAt
	return &b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func statusStrings(statuses []EntryStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Interface methods

func (r *PgRepository) GetEntryByID(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE id = $1
	`, id)
	return scanEntry(row)
}

func (r *PgRepository) ListEntries(ctx context.Context, filter ListFilter, now time.Time) ([]WaitlistEntry, error) {
	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE ($1::text IS NULL OR
		       CASE WHEN status IN ('waiting','contacted') AND expires_at < $3
		            THEN 'expired' ELSE status END = $1)
		  AND ($2::uuid IS NULL OR treatment_ref = $2)
		ORDER BY priority DESC, created_at ASC
	`, status, filter.TreatmentRef, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WaitlistEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}

	return result, rows.Err()
}

func (r *PgRepository) AdjustEntryPriority(ctx context.Context, id uuid.UUID, delta int) (*WaitlistEntry, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET priority = GREATEST(priority + $2, 0),
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('waiting','contacted')
		RETURNING `+entryColumns+`
	`, id, delta)
	return scanEntry(row)
}

func (r *PgRepository) UpdateEntryStatus(ctx context.Context, id uuid.UUID, from []EntryStatus, to EntryStatus) (*WaitlistEntry, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+entryColumns+`
	`, id, to, statusStrings(from))
	return scanEntry(row)
}

func (r *PgRepository) MarkEntryContacted(ctx context.Context, id uuid.UUID, notifiedAt time.Time) (*WaitlistEntry, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET status = 'contacted',
		    notified_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('waiting','contacted')
		RETURNING `+entryColumns+`
	`, id, notifiedAt)
	return scanEntry(row)
}

func (r *PgRepository) FindDueEntries(ctx context.Context, now time.Time) ([]WaitlistEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE status IN ('waiting','contacted')
		  AND expires_at < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WaitlistEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}

	return result, rows.Err()
}

func (r *PgRepository) GetTreatmentByID(ctx context.Context, id uuid.UUID) (*Treatment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, duration_minutes, created_at, updated_at
		FROM treatments
		WHERE id = $1
	`, id)
	return scanTreatment(row)
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, resource_ref, starts_at, duration_minutes, created_at
		FROM availability_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListOpenSlots(ctx context.Context, now time.Time) ([]AvailabilitySlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.resource_ref, s.starts_at, s.duration_minutes, s.created_at
		FROM availability_slots s
		WHERE s.starts_at > $1
		  AND NOT EXISTS (
		      SELECT 1 FROM bookings b
		      WHERE b.slot_id = s.id
		        AND b.status IN ('pending','confirmed')
		  )
		ORDER BY s.starts_at ASC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilitySlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	return result, rows.Err()
}

func (r *PgRepository) DeletePastSlots(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM availability_slots
		WHERE starts_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("delete past slots: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClaimSlot is the single atomic step the whole subsystem exists for. The
// partial unique index on (resource_ref, starts_at) over active bookings is
// the authoritative defense against two operators booking the same opening
// from two different waitlist entries at once: among racing transactions
// exactly one insert commits, the rest see a unique violation.
func (r *PgRepository) ClaimSlot(ctx context.Context, p ClaimParams) (*Booking, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	// Re-check the entry under a row lock so a concurrent remove or expiry
	// cannot slip in between validation and claim.
	entry, err := scanEntry(tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE id = $1
		FOR UPDATE
	`, p.EntryID))
	if err != nil {
		return nil, err
	}
	if entry.Status != EntryWaiting && entry.Status != EntryContacted {
		return nil, ErrEntryNotActionable
	}
	if p.Now.After(entry.ExpiresAt) {
		return nil, ErrEntryExpired
	}

	slot, err := scanSlot(tx.QueryRow(ctx, `
		SELECT id, resource_ref, starts_at, duration_minutes, created_at
		FROM availability_slots
		WHERE id = $1
		FOR UPDATE
	`, p.SlotID))
	if err != nil {
		return nil, err
	}

	status := BookingPending
	var expiresAt *time.Time
	if p.Confirm {
		status = BookingConfirmed
	} else {
		expiresAt = &p.HoldExpiresAt
	}

	id := uuid.New()
	booking, err := scanBooking(tx.QueryRow(ctx, `
		INSERT INTO bookings
			(id, waitlist_entry_ref, slot_id, resource_ref, starts_at, duration_minutes, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+bookingColumns+`
	`, id, p.EntryID, slot.ID, slot.ResourceRef, slot.StartsAt, slot.DurationMinutes, status, expiresAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("insert booking: %w", err)
	}

	if p.Confirm {
		if _, err := tx.Exec(ctx, `
			UPDATE waitlist_entries
			SET status = 'booked', updated_at = now()
			WHERE id = $1
		`, p.EntryID); err != nil {
			return nil, fmt.Errorf("mark entry booked: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	return booking, nil
}

func (r *PgRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (r *PgRepository) ConfirmHold(ctx context.Context, id uuid.UUID) (*Booking, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin confirm: %w", err)
	}
	defer tx.Rollback(ctx)

	booking, err := scanBooking(tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'confirmed',
		    expires_at = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING `+bookingColumns+`
	`, id))
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, err
	}

	if booking.WaitlistEntryRef != nil {
		tag, err := tx.Exec(ctx, `
			UPDATE waitlist_entries
			SET status = 'booked', updated_at = now()
			WHERE id = $1
			  AND status IN ('waiting','contacted')
		`, *booking.WaitlistEntryRef)
		if err != nil {
			return nil, fmt.Errorf("mark entry booked: %w", err)
		}
		// The entry left the actionable states while the hold was pending.
		// Rolling back keeps the booking pending instead of committing a
		// confirmed booking against a non-booked entry.
		if tag.RowsAffected() == 0 {
			return nil, ErrEntryNotActionable
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit confirm: %w", err)
	}

	return booking, nil
}

func (r *PgRepository) ExpireHold(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'expired',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING `+bookingColumns+`
	`, id)
	return scanBooking(row)
}

func (r *PgRepository) CancelHoldsForEntry(ctx context.Context, entryID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
		    updated_at = now()
		WHERE waitlist_entry_ref = $1
		  AND status = 'pending'
	`, entryID)
	if err != nil {
		return 0, fmt.Errorf("cancel holds: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) FindLapsedHolds(ctx context.Context, now time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'pending'
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}

	return result, rows.Err()
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO waitlist_events (event_type, entry_id, booking_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.EntryID, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
