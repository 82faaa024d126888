package waitlist

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEntryNotFound     = errors.New("waitlist entry not found")
	ErrSlotNotFound      = errors.New("availability slot not found")
	ErrTreatmentNotFound = errors.New("treatment not found")
	ErrBookingNotFound   = errors.New("booking not found")

	// ErrSlotUnavailable means a concurrent caller claimed the slot first.
	// Retryable: recompute candidates and offer the next one.
	ErrSlotUnavailable = errors.New("slot already claimed by another booking")

	// ErrSlotBeingBooked means the per-slot lock is held by another request.
	ErrSlotBeingBooked = errors.New("slot is currently being booked, please retry")

	ErrEntryExpired            = errors.New("waitlist entry has expired")
	ErrEntryNotActionable      = errors.New("waitlist entry is not in an actionable status")
	ErrNotACandidate           = errors.New("slot is not a candidate for this entry")
	ErrNoCandidates            = errors.New("no candidate slots for this entry")
	ErrHoldLapsed              = errors.New("booking hold has lapsed")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// ListFilter narrows ListEntries. Nil fields match everything.
type ListFilter struct {
	Status       *EntryStatus
	TreatmentRef *uuid.UUID
}

// ClaimParams describes a slot claim. When Confirm is false the claim is a
// soft hold that lapses at HoldExpiresAt unless confirmed.
type ClaimParams struct {
	EntryID       uuid.UUID
	SlotID        uuid.UUID
	Confirm       bool
	HoldExpiresAt time.Time
	Now           time.Time
}

// Repository contains all store interactions needed by the service.
type Repository interface {
	GetEntryByID(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error)

	// ListEntries applies lazy expiry at the given instant before status
	// filtering, so an expired-but-unswept entry matches status=expired.
	ListEntries(ctx context.Context, filter ListFilter, now time.Time) ([]WaitlistEntry, error)

	// AdjustEntryPriority bumps priority by delta, clamped at zero, for
	// entries still in waiting or contacted.
	AdjustEntryPriority(ctx context.Context, id uuid.UUID, delta int) (*WaitlistEntry, error)

	// UpdateEntryStatus transitions an entry whose current status is one of
	// from. Returns ErrEntryNotFound when no row matches.
	UpdateEntryStatus(ctx context.Context, id uuid.UUID, from []EntryStatus, to EntryStatus) (*WaitlistEntry, error)

	// MarkEntryContacted sets contacted status and the notification time.
	MarkEntryContacted(ctx context.Context, id uuid.UUID, notifiedAt time.Time) (*WaitlistEntry, error)

	// FindDueEntries returns non-terminal entries past their ExpiresAt.
	FindDueEntries(ctx context.Context, now time.Time) ([]WaitlistEntry, error)

	GetTreatmentByID(ctx context.Context, id uuid.UUID) (*Treatment, error)

	GetSlotByID(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error)

	// ListOpenSlots returns future slots with no active (pending or
	// confirmed) booking, ordered by start time. Excluding claimed slots
	// here is the catalog's responsibility, not the matcher's.
	ListOpenSlots(ctx context.Context, now time.Time) ([]AvailabilitySlot, error)

	// DeletePastSlots drops slots whose start time has passed.
	DeletePastSlots(ctx context.Context, before time.Time) (int64, error)

	// ClaimSlot atomically claims a slot for an entry: it re-checks the
	// entry is actionable and unexpired, verifies the slot still exists,
	// and inserts the booking under the active-claim uniqueness guarantee.
	// A confirmed claim also marks the entry booked. Either all effects
	// apply or none do.
	ClaimSlot(ctx context.Context, p ClaimParams) (*Booking, error)

	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)

	// ConfirmHold finalizes a pending hold: booking confirmed and entry
	// booked in one atomic step.
	ConfirmHold(ctx context.Context, id uuid.UUID) (*Booking, error)

	// ExpireHold moves a pending hold to expired, releasing its claim.
	ExpireHold(ctx context.Context, id uuid.UUID) (*Booking, error)

	// CancelHoldsForEntry cancels any pending holds tied to an entry.
	CancelHoldsForEntry(ctx context.Context, entryID uuid.UUID) (int64, error)

	// FindLapsedHolds returns pending bookings past their ExpiresAt.
	FindLapsedHolds(ctx context.Context, now time.Time) ([]Booking, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
