package waitlist

import (
	"time"

	"github.com/google/uuid"
)

type EntryStatus string

const (
	EntryWaiting   EntryStatus = "waiting"
	EntryContacted EntryStatus = "contacted"
	EntryBooked    EntryStatus = "booked"
	EntryExpired   EntryStatus = "expired"
	EntryRemoved   EntryStatus = "removed"
)

// Terminal reports whether the status admits no further transitions.
func (s EntryStatus) Terminal() bool {
	return s == EntryBooked || s == EntryExpired || s == EntryRemoved
}

func (s EntryStatus) Valid() bool {
	switch s {
	case EntryWaiting, EntryContacted, EntryBooked, EntryExpired, EntryRemoved:
		return true
	}
	return false
}

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingExpired   BookingStatus = "expired"
)

type Treatment struct {
	ID              uuid.UUID
	Name            string
	DurationMinutes int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type WaitlistEntry struct {
	ID           uuid.UUID
	ClientRef    uuid.UUID
	TreatmentRef uuid.UUID

	PreferredDate    time.Time // calendar date, midnight UTC
	AlternativeDates []time.Time
	PreferredTime    *string // "HH:MM", advisory only
	FlexibleTiming   bool

	Priority   int
	Status     EntryStatus
	NotifiedAt *time.Time
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EffectiveStatus applies lazy expiry: a non-terminal entry whose ExpiresAt
// has passed reads as expired even before the sweep has persisted it.
func (e *WaitlistEntry) EffectiveStatus(now time.Time) EntryStatus {
	if !e.Status.Terminal() && now.After(e.ExpiresAt) {
		return EntryExpired
	}
	return e.Status
}

// Actionable reports whether the entry can still be contacted, adjusted or
// booked at the given instant.
func (e *WaitlistEntry) Actionable(now time.Time) bool {
	s := e.EffectiveStatus(now)
	return s == EntryWaiting || s == EntryContacted
}

type AvailabilitySlot struct {
	ID              uuid.UUID
	ResourceRef     uuid.UUID // practitioner or room
	StartsAt        time.Time
	DurationMinutes int
	CreatedAt       time.Time
}

// SlotSnapshot is the slot state captured at claim time. Bookings carry the
// snapshot, not a live slot reference, so later slot removal cannot corrupt
// booking history.
type SlotSnapshot struct {
	ResourceRef     uuid.UUID
	StartsAt        time.Time
	DurationMinutes int
}

type Booking struct {
	ID               uuid.UUID
	WaitlistEntryRef *uuid.UUID // nil for bookings made outside the waitlist
	SlotID           *uuid.UUID // nil for external bookings, or once the slot row is purged
	Slot             SlotSnapshot
	Status           BookingStatus
	ExpiresAt        *time.Time // set on pending holds only
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type EventLog struct {
	ID        int64
	EventType string
	EntryID   *uuid.UUID
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
