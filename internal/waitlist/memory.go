package waitlist

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is an in-memory Repository with the same semantics as the Postgres
// implementation, including the active-claim uniqueness guarantee. It backs
// the package tests and local runs without a database.
type Store struct {
	mu         sync.Mutex
	entries    map[uuid.UUID]*WaitlistEntry
	slots      map[uuid.UUID]*AvailabilitySlot
	treatments map[uuid.UUID]*Treatment
	bookings   map[uuid.UUID]*Booking
	events     []EventLog
}

var _ Repository = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		entries:    make(map[uuid.UUID]*WaitlistEntry),
		slots:      make(map[uuid.UUID]*AvailabilitySlot),
		treatments: make(map[uuid.UUID]*Treatment),
		bookings:   make(map[uuid.UUID]*Booking),
	}
}

// Seeding helpers.

func (s *Store) PutEntry(e WaitlistEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = &e
}

func (s *Store) PutSlot(slot AvailabilitySlot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot.ID] = &slot
}

func (s *Store) PutTreatment(t Treatment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.treatments[t.ID] = &t
}

// Events returns a copy of the recorded event log.
func (s *Store) Events() []EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventLog, len(s.events))
	copy(out, s.events)
	return out
}

func copyEntry(e *WaitlistEntry) *WaitlistEntry {
	cp := *e
	cp.AlternativeDates = append([]time.Time(nil), e.AlternativeDates...)
	return &cp
}

func (s *Store) GetEntryByID(_ context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return copyEntry(e), nil
}

func (s *Store) ListEntries(_ context.Context, filter ListFilter, now time.Time) ([]WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []WaitlistEntry
	for _, e := range s.entries {
		if filter.Status != nil && e.EffectiveStatus(now) != *filter.Status {
			continue
		}
		if filter.TreatmentRef != nil && e.TreatmentRef != *filter.TreatmentRef {
			continue
		}
		result = append(result, *copyEntry(e))
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority > result[j].Priority
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) AdjustEntryPriority(_ context.Context, id uuid.UUID, delta int) (*WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || (e.Status != EntryWaiting && e.Status != EntryContacted) {
		return nil, ErrEntryNotFound
	}
	e.Priority += delta
	if e.Priority < 0 {
		e.Priority = 0
	}
	e.UpdatedAt = time.Now()
	return copyEntry(e), nil
}

func (s *Store) UpdateEntryStatus(_ context.Context, id uuid.UUID, from []EntryStatus, to EntryStatus) (*WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateEntryStatusLocked(id, from, to)
}

func (s *Store) updateEntryStatusLocked(id uuid.UUID, from []EntryStatus, to EntryStatus) (*WaitlistEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	matched := false
	for _, f := range from {
		if e.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrEntryNotFound
	}
	e.Status = to
	e.UpdatedAt = time.Now()
	return copyEntry(e), nil
}

func (s *Store) MarkEntryContacted(_ context.Context, id uuid.UUID, notifiedAt time.Time) (*WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || (e.Status != EntryWaiting && e.Status != EntryContacted) {
		return nil, ErrEntryNotFound
	}
	e.Status = EntryContacted
	e.NotifiedAt = &notifiedAt
	e.UpdatedAt = time.Now()
	return copyEntry(e), nil
}

func (s *Store) FindDueEntries(_ context.Context, now time.Time) ([]WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []WaitlistEntry
	for _, e := range s.entries {
		if (e.Status == EntryWaiting || e.Status == EntryContacted) && e.ExpiresAt.Before(now) {
			result = append(result, *copyEntry(e))
		}
	}
	return result, nil
}

func (s *Store) GetTreatmentByID(_ context.Context, id uuid.UUID) (*Treatment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.treatments[id]
	if !ok {
		return nil, ErrTreatmentNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) GetSlotByID(_ context.Context, id uuid.UUID) (*AvailabilitySlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *slot
	return &cp, nil
}

func (s *Store) ListOpenSlots(_ context.Context, now time.Time) ([]AvailabilitySlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []AvailabilitySlot
	for _, slot := range s.slots {
		if !slot.StartsAt.After(now) {
			continue
		}
		if s.activeClaimLocked(slot.ResourceRef, slot.StartsAt) != nil {
			continue
		}
		result = append(result, *slot)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartsAt.Before(result[j].StartsAt)
	})
	return result, nil
}

func (s *Store) DeletePastSlots(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, slot := range s.slots {
		if slot.StartsAt.Before(before) {
			delete(s.slots, id)
			n++
		}
	}
	return n, nil
}

// activeClaimLocked finds the pending or confirmed booking holding the given
// opening, if any. This is the memory-store stand-in for the partial unique
// index.
func (s *Store) activeClaimLocked(resourceRef uuid.UUID, startsAt time.Time) *Booking {
	for _, b := range s.bookings {
		if b.Slot.ResourceRef == resourceRef && b.Slot.StartsAt.Equal(startsAt) &&
			(b.Status == BookingPending || b.Status == BookingConfirmed) {
			return b
		}
	}
	return nil
}

func (s *Store) ClaimSlot(_ context.Context, p ClaimParams) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[p.EntryID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	if e.Status != EntryWaiting && e.Status != EntryContacted {
		return nil, ErrEntryNotActionable
	}
	if p.Now.After(e.ExpiresAt) {
		return nil, ErrEntryExpired
	}

	slot, ok := s.slots[p.SlotID]
	if !ok {
		return nil, ErrSlotNotFound
	}

	if s.activeClaimLocked(slot.ResourceRef, slot.StartsAt) != nil {
		return nil, ErrSlotUnavailable
	}

	now := time.Now()
	entryRef := p.EntryID
	slotID := slot.ID
	b := &Booking{
		ID:               uuid.New(),
		WaitlistEntryRef: &entryRef,
		SlotID:           &slotID,
		Slot: SlotSnapshot{
			ResourceRef:     slot.ResourceRef,
			StartsAt:        slot.StartsAt,
			DurationMinutes: slot.DurationMinutes,
		},
		Status:    BookingPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if p.Confirm {
		b.Status = BookingConfirmed
		e.Status = EntryBooked
		e.UpdatedAt = now
	} else {
		exp := p.HoldExpiresAt
		b.ExpiresAt = &exp
	}
	s.bookings[b.ID] = b

	cp := *b
	return &cp, nil
}

func (s *Store) GetBookingByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *Store) ConfirmHold(_ context.Context, id uuid.UUID) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok || b.Status != BookingPending {
		return nil, ErrInvalidStatusTransition
	}

	// Entry transition first: if it fails, the hold must stay pending.
	if b.WaitlistEntryRef != nil {
		if _, err := s.updateEntryStatusLocked(*b.WaitlistEntryRef, []EntryStatus{EntryWaiting, EntryContacted}, EntryBooked); err != nil {
			return nil, ErrEntryNotActionable
		}
	}

	b.Status = BookingConfirmed
	b.ExpiresAt = nil
	b.UpdatedAt = time.Now()

	cp := *b
	return &cp, nil
}

func (s *Store) ExpireHold(_ context.Context, id uuid.UUID) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok || b.Status != BookingPending {
		return nil, ErrBookingNotFound
	}
	b.Status = BookingExpired
	b.UpdatedAt = time.Now()
	cp := *b
	return &cp, nil
}

func (s *Store) CancelHoldsForEntry(_ context.Context, entryID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, b := range s.bookings {
		if b.WaitlistEntryRef != nil && *b.WaitlistEntryRef == entryID && b.Status == BookingPending {
			b.Status = BookingCancelled
			b.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *Store) FindLapsedHolds(_ context.Context, now time.Time) ([]Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []Booking
	for _, b := range s.bookings {
		if b.Status == BookingPending && b.ExpiresAt != nil && b.ExpiresAt.Before(now) {
			result = append(result, *b)
		}
	}
	return result, nil
}

func (s *Store) InsertEvent(_ context.Context, ev EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = int64(len(s.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	if ev.Payload == nil {
		ev.Payload = []byte("{}")
	}
	s.events = append(s.events, ev)
	return nil
}
