package waitlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/careloop/clinic-waitlist/internal/config"
	"github.com/careloop/clinic-waitlist/internal/notify"
	redisclient "github.com/careloop/clinic-waitlist/internal/redis"
)

const (
	EventEntryContacted   = "ENTRY_CONTACTED"
	EventEntryRemoved     = "ENTRY_REMOVED"
	EventEntryExpired     = "ENTRY_EXPIRED"
	EventBookingHeld      = "BOOKING_HELD"
	EventBookingConfirmed = "BOOKING_CONFIRMED"
	EventHoldExpired      = "HOLD_EXPIRED"
)

var ErrInvalidChannel = errors.New("invalid notification channel")

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	notifier notify.Notifier
	cfg      config.Config
	window   Window
}

func NewService(repo Repository, locker redisclient.Locker, notifier notify.Notifier, cfg config.Config) *Service {
	window := Window{DaysBefore: cfg.MatchWindowBeforeDays, DaysAfter: cfg.MatchWindowAfterDays}
	if window.DaysBefore == 0 && window.DaysAfter == 0 {
		window = DefaultWindow
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		window:   window,
	}
}

// ListWaitlist returns entries matching the filter, ranked by priority and
// age. Statuses are the lazily computed effective statuses, so an entry past
// its ExpiresAt reads as expired even before the sweep has run.
func (s *Service) ListWaitlist(ctx context.Context, filter ListFilter) ([]WaitlistEntry, error) {
	now := time.Now()

	entries, err := s.repo.ListEntries(ctx, filter, now)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	for i := range entries {
		entries[i].Status = entries[i].EffectiveStatus(now)
	}

	return Rank(entries), nil
}

// AdjustPriority nudges an entry's priority by one in the given direction.
// Down stops at zero. Terminal entries are rejected: priority on them is
// meaningless.
func (s *Service) AdjustPriority(ctx context.Context, entryID uuid.UUID, direction AdjustDirection) (*WaitlistEntry, error) {
	if !direction.Valid() {
		return nil, fmt.Errorf("adjust priority: unknown direction %q", direction)
	}

	if err := s.checkActionable(ctx, entryID, time.Now()); err != nil {
		return nil, err
	}

	updated, err := s.repo.AdjustEntryPriority(ctx, entryID, direction.Delta())
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			// Raced into a terminal status between check and update.
			return nil, ErrEntryNotActionable
		}
		return nil, fmt.Errorf("adjust priority: %w", err)
	}

	return updated, nil
}

// FindCandidates computes the compatible open slots for an entry from the
// current catalog snapshot.
func (s *Service) FindCandidates(ctx context.Context, entryID uuid.UUID) ([]AvailabilitySlot, error) {
	now := time.Now()

	entry, treatment, err := s.loadEntryAndTreatment(ctx, entryID, now)
	if err != nil {
		return nil, err
	}

	slots, err := s.repo.ListOpenSlots(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list open slots: %w", err)
	}

	return FindCandidates(entry, treatment, slots, s.window), nil
}

// Contact dispatches a match notification for the entry and transitions it
// to contacted. It requires at least one candidate slot. Re-contacting an
// already contacted entry is allowed and refreshes NotifiedAt.
func (s *Service) Contact(ctx context.Context, entryID uuid.UUID, channel notify.Channel, slotHint *uuid.UUID) (*WaitlistEntry, error) {
	if !channel.Valid() {
		return nil, ErrInvalidChannel
	}

	now := time.Now()

	entry, treatment, err := s.loadEntryAndTreatment(ctx, entryID, now)
	if err != nil {
		return nil, err
	}

	slots, err := s.repo.ListOpenSlots(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list open slots: %w", err)
	}

	candidates := FindCandidates(entry, treatment, slots, s.window)
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	var hint *notify.SlotHint
	if slotHint != nil {
		for _, c := range candidates {
			if c.ID == *slotHint {
				hint = &notify.SlotHint{
					SlotID:          c.ID,
					ResourceRef:     c.ResourceRef,
					StartsAt:        c.StartsAt,
					DurationMinutes: c.DurationMinutes,
				}
				break
			}
		}
		if hint == nil {
			return nil, ErrNotACandidate
		}
	}

	// Fire-and-forget toward the dispatcher, but a publish failure is
	// surfaced so the operator knows the client was never reached.
	err = s.notifier.NotifyMatch(ctx, notify.MatchNotification{
		EntryID:        entry.ID,
		ClientRef:      entry.ClientRef,
		TreatmentRef:   entry.TreatmentRef,
		Channel:        channel,
		CandidateCount: len(candidates),
		SlotHint:       hint,
		SentAt:         now,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch notification: %w", err)
	}

	updated, err := s.repo.MarkEntryContacted(ctx, entry.ID, now)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return nil, ErrEntryNotActionable
		}
		return nil, fmt.Errorf("mark contacted: %w", err)
	}

	s.logEvent(ctx, &entry.ID, nil, EventEntryContacted, map[string]any{
		"channel":    string(channel),
		"candidates": len(candidates),
	})

	return updated, nil
}

// Book converts a (entry, slot) pair into a Booking. With confirm the claim
// finalizes immediately; otherwise a soft hold reserves the slot until its
// TTL lapses or ConfirmHold finalizes it.
//
// Everything is re-validated inside the per-slot lock because the candidate
// list the operator clicked on is a snapshot that may have gone stale. Among
// concurrent calls racing for the same slot exactly one succeeds; the rest
// see ErrSlotUnavailable (or ErrSlotBeingBooked while the lock is held) and
// should recompute candidates.
func (s *Service) Book(ctx context.Context, entryID, slotID uuid.UUID, confirm bool) (*Booking, error) {
	var booked *Booking
	err := s.locker.WithSlotLock(ctx, slotID, func(lockCtx context.Context) error {
		// Taken after lock acquisition so expiry checks cover the wait.
		now := time.Now()

		entry, treatment, err := s.loadEntryAndTreatment(lockCtx, entryID, now)
		if err != nil {
			return err
		}

		slot, err := s.repo.GetSlotByID(lockCtx, slotID)
		if err != nil {
			return err
		}
		if !Matches(entry, treatment, slot, s.window) {
			return ErrNotACandidate
		}

		b, err := s.repo.ClaimSlot(lockCtx, ClaimParams{
			EntryID:       entryID,
			SlotID:        slotID,
			Confirm:       confirm,
			HoldExpiresAt: now.Add(s.cfg.HoldTTL),
			Now:           now,
		})
		if err != nil {
			return err
		}
		booked = b

		event := EventBookingHeld
		if confirm {
			event = EventBookingConfirmed
		}
		s.logEvent(lockCtx, &entryID, &b.ID, event, map[string]any{
			"resource_ref": b.Slot.ResourceRef.String(),
			"starts_at":    b.Slot.StartsAt,
		})

		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return booked, nil
}

// ConfirmHold finalizes a pending soft hold.
func (s *Service) ConfirmHold(ctx context.Context, bookingID uuid.UUID) (*Booking, error) {
	booking, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	if booking.Status == BookingExpired {
		return nil, ErrHoldLapsed
	}
	if booking.Status != BookingPending {
		return nil, ErrInvalidStatusTransition
	}
	if booking.ExpiresAt != nil && booking.ExpiresAt.Before(now) {
		s.lapseHold(ctx, booking, "confirm_after_expiry")
		return nil, ErrHoldLapsed
	}

	// The entry may have lapsed while the hold was outstanding; an expired
	// entry can never become booked, sweep or no sweep.
	if booking.WaitlistEntryRef != nil {
		entry, err := s.repo.GetEntryByID(ctx, *booking.WaitlistEntryRef)
		if err != nil {
			return nil, err
		}
		if entry.EffectiveStatus(now) == EntryExpired {
			s.lapseHold(ctx, booking, "entry_expired")
			return nil, ErrEntryExpired
		}
	}

	updated, err := s.repo.ConfirmHold(ctx, booking.ID)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.WaitlistEntryRef, &updated.ID, EventBookingConfirmed, map[string]any{})

	return updated, nil
}

// Remove takes an entry off the waitlist at operator request and cancels any
// outstanding hold, releasing its slot back to the catalog.
func (s *Service) Remove(ctx context.Context, entryID uuid.UUID) error {
	if err := s.checkActionable(ctx, entryID, time.Now()); err != nil {
		return err
	}

	if _, err := s.repo.UpdateEntryStatus(ctx, entryID, []EntryStatus{EntryWaiting, EntryContacted}, EntryRemoved); err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return ErrEntryNotActionable
		}
		return fmt.Errorf("remove entry: %w", err)
	}

	cancelled, err := s.repo.CancelHoldsForEntry(ctx, entryID)
	if err != nil {
		log.Warn().Err(err).Str("entry_id", entryID.String()).Msg("failed to cancel holds for removed entry")
	}

	s.logEvent(ctx, &entryID, nil, EventEntryRemoved, map[string]any{
		"cancelled_holds": cancelled,
	})

	return nil
}

// ExpireDue is the periodic sweep: it persists lazy expiry of overdue
// entries, lapses overdue holds, and drops slots whose time has passed.
func (s *Service) ExpireDue(ctx context.Context) error {
	now := time.Now()

	due, err := s.repo.FindDueEntries(ctx, now)
	if err != nil {
		return fmt.Errorf("find due entries: %w", err)
	}
	for _, e := range due {
		if _, err := s.repo.UpdateEntryStatus(ctx, e.ID, []EntryStatus{EntryWaiting, EntryContacted}, EntryExpired); err != nil {
			if !errors.Is(err, ErrEntryNotFound) {
				log.Warn().Err(err).Str("entry_id", e.ID.String()).Msg("failed to expire entry")
			}
			continue
		}
		if _, err := s.repo.CancelHoldsForEntry(ctx, e.ID); err != nil {
			log.Warn().Err(err).Str("entry_id", e.ID.String()).Msg("failed to cancel holds for expired entry")
		}
		s.logEvent(ctx, &e.ID, nil, EventEntryExpired, map[string]any{"reason": "sweep"})
	}

	lapsed, err := s.repo.FindLapsedHolds(ctx, now)
	if err != nil {
		return fmt.Errorf("find lapsed holds: %w", err)
	}
	for _, b := range lapsed {
		if _, err := s.repo.ExpireHold(ctx, b.ID); err != nil {
			if !errors.Is(err, ErrBookingNotFound) {
				log.Warn().Err(err).Str("booking_id", b.ID.String()).Msg("failed to lapse hold")
			}
			continue
		}
		s.logEvent(ctx, b.WaitlistEntryRef, &b.ID, EventHoldExpired, map[string]any{"reason": "sweep"})
	}

	purged, err := s.repo.DeletePastSlots(ctx, now)
	if err != nil {
		return fmt.Errorf("delete past slots: %w", err)
	}

	log.Info().
		Int("expired_entries", len(due)).
		Int("lapsed_holds", len(lapsed)).
		Int64("purged_slots", purged).
		Msg("expiry sweep complete")

	return nil
}

// lapseHold marks a pending hold expired, releasing its claim on the slot.
func (s *Service) lapseHold(ctx context.Context, booking *Booking, reason string) {
	if _, err := s.repo.ExpireHold(ctx, booking.ID); err != nil && !errors.Is(err, ErrBookingNotFound) {
		log.Warn().Err(err).Str("booking_id", booking.ID.String()).Msg("failed to lapse hold during confirm")
	}
	s.logEvent(ctx, booking.WaitlistEntryRef, &booking.ID, EventHoldExpired, map[string]any{
		"reason": reason,
	})
}

// checkActionable fails with the typed error matching the entry's effective
// status when it cannot be operated on.
func (s *Service) checkActionable(ctx context.Context, entryID uuid.UUID, now time.Time) error {
	entry, err := s.repo.GetEntryByID(ctx, entryID)
	if err != nil {
		return err
	}
	switch entry.EffectiveStatus(now) {
	case EntryWaiting, EntryContacted:
		return nil
	case EntryExpired:
		return ErrEntryExpired
	default:
		return ErrEntryNotActionable
	}
}

func (s *Service) loadEntryAndTreatment(ctx context.Context, entryID uuid.UUID, now time.Time) (*WaitlistEntry, *Treatment, error) {
	entry, err := s.repo.GetEntryByID(ctx, entryID)
	if err != nil {
		return nil, nil, err
	}
	switch entry.EffectiveStatus(now) {
	case EntryWaiting, EntryContacted:
	case EntryExpired:
		return nil, nil, ErrEntryExpired
	default:
		return nil, nil, ErrEntryNotActionable
	}

	treatment, err := s.repo.GetTreatmentByID(ctx, entry.TreatmentRef)
	if err != nil {
		return nil, nil, fmt.Errorf("load treatment: %w", err)
	}

	return entry, treatment, nil
}

func (s *Service) logEvent(ctx context.Context, entryID, bookingID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType: eventType,
		EntryID:   entryID,
		BookingID: bookingID,
		Payload:   data,
		CreatedAt: time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("failed to insert event log")
	}
}
