package waitlist

import (
	"slices"
	"time"
)

// Window is the flexible-timing date range around the preferred date,
// inclusive on both ends. The defaults are asymmetric: clients are more
// willing to delay than to move earlier.
type Window struct {
	DaysBefore int
	DaysAfter  int
}

var DefaultWindow = Window{DaysBefore: 7, DaysAfter: 14}

// FindCandidates returns the slots compatible with the entry, ordered by
// date then time of day. It is a pure function of its inputs: the catalog
// passed in is treated as a snapshot and never mutated.
//
// A slot qualifies when its duration covers the treatment and its date
// satisfies the entry's preference: exact match against the preferred or
// alternative dates, or, with flexible timing, anywhere inside the window
// (alternates are ignored then, the window subsumes them).
func FindCandidates(entry *WaitlistEntry, treatment *Treatment, catalog []AvailabilitySlot, window Window) []AvailabilitySlot {
	var out []AvailabilitySlot
	for _, slot := range catalog {
		if Matches(entry, treatment, &slot, window) {
			out = append(out, slot)
		}
	}
	sortCandidates(out, entry.PreferredTime)
	return out
}

// Matches re-checks a single (entry, slot) pair against the candidate rules.
// The coordinator calls this at claim time because the candidate list shown
// to the operator is a snapshot that may have gone stale.
func Matches(entry *WaitlistEntry, treatment *Treatment, slot *AvailabilitySlot, window Window) bool {
	if slot.DurationMinutes < treatment.DurationMinutes {
		return false
	}
	return dateCompatible(entry, slot.StartsAt, window)
}

func dateCompatible(entry *WaitlistEntry, startsAt time.Time, window Window) bool {
	slotDate := dateOf(startsAt)
	preferred := dateOf(entry.PreferredDate)

	if entry.FlexibleTiming {
		lo := preferred.AddDate(0, 0, -window.DaysBefore)
		hi := preferred.AddDate(0, 0, window.DaysAfter)
		return !slotDate.Before(lo) && !slotDate.After(hi)
	}

	if slotDate.Equal(preferred) {
		return true
	}
	for _, alt := range entry.AlternativeDates {
		if slotDate.Equal(dateOf(alt)) {
			return true
		}
	}
	return false
}

// sortCandidates orders by date ascending, then time of day. When the entry
// carries a preferred time, slots on the same date are ordered by proximity
// to it; the hint never excludes a slot.
func sortCandidates(slots []AvailabilitySlot, preferredTime *string) {
	prefMin, hasPref := parseTimeOfDay(preferredTime)

	slices.SortStableFunc(slots, func(a, b AvailabilitySlot) int {
		da, db := dateOf(a.StartsAt), dateOf(b.StartsAt)
		if !da.Equal(db) {
			return da.Compare(db)
		}
		ma, mb := minuteOfDay(a.StartsAt), minuteOfDay(b.StartsAt)
		if hasPref {
			if d := absInt(ma-prefMin) - absInt(mb-prefMin); d != 0 {
				return d
			}
		}
		return ma - mb
	})
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func minuteOfDay(t time.Time) int {
	u := t.UTC()
	return u.Hour()*60 + u.Minute()
}

// parseTimeOfDay parses an "HH:MM" hint into minutes since midnight.
func parseTimeOfDay(s *string) (int, bool) {
	if s == nil {
		return 0, false
	}
	t, err := time.Parse("15:04", *s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
