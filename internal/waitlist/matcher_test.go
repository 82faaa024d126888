package waitlist

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func slotOn(t time.Time, durationMinutes int) AvailabilitySlot {
	return AvailabilitySlot{
		ID:              uuid.New(),
		ResourceRef:     uuid.New(),
		StartsAt:        t,
		DurationMinutes: durationMinutes,
		CreatedAt:       time.Now(),
	}
}

func flexEntry(preferred time.Time) *WaitlistEntry {
	return &WaitlistEntry{
		ID:             uuid.New(),
		ClientRef:      uuid.New(),
		TreatmentRef:   uuid.New(),
		PreferredDate:  preferred,
		FlexibleTiming: true,
		Status:         EntryWaiting,
		ExpiresAt:      preferred.AddDate(0, 1, 0),
	}
}

func TestFindCandidatesFiltersByDuration(t *testing.T) {
	entry := flexEntry(day(2025, time.March, 10))
	treatment := &Treatment{ID: entry.TreatmentRef, Name: "Deep Tissue Massage", DurationMinutes: 60}

	start := day(2025, time.March, 10).Add(10 * time.Hour)
	catalog := []AvailabilitySlot{
		slotOn(start, 30),
		slotOn(start.Add(time.Hour), 45),
		slotOn(start.Add(2*time.Hour), 60),
		slotOn(start.Add(3*time.Hour), 90),
	}

	got := FindCandidates(entry, treatment, catalog, DefaultWindow)

	require.Len(t, got, 2)
	for _, slot := range got {
		assert.GreaterOrEqual(t, slot.DurationMinutes, treatment.DurationMinutes)
	}
}

func TestFindCandidatesFlexibleWindowBoundaries(t *testing.T) {
	entry := flexEntry(day(2025, time.March, 10))
	treatment := &Treatment{ID: entry.TreatmentRef, DurationMinutes: 30}

	at := func(d time.Time) time.Time { return d.Add(9 * time.Hour) }

	inEarly := slotOn(at(day(2025, time.March, 3)), 30)   // exactly 7 days before
	outEarly := slotOn(at(day(2025, time.March, 2)), 30)  // 8 days before
	inLate := slotOn(at(day(2025, time.March, 24)), 30)   // exactly 14 days after
	outLate := slotOn(at(day(2025, time.March, 25)), 30)  // 15 days after
	onPreferred := slotOn(at(day(2025, time.March, 10)), 30)

	got := FindCandidates(entry, treatment,
		[]AvailabilitySlot{outLate, inLate, onPreferred, outEarly, inEarly}, DefaultWindow)

	ids := make([]uuid.UUID, 0, len(got))
	for _, s := range got {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{inEarly.ID, onPreferred.ID, inLate.ID}, ids)
}

func TestFindCandidatesExactDatesWithAlternates(t *testing.T) {
	preferred := day(2025, time.April, 7)
	alternate := day(2025, time.April, 9)
	entry := &WaitlistEntry{
		ID:               uuid.New(),
		TreatmentRef:     uuid.New(),
		PreferredDate:    preferred,
		AlternativeDates: []time.Time{alternate},
		FlexibleTiming:   false,
		Status:           EntryWaiting,
		ExpiresAt:        preferred.AddDate(0, 1, 0),
	}
	treatment := &Treatment{ID: entry.TreatmentRef, DurationMinutes: 30}

	onPreferred := slotOn(preferred.Add(11*time.Hour), 30)
	onAlternate := slotOn(alternate.Add(14*time.Hour), 30)
	nextDay := slotOn(preferred.AddDate(0, 0, 1).Add(11*time.Hour), 30)

	got := FindCandidates(entry, treatment,
		[]AvailabilitySlot{nextDay, onAlternate, onPreferred}, DefaultWindow)

	require.Len(t, got, 2)
	assert.Equal(t, onPreferred.ID, got[0].ID)
	assert.Equal(t, onAlternate.ID, got[1].ID)
}

func TestFindCandidatesOrdersByDateThenTime(t *testing.T) {
	entry := flexEntry(day(2025, time.March, 10))
	treatment := &Treatment{ID: entry.TreatmentRef, DurationMinutes: 15}

	late := slotOn(day(2025, time.March, 12).Add(16*time.Hour), 30)
	early := slotOn(day(2025, time.March, 11).Add(14*time.Hour), 30)
	earlier := slotOn(day(2025, time.March, 11).Add(9*time.Hour), 30)

	got := FindCandidates(entry, treatment, []AvailabilitySlot{late, early, earlier}, DefaultWindow)

	require.Len(t, got, 3)
	assert.Equal(t, earlier.ID, got[0].ID)
	assert.Equal(t, early.ID, got[1].ID)
	assert.Equal(t, late.ID, got[2].ID)
}

func TestFindCandidatesPreferredTimeBreaksSameDayTies(t *testing.T) {
	entry := flexEntry(day(2025, time.March, 10))
	pref := "15:00"
	entry.PreferredTime = &pref
	treatment := &Treatment{ID: entry.TreatmentRef, DurationMinutes: 15}

	morning := slotOn(day(2025, time.March, 11).Add(9*time.Hour), 30)      // 360 min off
	afternoon := slotOn(day(2025, time.March, 11).Add(14*time.Hour), 30)   // 60 min off
	lateAfternoon := slotOn(day(2025, time.March, 11).Add(16*time.Hour), 30) // 60 min off, later

	got := FindCandidates(entry, treatment,
		[]AvailabilitySlot{morning, lateAfternoon, afternoon}, DefaultWindow)

	require.Len(t, got, 3)
	assert.Equal(t, afternoon.ID, got[0].ID)
	assert.Equal(t, lateAfternoon.ID, got[1].ID)
	assert.Equal(t, morning.ID, got[2].ID)
}

func TestFindCandidatesPreferredTimeNeverExcludes(t *testing.T) {
	entry := flexEntry(day(2025, time.March, 10))
	pref := "08:00"
	entry.PreferredTime = &pref
	treatment := &Treatment{ID: entry.TreatmentRef, DurationMinutes: 15}

	onlySlot := slotOn(day(2025, time.March, 10).Add(17*time.Hour), 30)

	got := FindCandidates(entry, treatment, []AvailabilitySlot{onlySlot}, DefaultWindow)
	require.Len(t, got, 1)
	assert.Equal(t, onlySlot.ID, got[0].ID)
}

func TestFindCandidatesEmptyCatalog(t *testing.T) {
	entry := flexEntry(day(2025, time.March, 10))
	treatment := &Treatment{ID: entry.TreatmentRef, DurationMinutes: 30}

	assert.Empty(t, FindCandidates(entry, treatment, nil, DefaultWindow))
}

func TestMatchesRejectsDateOutsideWindow(t *testing.T) {
	entry := flexEntry(day(2025, time.March, 10))
	treatment := &Treatment{ID: entry.TreatmentRef, DurationMinutes: 30}

	inside := slotOn(day(2025, time.March, 20).Add(10*time.Hour), 30)
	outside := slotOn(day(2025, time.April, 1).Add(10*time.Hour), 30)

	assert.True(t, Matches(entry, treatment, &inside, DefaultWindow))
	assert.False(t, Matches(entry, treatment, &outside, DefaultWindow))
}
