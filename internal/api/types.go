package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/clinic-waitlist/internal/waitlist"
)

type AdjustPriorityRequest struct {
	Direction string `json:"direction" validate:"required,oneof=up down"`
}

type ContactRequest struct {
	Channel string `json:"channel" validate:"required,oneof=email sms"`
	SlotID  string `json:"slot_id,omitempty" validate:"omitempty,uuid"`
}

type CreateBookingRequest struct {
	EntryID string `json:"entry_id" validate:"required,uuid"`
	SlotID  string `json:"slot_id" validate:"required,uuid"`
	// Confirm defaults to true; false requests a soft hold.
	Confirm *bool `json:"confirm,omitempty"`
}

type EntryResponse struct {
	ID               uuid.UUID  `json:"id"`
	ClientRef        uuid.UUID  `json:"client_ref"`
	TreatmentRef     uuid.UUID  `json:"treatment_ref"`
	PreferredDate    string     `json:"preferred_date"`
	AlternativeDates []string   `json:"alternative_dates,omitempty"`
	PreferredTime    *string    `json:"preferred_time,omitempty"`
	FlexibleTiming   bool       `json:"flexible_timing"`
	Priority         int        `json:"priority"`
	PriorityStars    int        `json:"priority_stars"`
	Status           string     `json:"status"`
	NotifiedAt       *time.Time `json:"notified_at,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

type SlotResponse struct {
	ID              uuid.UUID `json:"id"`
	ResourceRef     uuid.UUID `json:"resource_ref"`
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

type BookingResponse struct {
	ID               uuid.UUID  `json:"id"`
	WaitlistEntryRef *uuid.UUID `json:"waitlist_entry_ref,omitempty"`
	ResourceRef      uuid.UUID  `json:"resource_ref"`
	StartsAt         time.Time  `json:"starts_at"`
	DurationMinutes  int        `json:"duration_minutes"`
	Status           string     `json:"status"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

const dateLayout = "2006-01-02"

func toEntryResponse(e *waitlist.WaitlistEntry, starCap int) EntryResponse {
	stars := e.Priority
	if starCap > 0 && stars > starCap {
		stars = starCap
	}

	var alts []string
	for _, d := range e.AlternativeDates {
		alts = append(alts, d.UTC().Format(dateLayout))
	}

	return EntryResponse{
		ID:               e.ID,
		ClientRef:        e.ClientRef,
		TreatmentRef:     e.TreatmentRef,
		PreferredDate:    e.PreferredDate.UTC().Format(dateLayout),
		AlternativeDates: alts,
		PreferredTime:    e.PreferredTime,
		FlexibleTiming:   e.FlexibleTiming,
		Priority:         e.Priority,
		PriorityStars:    stars,
		Status:           string(e.Status),
		NotifiedAt:       e.NotifiedAt,
		ExpiresAt:        e.ExpiresAt,
		CreatedAt:        e.CreatedAt,
	}
}

func toSlotResponse(s waitlist.AvailabilitySlot) SlotResponse {
	return SlotResponse{
		ID:              s.ID,
		ResourceRef:     s.ResourceRef,
		StartsAt:        s.StartsAt,
		DurationMinutes: s.DurationMinutes,
	}
}

func toBookingResponse(b *waitlist.Booking) BookingResponse {
	return BookingResponse{
		ID:               b.ID,
		WaitlistEntryRef: b.WaitlistEntryRef,
		ResourceRef:      b.Slot.ResourceRef,
		StartsAt:         b.Slot.StartsAt,
		DurationMinutes:  b.Slot.DurationMinutes,
		Status:           string(b.Status),
		ExpiresAt:        b.ExpiresAt,
		CreatedAt:        b.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
