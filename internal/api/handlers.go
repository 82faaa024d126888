package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/careloop/clinic-waitlist/internal/notify"
	"github.com/careloop/clinic-waitlist/internal/waitlist"
)

type Handlers struct {
	svc      *waitlist.Service
	validate *validator.Validate
	starCap  int
}

func NewHandlers(svc *waitlist.Service, starCap int) *Handlers {
	return &Handlers{
		svc:      svc,
		validate: validator.New(),
		starCap:  starCap,
	}
}

func (h *Handlers) listWaitlist(w http.ResponseWriter, r *http.Request) {
	var filter waitlist.ListFilter

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := waitlist.EntryStatus(raw)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_status", "unknown waitlist status")
			return
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("treatment_ref"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_treatment_ref", "treatment_ref must be a valid UUID")
			return
		}
		filter.TreatmentRef = &id
	}

	entries, err := h.svc.ListWaitlist(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	resp := make([]EntryResponse, 0, len(entries))
	for i := range entries {
		resp = append(resp, toEntryResponse(&entries[i], h.starCap))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) adjustPriority(w http.ResponseWriter, r *http.Request) {
	entryID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var req AdjustPriorityRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	entry, err := h.svc.AdjustPriority(r.Context(), entryID, waitlist.AdjustDirection(req.Direction))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toEntryResponse(entry, h.starCap))
}

func (h *Handlers) findCandidates(w http.ResponseWriter, r *http.Request) {
	entryID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	slots, err := h.svc.FindCandidates(r.Context(), entryID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	resp := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		resp = append(resp, toSlotResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) contact(w http.ResponseWriter, r *http.Request) {
	entryID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var req ContactRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	var slotHint *uuid.UUID
	if req.SlotID != "" {
		id, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}
		slotHint = &id
	}

	entry, err := h.svc.Contact(r.Context(), entryID, notify.Channel(req.Channel), slotHint)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toEntryResponse(entry, h.starCap))
}

func (h *Handlers) removeEntry(w http.ResponseWriter, r *http.Request) {
	entryID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.Remove(r.Context(), entryID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) createBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	entryID, err := uuid.Parse(req.EntryID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_entry_id", "entry_id must be a valid UUID")
		return
	}
	slotID, err := uuid.Parse(req.SlotID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
		return
	}

	confirm := true
	if req.Confirm != nil {
		confirm = *req.Confirm
	}

	booking, err := h.svc.Book(r.Context(), entryID, slotID, confirm)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBookingResponse(booking))
}

func (h *Handlers) confirmBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	booking, err := h.svc.ConfirmHold(r.Context(), bookingID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookingResponse(booking))
}

// Helpers

func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func (h *Handlers) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, waitlist.ErrEntryNotFound),
		errors.Is(err, waitlist.ErrSlotNotFound),
		errors.Is(err, waitlist.ErrTreatmentNotFound),
		errors.Is(err, waitlist.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, waitlist.ErrSlotUnavailable):
		// Someone else just took that slot; not a system fault.
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, waitlist.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, waitlist.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, waitlist.ErrEntryExpired):
		writeError(w, http.StatusGone, "entry_expired", err.Error())
	case errors.Is(err, waitlist.ErrHoldLapsed):
		writeError(w, http.StatusGone, "hold_lapsed", err.Error())
	case errors.Is(err, waitlist.ErrEntryNotActionable),
		errors.Is(err, waitlist.ErrNotACandidate),
		errors.Is(err, waitlist.ErrNoCandidates):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, waitlist.ErrInvalidChannel):
		writeError(w, http.StatusBadRequest, "invalid_channel", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
