package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careloop/clinic-waitlist/internal/config"
	"github.com/careloop/clinic-waitlist/internal/notify"
	"github.com/careloop/clinic-waitlist/internal/waitlist"
)

// serialLocker runs booking sections under a single in-process mutex.
type serialLocker struct {
	mu sync.Mutex
}

func (l *serialLocker) WithSlotLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ctx)
}

type apiFixture struct {
	store  *waitlist.Store
	router http.Handler
}

func newAPIFixture() *apiFixture {
	store := waitlist.NewStore()
	svc := waitlist.NewService(store, &serialLocker{}, notify.Noop{}, config.Config{HoldTTL: 15 * time.Minute})

	router := NewRouter(RouterConfig{
		Service:            svc,
		Env:                "test",
		Version:            "test",
		PriorityDisplayCap: 5,
	})
	return &apiFixture{store: store, router: router}
}

func (f *apiFixture) seedScenario() (waitlist.Treatment, waitlist.WaitlistEntry, waitlist.AvailabilitySlot) {
	treatment := waitlist.Treatment{
		ID:              uuid.New(),
		Name:            "Physiotherapy Session",
		DurationMinutes: 30,
	}
	f.store.PutTreatment(treatment)

	preferred := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 3)
	entry := waitlist.WaitlistEntry{
		ID:             uuid.New(),
		ClientRef:      uuid.New(),
		TreatmentRef:   treatment.ID,
		PreferredDate:  preferred,
		FlexibleTiming: true,
		Status:         waitlist.EntryWaiting,
		ExpiresAt:      time.Now().Add(time.Hour),
		CreatedAt:      time.Now(),
	}
	f.store.PutEntry(entry)

	slot := waitlist.AvailabilitySlot{
		ID:              uuid.New(),
		ResourceRef:     uuid.New(),
		StartsAt:        preferred.Add(10 * time.Hour),
		DurationMinutes: 30,
	}
	f.store.PutSlot(slot)

	return treatment, entry, slot
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestListWaitlistEndpoint(t *testing.T) {
	f := newAPIFixture()
	_, entry, _ := f.seedScenario()

	rec := f.do(t, http.MethodGet, "/waitlist", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []EntryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, entry.ID, got[0].ID)
	assert.Equal(t, "waiting", got[0].Status)
}

func TestListWaitlistRejectsUnknownStatus(t *testing.T) {
	f := newAPIFixture()

	rec := f.do(t, http.MethodGet, "/waitlist?status=limbo", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPriorityStarsAreCapped(t *testing.T) {
	f := newAPIFixture()
	_, entry, _ := f.seedScenario()

	for i := 0; i < 8; i++ {
		rec := f.do(t, http.MethodPost, "/waitlist/"+entry.ID.String()+"/priority",
			AdjustPriorityRequest{Direction: "up"})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/waitlist", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []EntryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 8, got[0].Priority)
	assert.Equal(t, 5, got[0].PriorityStars)
}

func TestAdjustPriorityValidation(t *testing.T) {
	f := newAPIFixture()
	_, entry, _ := f.seedScenario()

	rec := f.do(t, http.MethodPost, "/waitlist/"+entry.ID.String()+"/priority",
		AdjustPriorityRequest{Direction: "sideways"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/waitlist/not-a-uuid/priority",
		AdjustPriorityRequest{Direction: "up"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/waitlist/"+uuid.NewString()+"/priority",
		AdjustPriorityRequest{Direction: "up"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFindCandidatesEndpoint(t *testing.T) {
	f := newAPIFixture()
	_, entry, slot := f.seedScenario()

	rec := f.do(t, http.MethodGet, "/waitlist/"+entry.ID.String()+"/candidates", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []SlotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, slot.ID, got[0].ID)
}

func TestContactEndpointWithoutCandidates(t *testing.T) {
	f := newAPIFixture()
	treatment, entry, _ := f.seedScenario()

	// Shrink the only slot below the treatment duration.
	treatment.DurationMinutes = 90
	f.store.PutTreatment(treatment)

	rec := f.do(t, http.MethodPost, "/waitlist/"+entry.ID.String()+"/contact",
		ContactRequest{Channel: "email"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateBookingConflict(t *testing.T) {
	f := newAPIFixture()
	treatment, first, slot := f.seedScenario()

	second := waitlist.WaitlistEntry{
		ID:             uuid.New(),
		ClientRef:      uuid.New(),
		TreatmentRef:   treatment.ID,
		PreferredDate:  first.PreferredDate,
		FlexibleTiming: true,
		Status:         waitlist.EntryWaiting,
		ExpiresAt:      time.Now().Add(time.Hour),
		CreatedAt:      time.Now(),
	}
	f.store.PutEntry(second)

	rec := f.do(t, http.MethodPost, "/bookings", CreateBookingRequest{
		EntryID: first.ID.String(),
		SlotID:  slot.ID.String(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var booking BookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &booking))
	assert.Equal(t, "confirmed", booking.Status)

	rec = f.do(t, http.MethodPost, "/bookings", CreateBookingRequest{
		EntryID: second.ID.String(),
		SlotID:  slot.ID.String(),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "slot_unavailable", errResp.Error)
}

func TestCreateBookingRejectsMalformedIDs(t *testing.T) {
	f := newAPIFixture()

	rec := f.do(t, http.MethodPost, "/bookings", CreateBookingRequest{
		EntryID: "not-a-uuid",
		SlotID:  uuid.NewString(),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/bookings", CreateBookingRequest{
		EntryID: uuid.NewString(),
		SlotID:  "not-a-uuid",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateBookingExpiredEntry(t *testing.T) {
	f := newAPIFixture()
	_, entry, slot := f.seedScenario()

	entry.ExpiresAt = time.Now().Add(-time.Minute)
	f.store.PutEntry(entry)

	rec := f.do(t, http.MethodPost, "/bookings", CreateBookingRequest{
		EntryID: entry.ID.String(),
		SlotID:  slot.ID.String(),
	})
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestSoftHoldConfirmFlow(t *testing.T) {
	f := newAPIFixture()
	_, entry, slot := f.seedScenario()

	hold := false
	rec := f.do(t, http.MethodPost, "/bookings", CreateBookingRequest{
		EntryID: entry.ID.String(),
		SlotID:  slot.ID.String(),
		Confirm: &hold,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var booking BookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &booking))
	assert.Equal(t, "pending", booking.Status)
	require.NotNil(t, booking.ExpiresAt)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/bookings/%s/confirm", booking.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var confirmed BookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &confirmed))
	assert.Equal(t, "confirmed", confirmed.Status)
	assert.Nil(t, confirmed.ExpiresAt)

	// Confirming twice is a conflict.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/bookings/%s/confirm", booking.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRemoveEntryEndpoint(t *testing.T) {
	f := newAPIFixture()
	_, entry, _ := f.seedScenario()

	rec := f.do(t, http.MethodDelete, "/waitlist/"+entry.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/waitlist/"+entry.ID.String(), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
