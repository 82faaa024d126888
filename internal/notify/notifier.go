// Package notify is the client side of the external Notification Dispatcher:
// the engine hands it a match notification and moves on. Delivery mechanics
// (email/SMS rendering, retries) live with the collaborator, not here.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// SlotHint points the client at a specific opening mentioned in the message.
type SlotHint struct {
	SlotID          uuid.UUID `json:"slot_id"`
	ResourceRef     uuid.UUID `json:"resource_ref"`
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

// MatchNotification asks the dispatcher to contact a client about candidate
// openings for their waitlist entry.
type MatchNotification struct {
	EntryID        uuid.UUID `json:"entry_id"`
	ClientRef      uuid.UUID `json:"client_ref"`
	TreatmentRef   uuid.UUID `json:"treatment_ref"`
	Channel        Channel   `json:"channel"`
	CandidateCount int       `json:"candidate_count"`
	SlotHint       *SlotHint `json:"slot_hint,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

type Notifier interface {
	NotifyMatch(ctx context.Context, n MatchNotification) error
}

// Noop logs and drops notifications; used when no broker is configured.
type Noop struct{}

func (Noop) NotifyMatch(_ context.Context, n MatchNotification) error {
	log.Debug().
		Str("entry_id", n.EntryID.String()).
		Str("channel", string(n.Channel)).
		Int("candidates", n.CandidateCount).
		Msg("notification dropped (noop dispatcher)")
	return nil
}
