package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type represents the type of room lifecycle event
type Type string

const (
	TypeParticipantJoined   Type = "ParticipantJoined"
	TypeParticipantLeft     Type = "ParticipantLeft"
	TypeParticipantTimedOut Type = "ParticipantTimedOut"
	TypeCardsRevealed       Type = "CardsRevealed"
	TypeVotesReset          Type = "VotesReset"
	TypeRoomClosed          Type = "RoomClosed"
)

// Reasons a room is closed
const (
	CloseReasonEmpty    = "empty"
	CloseReasonInactive = "inactive"
)

// Event is the envelope published for every room lifecycle event
type Event struct {
	ID        string          `json:"eventId"`
	Type      Type            `json:"eventType"`
	RoomID    string          `json:"roomId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// New wraps payload in an Event envelope
func New(roomID string, eventType Type, at time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RoomID:    roomID,
		Timestamp: at,
		Payload:   data,
	}, nil
}

// ParticipantJoinedPayload is the payload for a ParticipantJoined event
type ParticipantJoinedPayload struct {
	ParticipantID string    `json:"participant_id"`
	Name          string    `json:"name"`
	Participants  int       `json:"participants"`
	JoinedAt      time.Time `json:"joined_at"`
}

// ParticipantLeftPayload is the payload for a ParticipantLeft event
type ParticipantLeftPayload struct {
	ParticipantID string    `json:"participant_id"`
	LeftAt        time.Time `json:"left_at"`
}

// ParticipantTimedOutPayload is the payload for a ParticipantTimedOut event
type ParticipantTimedOutPayload struct {
	ParticipantIDs []string  `json:"participant_ids"`
	Timeout        string    `json:"timeout"`
	SweptAt        time.Time `json:"swept_at"`
}

// CardsRevealedPayload is the payload for a CardsRevealed event
type CardsRevealedPayload struct {
	Votes        int       `json:"votes"`
	Participants int       `json:"participants"`
	Scale        string    `json:"scale"`
	RevealedAt   time.Time `json:"revealed_at"`
}

// VotesResetPayload is the payload for a VotesReset event
type VotesResetPayload struct {
	ResetAt time.Time `json:"reset_at"`
}

// RoomClosedPayload is the payload for a RoomClosed event
type RoomClosedPayload struct {
	Reason   string    `json:"reason"`
	ClosedAt time.Time `json:"closed_at"`
}
