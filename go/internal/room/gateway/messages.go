package gateway

import (
	"encoding/json"

	"github.com/mcdev12/planning-poker/go/internal/room"
)

// MessageType identifies an inbound or outbound websocket message
type MessageType string

const (
	// client -> server
	MessageJoinRoom       MessageType = "join-room"
	MessageUpdateCard     MessageType = "update-card"
	MessageUpdateSettings MessageType = "update-settings"
	MessageResetVotes     MessageType = "reset-votes"
	MessageHeartbeat      MessageType = "heartbeat"

	// server -> client
	MessageRoomState      MessageType = "room-state"
	MessageHeartbeatCheck MessageType = "heartbeat-check"
)

// InboundMessage is the envelope of every client frame
type InboundMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// OutboundMessage is the envelope of every server frame
type OutboundMessage struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

type JoinRoomPayload struct {
	RoomID   string `json:"roomId" validate:"required,max=64"`
	UserID   string `json:"userId" validate:"required,max=128"`
	UserName string `json:"userName" validate:"required,max=128"`
}

type UpdateCardPayload struct {
	RoomID       string  `json:"roomId" validate:"required"`
	UserID       string  `json:"userId" validate:"required"`
	SelectedCard *string `json:"selectedCard" validate:"omitempty,max=32"`
	HasVoted     *bool   `json:"hasVoted" validate:"required"`
}

type UpdateSettingsPayload struct {
	RoomID       string   `json:"roomId" validate:"required"`
	ShowCards    *bool    `json:"showCards,omitempty"`
	CurrentScale *string  `json:"currentScale,omitempty" validate:"omitempty,oneof=fibonacci powers-of-2 t-shirt custom"`
	CustomValues []string `json:"customValues,omitempty" validate:"omitempty,max=64,dive,required,max=32"`
}

// SettingsUpdate converts the payload into a partial store update
func (p UpdateSettingsPayload) SettingsUpdate() room.SettingsUpdate {
	update := room.SettingsUpdate{
		ShowCards:    p.ShowCards,
		CustomValues: p.CustomValues,
	}
	if p.CurrentScale != nil {
		scale := room.Scale(*p.CurrentScale)
		update.Scale = &scale
	}
	return update
}

type ResetVotesPayload struct {
	RoomID string `json:"roomId" validate:"required"`
}

type HeartbeatPayload struct {
	RoomID string `json:"roomId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

// ParticipantState is a participant as clients see it. The session
// reference never leaves the server.
type ParticipantState struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	SelectedCard *string `json:"selectedCard"`
	HasVoted     bool    `json:"hasVoted"`
	LastActive   int64   `json:"lastActive"` // unix millis
}

// RoomState is the full room snapshot carried by a room-state message.
// Clients replace their local state with it wholesale.
type RoomState struct {
	RoomID       string             `json:"roomId"`
	Participants []ParticipantState `json:"participants"`
	ShowCards    bool               `json:"showCards"`
	CurrentScale string             `json:"currentScale"`
	CustomValues []string           `json:"customValues"`
	CreatedAt    int64              `json:"createdAt"`
	LastActivity int64              `json:"lastActivity"`
}

// NewRoomState converts a store snapshot to its wire form
func NewRoomState(rm room.Room) RoomState {
	participants := make([]ParticipantState, 0, len(rm.Participants))
	for _, p := range rm.Participants {
		participants = append(participants, ParticipantState{
			ID:           p.ID,
			Name:         p.Name,
			SelectedCard: p.SelectedCard,
			HasVoted:     p.HasVoted,
			LastActive:   p.LastActive.UnixMilli(),
		})
	}

	customValues := rm.CustomValues
	if customValues == nil {
		customValues = []string{}
	}

	return RoomState{
		RoomID:       rm.ID,
		Participants: participants,
		ShowCards:    rm.ShowCards,
		CurrentScale: string(rm.CurrentScale),
		CustomValues: customValues,
		CreatedAt:    rm.CreatedAt.UnixMilli(),
		LastActivity: rm.LastActivity.UnixMilli(),
	}
}

func encodeRoomState(rm room.Room) ([]byte, error) {
	return json.Marshal(OutboundMessage{Type: MessageRoomState, Payload: NewRoomState(rm)})
}

var heartbeatCheckFrame = mustMarshal(OutboundMessage{Type: MessageHeartbeatCheck})

func mustMarshal(msg OutboundMessage) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return data
}
