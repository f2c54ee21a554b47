package room

import (
	"time"
)

// Scale identifies the card deck a room votes with
type Scale string

const (
	ScaleFibonacci   Scale = "fibonacci"
	ScalePowersOfTwo Scale = "powers-of-2"
	ScaleTShirt      Scale = "t-shirt"
	ScaleCustom      Scale = "custom"
)

// Valid reports whether s is one of the known scales
func (s Scale) Valid() bool {
	switch s {
	case ScaleFibonacci, ScalePowersOfTwo, ScaleTShirt, ScaleCustom:
		return true
	}
	return false
}

// DefaultScale is the scale every new room starts with
const DefaultScale = ScaleFibonacci

// DefaultCustomValues returns the custom deck a new room starts with.
// A fresh slice is returned on every call.
func DefaultCustomValues() []string {
	return []string{"1", "2", "3", "5", "8"}
}

// Participant is one user's presence and voting state within a room
type Participant struct {
	ID           string
	Name         string
	SelectedCard *string
	HasVoted     bool
	LastActive   time.Time // last heartbeat
	JoinedAt     time.Time

	// SessionRef routes messages to the participant's transport session.
	// It is opaque to the store.
	SessionRef string
}

func (p Participant) clone() Participant {
	if p.SelectedCard != nil {
		card := *p.SelectedCard
		p.SelectedCard = &card
	}
	return p
}

// Room is a point-in-time snapshot of a room. Snapshots are detached copies:
// mutating one never affects the registry.
type Room struct {
	ID           string
	Participants []Participant // ordered by JoinedAt, then ID
	ShowCards    bool
	CurrentScale Scale
	CustomValues []string
	CreatedAt    time.Time
	LastActivity time.Time
}

// Participant looks up a participant in the snapshot by id
func (r Room) Participant(id string) (Participant, bool) {
	for _, p := range r.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// VoteCount returns how many participants have voted
func (r Room) VoteCount() int {
	n := 0
	for _, p := range r.Participants {
		if p.HasVoted {
			n++
		}
	}
	return n
}

// SettingsUpdate carries a partial settings change. Nil fields are left untouched.
type SettingsUpdate struct {
	ShowCards    *bool
	Scale        *Scale
	CustomValues []string
}

// Outcome describes what a leave or sweep did to a room
type Outcome int

const (
	// Unchanged means nothing was removed and no broadcast is needed
	Unchanged Outcome = iota
	// Updated means the room changed and still exists
	Updated
	// RoomGone means the room is no longer in the registry
	RoomGone
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Updated:
		return "updated"
	case RoomGone:
		return "room_gone"
	default:
		return "unknown"
	}
}

// SweepResult is the result of a participant sweep
type SweepResult struct {
	Room    Room     // valid when Outcome is Updated or Unchanged
	Removed []string // ids of evicted participants, sorted
	Outcome Outcome
}
