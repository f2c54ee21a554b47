package room

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
)

// roomState is the live registry entry behind a Room snapshot
type roomState struct {
	id           string
	participants map[string]*Participant
	showCards    bool
	scale        Scale
	customValues []string
	createdAt    time.Time
	lastActivity time.Time
}

// touch advances lastActivity without ever moving it backwards
func (r *roomState) touch(now time.Time) {
	if now.After(r.lastActivity) {
		r.lastActivity = now
	}
}

func (r *roomState) snapshot() Room {
	participants := lo.MapToSlice(r.participants, func(_ string, p *Participant) Participant {
		return p.clone()
	})
	sort.Slice(participants, func(i, j int) bool {
		if !participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].JoinedAt.Before(participants[j].JoinedAt)
		}
		return participants[i].ID < participants[j].ID
	})

	return Room{
		ID:           r.id,
		Participants: participants,
		ShowCards:    r.showCards,
		CurrentScale: r.scale,
		CustomValues: append([]string(nil), r.customValues...),
		CreatedAt:    r.createdAt,
		LastActivity: r.lastActivity,
	}
}

// Store owns the process-wide room registry. Every operation runs to
// completion under a single lock, so no two mutations interleave and every
// returned Room reflects the registry at the instant of the call.
type Store struct {
	mu    sync.Mutex
	clock clockwork.Clock
	rooms map[string]*roomState
}

// NewStore creates an empty registry. Timestamps come from clock.
func NewStore(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock: clock,
		rooms: make(map[string]*roomState),
	}
}

// GetOrCreate returns the room, creating it with default settings if needed
func (s *Store) GetOrCreate(roomID string) Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getOrCreateLocked(roomID).snapshot()
}

func (s *Store) getOrCreateLocked(roomID string) *roomState {
	if r, ok := s.rooms[roomID]; ok {
		return r
	}
	now := s.clock.Now()
	r := &roomState{
		id:           roomID,
		participants: make(map[string]*Participant),
		showCards:    false,
		scale:        DefaultScale,
		customValues: DefaultCustomValues(),
		createdAt:    now,
		lastActivity: now,
	}
	s.rooms[roomID] = r
	return r
}

// Get returns the current snapshot of a room
func (s *Store) Get(roomID string) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return Room{}, fmt.Errorf("get room %s: %w", roomID, ErrRoomNotFound)
	}
	return r.snapshot(), nil
}

// Has reports whether the room is in the registry
func (s *Store) Has(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.rooms[roomID]
	return ok
}

// Join adds a participant, or replaces the entry with the same id. A
// re-join resets the participant's vote and rebinds it to sessionRef.
func (s *Store) Join(roomID, participantID, name, sessionRef string) Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.getOrCreateLocked(roomID)
	now := s.clock.Now()

	joinedAt := now
	if existing, ok := r.participants[participantID]; ok {
		joinedAt = existing.JoinedAt
	}
	r.participants[participantID] = &Participant{
		ID:           participantID,
		Name:         name,
		SelectedCard: nil,
		HasVoted:     false,
		LastActive:   now,
		JoinedAt:     joinedAt,
		SessionRef:   sessionRef,
	}
	r.touch(now)

	return r.snapshot()
}

// Leave removes a participant. The room is deleted when it becomes empty.
func (s *Store) Leave(roomID, participantID string) (Room, Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.leaveLocked(roomID, participantID)
}

// Release removes a participant only while it is still bound to
// sessionRef. A participant that re-joined on another session is kept.
func (s *Store) Release(roomID, participantID, sessionRef string) (Room, Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return Room{}, RoomGone
	}
	p, ok := r.participants[participantID]
	if !ok || p.SessionRef != sessionRef {
		return r.snapshot(), Unchanged
	}
	return s.leaveLocked(roomID, participantID)
}

func (s *Store) leaveLocked(roomID, participantID string) (Room, Outcome) {
	r, ok := s.rooms[roomID]
	if !ok {
		return Room{}, RoomGone
	}
	if _, ok := r.participants[participantID]; !ok {
		return r.snapshot(), Unchanged
	}

	delete(r.participants, participantID)
	if len(r.participants) == 0 {
		delete(s.rooms, roomID)
		return Room{}, RoomGone
	}
	r.touch(s.clock.Now())

	return r.snapshot(), Updated
}

// Heartbeat records liveness for a participant. It reports false, and leaves
// the registry untouched, when the room or participant is absent.
func (s *Store) Heartbeat(roomID, participantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	p, ok := r.participants[participantID]
	if !ok {
		return false
	}
	now := s.clock.Now()
	p.LastActive = now
	r.touch(now)
	return true
}

// UpdateSelection sets a participant's card and voted flag
func (s *Store) UpdateSelection(roomID, participantID string, value *string, voted bool) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return Room{}, fmt.Errorf("update selection in room %s: %w", roomID, ErrRoomNotFound)
	}
	p, ok := r.participants[participantID]
	if !ok {
		return Room{}, fmt.Errorf("update selection for %s in room %s: %w", participantID, roomID, ErrParticipantNotFound)
	}

	if value != nil {
		card := *value
		value = &card
	}
	now := s.clock.Now()
	p.SelectedCard = value
	p.HasVoted = voted
	p.LastActive = now
	r.touch(now)

	return r.snapshot(), nil
}

// UpdateSettings applies the non-nil fields of update
func (s *Store) UpdateSettings(roomID string, update SettingsUpdate) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return Room{}, fmt.Errorf("update settings in room %s: %w", roomID, ErrRoomNotFound)
	}

	if update.ShowCards != nil {
		r.showCards = *update.ShowCards
	}
	if update.Scale != nil {
		r.scale = *update.Scale
	}
	if update.CustomValues != nil {
		r.customValues = append([]string{}, update.CustomValues...)
	}
	r.touch(s.clock.Now())

	return r.snapshot(), nil
}

// ResetVotes clears every selection and hides the cards
func (s *Store) ResetVotes(roomID string) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return Room{}, fmt.Errorf("reset votes in room %s: %w", roomID, ErrRoomNotFound)
	}

	for _, p := range r.participants {
		p.SelectedCard = nil
		p.HasVoted = false
	}
	r.showCards = false
	r.touch(s.clock.Now())

	return r.snapshot(), nil
}

// SweepParticipants evicts every participant whose last heartbeat is at
// least timeout old. The room is deleted if nobody is left.
func (s *Store) SweepParticipants(roomID string, now time.Time, timeout time.Duration) SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return SweepResult{Outcome: RoomGone}
	}

	stale := lo.Keys(lo.PickBy(r.participants, func(_ string, p *Participant) bool {
		return now.Sub(p.LastActive) >= timeout
	}))
	if len(stale) == 0 {
		return SweepResult{Room: r.snapshot(), Outcome: Unchanged}
	}
	sort.Strings(stale)

	for _, id := range stale {
		delete(r.participants, id)
	}
	if len(r.participants) == 0 {
		delete(s.rooms, roomID)
		return SweepResult{Removed: stale, Outcome: RoomGone}
	}
	r.touch(now)

	return SweepResult{Room: r.snapshot(), Removed: stale, Outcome: Updated}
}

// SweepRooms deletes every room idle for longer than timeout, whatever its
// participant count, and returns the deleted ids sorted.
func (s *Store) SweepRooms(now time.Time, timeout time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	idle := lo.Keys(lo.PickBy(s.rooms, func(_ string, r *roomState) bool {
		return now.Sub(r.lastActivity) > timeout
	}))
	sort.Strings(idle)

	for _, id := range idle {
		delete(s.rooms, id)
	}
	return idle
}

// List returns a snapshot of every room, ordered by id
func (s *Store) List() []Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := lo.MapToSlice(s.rooms, func(_ string, r *roomState) Room {
		return r.snapshot()
	})
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms
}

// Len returns the number of rooms in the registry
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.rooms)
}

// Close drops every room
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rooms = make(map[string]*roomState)
}
