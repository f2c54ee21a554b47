package gateway

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/mcdev12/planning-poker/go/internal/room"
	"github.com/mcdev12/planning-poker/go/internal/room/events"
)

// CheckHeartbeats prompts every subscriber of the room to send a heartbeat.
// It reports false once the room is gone.
func (g *Gateway) CheckHeartbeats(roomID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.store.Has(roomID) {
		g.closeRoomLocked(roomID)
		return false
	}
	g.connections.Broadcast(roomID, heartbeatCheckFrame, nil)
	return true
}

// SweepParticipants evicts the room's participants whose heartbeat lapsed and
// broadcasts the result. It reports false once the room is gone.
func (g *Gateway) SweepParticipants(roomID string, now time.Time, timeout time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	result := g.store.SweepParticipants(roomID, now, timeout)
	if len(result.Removed) > 0 {
		g.detachLocked(roomID, nil, func(c *Connection) bool {
			return lo.Contains(result.Removed, c.userID)
		})

		log.Info().
			Str("room_id", roomID).
			Strs("participant_ids", result.Removed).
			Str("outcome", result.Outcome.String()).
			Msg("evicted inactive participants")

		g.publish(roomID, events.TypeParticipantTimedOut, events.ParticipantTimedOutPayload{
			ParticipantIDs: result.Removed,
			Timeout:        timeout.String(),
			SweptAt:        now,
		})
	}

	switch result.Outcome {
	case room.Updated:
		g.broadcastLocked(result.Room)
	case room.RoomGone:
		g.closeRoomLocked(roomID)
		if len(result.Removed) > 0 {
			g.publish(roomID, events.TypeRoomClosed, events.RoomClosedPayload{
				Reason:   events.CloseReasonEmpty,
				ClosedAt: now,
			})
		}
		return false
	}
	return true
}

// SweepRooms deletes rooms idle for longer than timeout
func (g *Gateway) SweepRooms(now time.Time, timeout time.Duration) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	reaped := g.store.SweepRooms(now, timeout)
	for _, roomID := range reaped {
		g.closeRoomLocked(roomID)
		g.publish(roomID, events.TypeRoomClosed, events.RoomClosedPayload{
			Reason:   events.CloseReasonInactive,
			ClosedAt: now,
		})
	}
	return reaped
}

// closeRoomLocked stops a deleted room's timers and detaches its remaining
// connections. It runs under the same lock as the deletion so a join that
// re-creates the room always finds it unwatched.
func (g *Gateway) closeRoomLocked(roomID string) {
	g.sweeper.Unwatch(roomID)
	g.detachLocked(roomID, nil, nil)
}
