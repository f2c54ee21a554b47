package gateway

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planning-poker/go/internal/room"
	"github.com/mcdev12/planning-poker/go/internal/room/events"
)

// handleMessage decodes one client frame and applies it. Malformed frames and
// operations on vanished rooms or participants are dropped.
func (g *Gateway) handleMessage(c *Connection, raw []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("dropping undecodable message")
		return
	}

	switch msg.Type {
	case MessageJoinRoom:
		var p JoinRoomPayload
		if g.decode(c, msg, &p) {
			g.handleJoin(c, p)
		}
	case MessageUpdateCard:
		var p UpdateCardPayload
		if g.decode(c, msg, &p) {
			g.handleUpdateCard(p)
		}
	case MessageUpdateSettings:
		var p UpdateSettingsPayload
		if g.decode(c, msg, &p) {
			g.handleUpdateSettings(p)
		}
	case MessageResetVotes:
		var p ResetVotesPayload
		if g.decode(c, msg, &p) {
			g.handleResetVotes(p)
		}
	case MessageHeartbeat:
		var p HeartbeatPayload
		if g.decode(c, msg, &p) {
			g.handleHeartbeat(p)
		}
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("type", string(msg.Type)).
			Msg("dropping unknown message type")
	}
}

func (g *Gateway) decode(c *Connection, msg InboundMessage, dst any) bool {
	if err := json.Unmarshal(msg.Payload, dst); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Str("type", string(msg.Type)).
			Msg("dropping malformed payload")
		return false
	}
	if err := g.validate.Struct(dst); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Str("type", string(msg.Type)).
			Msg("dropping invalid payload")
		return false
	}
	return true
}

func (g *Gateway) handleJoin(c *Connection, p JoinRoomPayload) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// One room per connection: a join elsewhere moves the participant
	if c.roomID != "" && (c.roomID != p.RoomID || c.userID != p.UserID) {
		g.leaveLocked(c)
	}
	// and one connection per participant: the newest one wins
	g.detachLocked(p.RoomID, c, func(other *Connection) bool {
		return other.userID == p.UserID
	})

	rm := g.store.Join(p.RoomID, p.UserID, p.UserName, c.ID)
	c.roomID, c.userID = p.RoomID, p.UserID
	g.connections.subscribe(p.RoomID, c)

	data, err := encodeRoomState(rm)
	if err != nil {
		log.Error().Err(err).Str("room_id", p.RoomID).Msg("failed to marshal room state")
		return
	}
	g.connections.send(c, data)
	g.connections.Broadcast(p.RoomID, data, c)
	g.sweeper.Watch(p.RoomID)

	log.Info().
		Str("room_id", p.RoomID).
		Str("user_id", p.UserID).
		Str("connection_id", c.ID).
		Int("participants", len(rm.Participants)).
		Msg("participant joined room")

	g.publish(p.RoomID, events.TypeParticipantJoined, events.ParticipantJoinedPayload{
		ParticipantID: p.UserID,
		Name:          p.UserName,
		Participants:  len(rm.Participants),
		JoinedAt:      rm.LastActivity,
	})
}

func (g *Gateway) handleUpdateCard(p UpdateCardPayload) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rm, err := g.store.UpdateSelection(p.RoomID, p.UserID, p.SelectedCard, *p.HasVoted)
	if err != nil {
		logDropped(err, p.RoomID, MessageUpdateCard)
		return
	}
	g.broadcastLocked(rm)
}

func (g *Gateway) handleUpdateSettings(p UpdateSettingsPayload) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rm, err := g.store.UpdateSettings(p.RoomID, p.SettingsUpdate())
	if err != nil {
		logDropped(err, p.RoomID, MessageUpdateSettings)
		return
	}
	g.broadcastLocked(rm)

	if p.ShowCards != nil && *p.ShowCards {
		g.publish(rm.ID, events.TypeCardsRevealed, events.CardsRevealedPayload{
			Votes:        rm.VoteCount(),
			Participants: len(rm.Participants),
			Scale:        string(rm.CurrentScale),
			RevealedAt:   rm.LastActivity,
		})
	}
}

func (g *Gateway) handleResetVotes(p ResetVotesPayload) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rm, err := g.store.ResetVotes(p.RoomID)
	if err != nil {
		logDropped(err, p.RoomID, MessageResetVotes)
		return
	}
	g.broadcastLocked(rm)
	g.publish(rm.ID, events.TypeVotesReset, events.VotesResetPayload{ResetAt: rm.LastActivity})
}

func (g *Gateway) handleHeartbeat(p HeartbeatPayload) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.store.Heartbeat(p.RoomID, p.UserID) {
		log.Debug().
			Str("room_id", p.RoomID).
			Str("user_id", p.UserID).
			Msg("dropping heartbeat for absent participant")
	}
}

// disconnect runs once when a connection's read loop ends
func (g *Gateway) disconnect(c *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.connections.unregister(c)
	if c.roomID != "" {
		g.leaveLocked(c)
	}

	log.Info().Str("connection_id", c.ID).Msg("WebSocket connection closed")
}

// leaveLocked drops the connection's room binding and removes its
// participant, unless the participant has re-joined on another connection.
func (g *Gateway) leaveLocked(c *Connection) {
	roomID, userID := c.roomID, c.userID
	g.connections.unsubscribe(roomID, c)
	c.roomID, c.userID = "", ""

	rm, outcome := g.store.Release(roomID, userID, c.ID)
	switch outcome {
	case room.Updated:
		g.broadcastLocked(rm)
		g.publish(roomID, events.TypeParticipantLeft, events.ParticipantLeftPayload{
			ParticipantID: userID,
			LeftAt:        rm.LastActivity,
		})
	case room.RoomGone:
		// Only the path that actually stops the timers reports the close
		if !g.sweeper.Unwatch(roomID) {
			return
		}
		now := g.clock.Now()
		g.publish(roomID, events.TypeParticipantLeft, events.ParticipantLeftPayload{
			ParticipantID: userID,
			LeftAt:        now,
		})
		g.publish(roomID, events.TypeRoomClosed, events.RoomClosedPayload{
			Reason:   events.CloseReasonEmpty,
			ClosedAt: now,
		})
	}

	log.Info().
		Str("room_id", roomID).
		Str("user_id", userID).
		Str("connection_id", c.ID).
		Str("outcome", outcome.String()).
		Msg("participant left room")
}

// detachLocked unsubscribes the room's connections that match, or all of them
// when match is nil, and clears their binding. except is never detached.
func (g *Gateway) detachLocked(roomID string, except *Connection, match func(*Connection) bool) {
	for _, c := range g.connections.subscribers(roomID, except) {
		if match != nil && !match(c) {
			continue
		}
		g.connections.unsubscribe(roomID, c)

		log.Debug().
			Str("room_id", roomID).
			Str("user_id", c.userID).
			Str("connection_id", c.ID).
			Msg("connection detached from room")
		c.roomID, c.userID = "", ""
	}
}

func (g *Gateway) broadcastLocked(rm room.Room) {
	data, err := encodeRoomState(rm)
	if err != nil {
		log.Error().Err(err).Str("room_id", rm.ID).Msg("failed to marshal room state")
		return
	}
	sent := g.connections.Broadcast(rm.ID, data, nil)

	log.Debug().
		Str("room_id", rm.ID).
		Int("connections", sent).
		Msg("room state broadcasted")
}

func logDropped(err error, roomID string, msgType MessageType) {
	evt := log.Warn()
	if errors.Is(err, room.ErrRoomNotFound) || errors.Is(err, room.ErrParticipantNotFound) {
		evt = log.Debug()
	}
	evt.Err(err).
		Str("room_id", roomID).
		Str("type", string(msgType)).
		Msg("dropping message for vanished room or participant")
}
