package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/planning-poker/go/internal/room"
	"github.com/mcdev12/planning-poker/go/internal/room/events"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// testConfig keeps room timers from firing while tests move the fake clock
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Presence.HeartbeatInterval = 24 * time.Hour
	cfg.Presence.SweepInterval = 24 * time.Hour
	cfg.AllowedOrigins = []string{"http://localhost:3000"}
	return cfg
}

func newTestGateway(t *testing.T, publisher events.Publisher) (*Gateway, *room.Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	store := room.NewStore(clock)
	g := New(store, publisher, clock, testConfig())
	t.Cleanup(g.Close)
	return g, store, clock
}

func newTestConnection(g *Gateway) *Connection {
	c := newConnection(nil, 16)
	g.connections.register(c)
	return c
}

type frame struct {
	Type    MessageType `json:"type"`
	Payload *RoomState  `json:"payload"`
}

func sendMessage(t *testing.T, g *Gateway, c *Connection, msgType MessageType, payload any) {
	t.Helper()
	data, err := json.Marshal(map[string]any{"type": msgType, "payload": payload})
	require.NoError(t, err)
	g.handleMessage(c, data)
}

func join(t *testing.T, g *Gateway, c *Connection, roomID, userID, name string) {
	t.Helper()
	sendMessage(t, g, c, MessageJoinRoom, map[string]any{
		"roomId":   roomID,
		"userId":   userID,
		"userName": name,
	})
}

func nextFrame(t *testing.T, c *Connection) frame {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "send queue closed")
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	default:
		require.FailNow(t, "expected a queued frame")
		return frame{}
	}
}

func requireNoFrame(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case data := <-c.Send:
		require.FailNowf(t, "unexpected frame", "%s", data)
	default:
	}
}

func drain(c *Connection) {
	for {
		select {
		case _, ok := <-c.Send:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func participantIDs(state *RoomState) []string {
	ids := make([]string, 0, len(state.Participants))
	for _, p := range state.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}
