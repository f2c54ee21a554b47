package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcdev12/planning-poker/go/internal/room"
)

func TestEncodeRoomState_WireFormat(t *testing.T) {
	req := require.New(t)
	card := "5"
	rm := room.Room{
		ID: "AB12CD",
		Participants: []room.Participant{{
			ID:           "u1",
			Name:         "One",
			SelectedCard: &card,
			HasVoted:     true,
			LastActive:   epoch.Add(1500 * time.Millisecond),
			SessionRef:   "conn-secret",
		}},
		ShowCards:    true,
		CurrentScale: room.ScaleTShirt,
		CreatedAt:    epoch,
		LastActivity: epoch.Add(2 * time.Second),
	}

	data, err := encodeRoomState(rm)
	req.NoError(err)
	req.NotContains(string(data), "conn-secret")

	var decoded map[string]any
	req.NoError(json.Unmarshal(data, &decoded))
	req.Equal("room-state", decoded["type"])

	payload := decoded["payload"].(map[string]any)
	req.Equal("AB12CD", payload["roomId"])
	req.Equal("t-shirt", payload["currentScale"])
	req.Equal(true, payload["showCards"])
	req.Equal([]any{}, payload["customValues"])
	req.Equal(float64(epoch.UnixMilli()), payload["createdAt"])

	participant := payload["participants"].([]any)[0].(map[string]any)
	req.Equal("5", participant["selectedCard"])
	req.Equal(float64(epoch.UnixMilli()+1500), participant["lastActive"])
	req.NotContains(participant, "sessionRef")
}

func TestEncodeRoomState_NullSelection(t *testing.T) {
	data, err := encodeRoomState(room.Room{
		ID:           "R1",
		Participants: []room.Participant{{ID: "u1", Name: "One"}},
	})
	require.NoError(t, err)
	require.Contains(t, string(data), `"selectedCard":null`)
}

func TestHeartbeatCheckFrame(t *testing.T) {
	require.JSONEq(t, `{"type":"heartbeat-check"}`, string(heartbeatCheckFrame))
}

func TestUpdateSettingsPayload_SettingsUpdate(t *testing.T) {
	req := require.New(t)
	scale := "powers-of-2"

	update := UpdateSettingsPayload{RoomID: "R1", CurrentScale: &scale}.SettingsUpdate()

	req.Nil(update.ShowCards)
	req.Nil(update.CustomValues)
	req.NotNil(update.Scale)
	req.Equal(room.ScalePowersOfTwo, *update.Scale)
}
