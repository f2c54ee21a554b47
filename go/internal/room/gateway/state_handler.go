package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planning-poker/go/internal/room"
)

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HandleHealth handles GET /health
func (g *Gateway) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: g.clock.Now().UTC(),
	})
}

// HandleGetRoom handles GET /api/rooms/{roomID}
func (g *Gateway) HandleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	rm, err := g.store.Get(roomID)
	if errors.Is(err, room.ErrRoomNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to get room state")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get room state"})
		return
	}

	writeJSON(w, http.StatusOK, NewRoomState(rm))
}
