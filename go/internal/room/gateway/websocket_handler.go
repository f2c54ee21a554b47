package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Routes returns the gateway's HTTP handler: the websocket endpoint plus
// health, stats and room state endpoints, behind CORS for the allowed origins.
func (g *Gateway) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", g.ServeWS)
	r.Get("/ws/stats", g.HandleConnectionStats)
	r.Get("/health", g.HandleHealth)
	r.Get("/api/rooms/{roomID}", g.HandleGetRoom)

	log.Info().Msg("room gateway routes registered")
	return CORS(g.config.AllowedOrigins)(r)
}

// HandleConnectionStats returns statistics about active connections
func (g *Gateway) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.Stats())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
