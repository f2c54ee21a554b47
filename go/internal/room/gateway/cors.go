package gateway

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS returns middleware allowing cross-origin reads from origins
func CORS(origins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodOptions,
		},
		AllowedOrigins: origins,
		AllowedHeaders: []string{"*"},
		MaxAge:         86400, // 24 hours
	})
	return c.Handler
}
