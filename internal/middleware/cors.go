package middleware

import (
	"log"
	"net/http"

	"github.com/go-chi/cors"
)

// CORS restricts cross-origin reads of the status endpoints to origins. With
// no origins configured any origin may read, without credentials.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) > 0 {
		log.Printf("[CORS] Allowing %d origins", len(origins))
		return cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           86400,
		})
	}

	log.Println("[CORS] WARNING: CORS_ORIGINS not set, allowing all origins (credentials disabled)")
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
}
