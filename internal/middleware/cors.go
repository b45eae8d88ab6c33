// Package middleware provides HTTP middleware for the Arogya API.
package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS returns middleware that handles CORS headers.
// Credentials are only allowed for explicit origins, never for "*", since
// echoing a wildcard origin with credentials enables CSRF.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	credentials := len(allowedOrigins) > 0
	for _, o := range allowedOrigins {
		if o == "*" {
			credentials = false
			break
		}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: credentials,
		MaxAge:           300,
	})
}

// AllowedOrigins returns the CORS origins for a deployment: the configured
// frontend URL, or any origin in development.
func AllowedOrigins(frontendURL string, isDev bool) []string {
	if frontendURL != "" && !isDev {
		return []string{frontendURL}
	}
	if frontendURL != "" {
		return []string{frontendURL, "http://localhost:*", "http://127.0.0.1:*"}
	}
	return []string{"*"}
}
