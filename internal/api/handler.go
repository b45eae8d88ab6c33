// Package api provides HTTP handlers for the Arogya API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/arogya/internal/agent"
	"github.com/ashureev/arogya/internal/identity"
	"github.com/ashureev/arogya/internal/store"
	"github.com/go-chi/chi/v5"
)

const defaultMaxBodySize int64 = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	users       store.UserStore
	chat        agent.Processor
	tokens      *identity.Tokens
	isDev       bool
	maxBodySize int64
	logger      *slog.Logger
	onLogout    func(userID string)
}

// Option configures a Handler.
type Option func(*Handler)

// WithDevelopment relaxes cookie security for local HTTP.
func WithDevelopment(isDev bool) Option {
	return func(h *Handler) { h.isDev = isDev }
}

// WithMaxBodySize caps JSON request bodies.
func WithMaxBodySize(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodySize = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithLogoutHook runs fn for the logged-in user on logout, e.g. to close
// their live chat connections.
func WithLogoutHook(fn func(userID string)) Option {
	return func(h *Handler) { h.onLogout = fn }
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(users store.UserStore, chat agent.Processor, tokens *identity.Tokens, opts ...Option) *Handler {
	h := &Handler{
		users:       users,
		chat:        chat,
		tokens:      tokens,
		maxBodySize: defaultMaxBodySize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers auth, chat and history routes. The router must
// already run identity.Middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/medical/login", h.MedicalLogin)
		r.Post("/logout", h.Logout)
		r.Post("/chat", h.Chat)

		r.Group(func(r chi.Router) {
			r.Use(identity.RequireUser)
			r.Get("/me", h.GetMe)
			r.Get("/chat/sessions", h.ListSessions)
			r.Get("/chat/sessions/{sessionID}", h.SessionMessages)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

var errBodyTooLarge = errors.New("request body too large")

// decodeJSON reads a size-limited JSON body into v.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errBodyTooLarge
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty request body")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// writeDecodeError maps a decodeJSON failure to a response.
func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		Error(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	Error(w, http.StatusBadRequest, "Invalid request body")
}
