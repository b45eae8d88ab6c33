package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ashureev/arogya/internal/agent"
	"github.com/ashureev/arogya/internal/domain"
	"github.com/ashureev/arogya/internal/identity"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const genericChatError = "I apologize, but I encountered an error. Please try again."

// Chat answers one message for the logged-in user.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req agent.ChatRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeDecodeError(w, err)
			return
		}
		Error(w, http.StatusBadRequest, "No message provided")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "No message provided")
		return
	}

	req.UserID = identity.UserIDFromContext(r.Context())
	if req.UserID == "" {
		Error(w, http.StatusUnauthorized, "User not logged in")
		return
	}
	req.Channel = agent.ChannelHTTP
	req.RequestID = middleware.GetReqID(r.Context())

	resp, err := h.chat.Chat(r.Context(), req)
	if err != nil {
		h.writeChatError(w, err, req.UserID)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// ListSessions returns the user's chat sessions, newest first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessions, err := h.chat.Sessions(r.Context(), userID)
	if err != nil {
		h.writeChatError(w, err, userID)
		return
	}
	if sessions == nil {
		sessions = []*domain.ChatSession{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// SessionMessages returns one session's messages in conversation order.
func (h *Handler) SessionMessages(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := h.chat.Messages(r.Context(), userID, sessionID)
	if err != nil {
		h.writeChatError(w, err, userID)
		return
	}
	if messages == nil {
		messages = []*domain.ChatMessage{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"messages":   messages,
	})
}

func (h *Handler) writeChatError(w http.ResponseWriter, err error, userID string) {
	status, msg := ChatErrorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Chat request failed", "error", err, "user_id", userID)
	}
	Error(w, status, msg)
}

// ChatErrorStatus maps a chat service error to an HTTP status and a
// user-safe message.
func ChatErrorStatus(err error) (int, string) {
	switch {
	case domain.IsInvalidInput(err):
		return http.StatusBadRequest, domain.UserMessage(err, "No message provided")
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "User not logged in"
	case errors.Is(err, agent.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many messages, please slow down"
	case domain.IsNotFound(err):
		return http.StatusNotFound, domain.UserMessage(err, "not found")
	case domain.IsStoreUnavailable(err):
		return http.StatusServiceUnavailable, domain.UserMessage(err, genericChatError)
	default:
		return http.StatusInternalServerError, genericChatError
	}
}
