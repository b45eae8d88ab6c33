package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/arogya/internal/agent"
	"github.com/ashureev/arogya/internal/api"
	"github.com/ashureev/arogya/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const defaultReadLimit int64 = 64 << 10

// Handler serves /ws/chat.
type Handler struct {
	chat          agent.Processor
	registry      *Registry
	allowedOrigin string
	isDev         bool
	readLimit     int64
}

// NewHandler creates a new WebSocket chat handler.
func NewHandler(chat agent.Processor, registry *Registry, allowedOrigin string, isDev bool) *Handler {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Handler{
		chat:          chat,
		registry:      registry,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		readLimit:     defaultReadLimit,
	}
}

// inbound is a client frame. Plain text frames are treated as a chat message.
type inbound struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// outbound is a server frame.
type outbound struct {
	Type      string `json:"type"`
	Response  string `json:"response,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Status    int    `json:"status,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "User not logged in")
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	tabID := r.URL.Query().Get("tab")
	if tabID == "" {
		tabID = uuid.NewString()
	}
	sessionID := r.URL.Query().Get("session_id")
	slog.Info("Chat WebSocket connection request", "user_id", userID, "tab_id", tabID, "ip", identity.IPFromRequest(r))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer h.registry.track()()
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()
	conn.SetReadLimit(h.readLimit)

	h.registry.Register(userID, tabID, conn)
	defer h.registry.Unregister(userID, tabID, conn)

	h.readLoop(r.Context(), conn, userID, tabID, sessionID, middleware.GetReqID(r.Context()))
	slog.Info("Chat WebSocket ended", "user_id", userID, "tab_id", tabID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop answers frames until the client goes away. The session ID
// returned by each reply is carried into the next message.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, userID, tabID, sessionID, requestID string) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}
		h.registry.Touch(userID, tabID, conn)

		msg := parseFrame(typ, data)
		if msg.SessionID != "" {
			sessionID = msg.SessionID
		}

		var out outbound
		switch msg.Type {
		case "ping":
			out = outbound{Type: "pong"}
		case "chat":
			out = h.answer(ctx, userID, sessionID, requestID, msg.Message)
			if out.SessionID != "" {
				sessionID = out.SessionID
			}
		default:
			out = outbound{Type: "error", Error: "unknown message type", Status: http.StatusBadRequest}
		}

		if err := wsjson.Write(ctx, conn, out); err != nil {
			slog.Debug("WebSocket write error", "error", err, "user_id", userID)
			return
		}
	}
}

func (h *Handler) answer(ctx context.Context, userID, sessionID, requestID, message string) outbound {
	if strings.TrimSpace(message) == "" {
		return outbound{Type: "error", Error: "No message provided", Status: http.StatusBadRequest, SessionID: sessionID}
	}
	resp, err := h.chat.Chat(ctx, agent.ChatRequest{
		Message:   message,
		SessionID: sessionID,
		UserID:    userID,
		Channel:   agent.ChannelWebSocket,
		RequestID: requestID,
	})
	if err != nil {
		status, text := api.ChatErrorStatus(err)
		if status >= http.StatusInternalServerError {
			slog.Error("WebSocket chat failed", "error", err, "user_id", userID)
		}
		return outbound{Type: "error", Error: text, Status: status, SessionID: sessionID}
	}
	return outbound{Type: "response", Response: resp.Response, SessionID: resp.SessionID}
}

func parseFrame(typ websocket.MessageType, data []byte) inbound {
	var msg inbound
	if typ == websocket.MessageText && json.Unmarshal(data, &msg) == nil && msg.Type != "" {
		return msg
	}
	// Fallback to raw text.
	return inbound{Type: "chat", Message: string(data)}
}
