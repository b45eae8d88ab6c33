// Package agent runs chat exchanges for authenticated users: it answers
// through the chat pipeline, persists the transcript, and audits both sides.
package agent

import "errors"

// ErrRateLimited is returned when a user exceeds the chat rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// Channel names the transport a chat request arrived on.
type Channel string

const (
	ChannelHTTP      Channel = "chat_http"
	ChannelWebSocket Channel = "chat_ws"
	ChannelGRPC      Channel = "chat_grpc"
	ChannelCLI       Channel = "chat_cli"
)

// ChatRequest represents a chat request to the assistant.
type ChatRequest struct {
	Message   string  `json:"message"`
	SessionID string  `json:"session_id,omitempty"`
	UserID    string  `json:"-"`
	Channel   Channel `json:"-"`
	RequestID string  `json:"-"`
}

// ChatResponse represents the assistant's reply.
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Intent    string `json:"-"`
	// Saved is false when the transcript could not be persisted; the reply
	// is still valid.
	Saved bool `json:"-"`
}
