package agent

import (
	"context"

	"github.com/ashureev/arogya/internal/domain"
)

// Processor answers chat requests. It is implemented by the in-process
// Service and by the gRPC client.
type Processor interface {
	// Chat answers one message and returns the reply with its session ID.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Sessions lists the user's chat sessions, newest first.
	Sessions(ctx context.Context, userID string) ([]*domain.ChatSession, error)

	// Messages returns one session's messages in order.
	Messages(ctx context.Context, userID, sessionID string) ([]*domain.ChatMessage, error)

	// Close releases resources.
	Close()
}

// Ensure Service implements Processor.
var _ Processor = (*Service)(nil)
