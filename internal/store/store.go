// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/arogya/internal/domain"
)

// RemedyStore is the read-only lookup used by the chat pipeline.
type RemedyStore interface {
	// FindByFreeText returns at most limit remedies whose plant name,
	// symptoms, herbs or recommendations contain text, case-insensitively.
	// Connectivity failures are reported as domain.ErrStoreUnavailable.
	FindByFreeText(ctx context.Context, text string, limit int) ([]domain.Remedy, error)
}

// RemedyWriter is used by import and seeding tooling.
type RemedyWriter interface {
	// InsertRemedies stores remedies in a single transaction and returns
	// the number of rows written.
	InsertRemedies(ctx context.Context, remedies []domain.Remedy) (int, error)

	// CountRemedies returns the number of stored remedies.
	CountRemedies(ctx context.Context) (int, error)
}

// ChatHistoryStore persists conversation transcripts.
type ChatHistoryStore interface {
	// Record appends the user message and the bot response, in that order,
	// to sessionID. An empty sessionID starts a new session titled after
	// userMessage. The pair is written atomically. Returns the session ID.
	Record(ctx context.Context, userID, userMessage, botResponse, sessionID string) (string, error)

	// ListSessions returns the user's sessions, newest first, each with
	// its last message.
	ListSessions(ctx context.Context, userID string) ([]*domain.ChatSession, error)

	// SessionMessages returns the messages of one of the user's sessions
	// in conversation order.
	SessionMessages(ctx context.Context, userID, sessionID string) ([]*domain.ChatMessage, error)
}

// UserStore persists accounts.
type UserStore interface {
	// CreateUser inserts a new user. Duplicate emails yield domain.ErrAlreadyExists.
	CreateUser(ctx context.Context, user *domain.User) error

	// GetUser retrieves a user by ID. Returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// GetUserByEmail retrieves a user by email. Returns nil, nil when absent.
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

// Repository is the full persistence surface of the service.
type Repository interface {
	RemedyStore
	RemedyWriter
	ChatHistoryStore
	UserStore

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
