package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the store, chat and api layers.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrNotFound         = errors.New("resource not found")
	ErrAlreadyExists    = errors.New("resource already exists")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
)

// DomainError pairs a machine code and a user-safe message with the
// underlying error, which is only ever logged.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UserMessage returns the message that may be shown to end users.
func (e *DomainError) UserMessage() string {
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewInvalidInputError creates a validation error with a user-safe message.
func NewInvalidInputError(message string) error {
	return &DomainError{Code: "INVALID_INPUT", Message: message, Err: ErrInvalidInput}
}

// NewNotFoundError creates a not-found error for a named resource.
func NewNotFoundError(resourceType, id string) error {
	return &DomainError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s '%s' not found", resourceType, id),
		Err:     ErrNotFound,
	}
}

// NewAlreadyExistsError creates a conflict error for a named resource.
func NewAlreadyExistsError(resourceType, id string) error {
	return &DomainError{
		Code:    "ALREADY_EXISTS",
		Message: fmt.Sprintf("%s '%s' already exists", resourceType, id),
		Err:     ErrAlreadyExists,
	}
}

// NewStoreUnavailableError wraps a persistence failure. The cause is kept
// for logs; the message never includes it.
func NewStoreUnavailableError(err error) error {
	return &DomainError{
		Code:    "STORE_UNAVAILABLE",
		Message: "the remedy database is temporarily unavailable",
		Err:     fmt.Errorf("%w: %v", ErrStoreUnavailable, err),
	}
}

// UserMessage extracts a user-safe message from err, or returns fallback.
func UserMessage(err error, fallback string) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.UserMessage()
	}
	return fallback
}

// IsInvalidInput reports whether err is a validation error.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsStoreUnavailable reports whether err is a store connectivity error.
func IsStoreUnavailable(err error) bool { return errors.Is(err, ErrStoreUnavailable) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAlreadyExists reports whether err is a duplicate error.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }
