// Package domain contains core domain types for the Arogya assistant.
package domain

import (
	"strings"
	"time"
)

// User represents an account that can chat with the assistant.
type User struct {
	ID                    string    `json:"id"`
	Email                 string    `json:"email"`
	Name                  string    `json:"name"`
	PasswordHash          string    `json:"-"`
	IsMedicalProfessional bool      `json:"is_medical_professional"`
	CreatedAt             time.Time `json:"created_at"`
}

// NormalizeEmail lower-cases and trims an email address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DisplayName returns the user's name, falling back to the email local part.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	if i := strings.IndexByte(u.Email, '@'); i > 0 {
		return u.Email[:i]
	}
	return "User"
}
