package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/arogya/internal/domain"
	"github.com/ashureev/arogya/internal/identity"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

type registerRequest struct {
	Name                  string `json:"name"`
	Email                 string `json:"email"`
	Password              string `json:"password"`
	ConfirmPassword       string `json:"confirm_password"`
	IsMedicalProfessional bool   `json:"is_medical_professional"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	User      *domain.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Register creates an account. It does not log the user in.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	email := domain.NormalizeEmail(req.Email)
	switch {
	case !strings.Contains(email, "@"):
		Error(w, http.StatusBadRequest, "A valid email is required")
		return
	case len(req.Password) < minPasswordLength:
		Error(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	case req.Password != req.ConfirmPassword:
		Error(w, http.StatusBadRequest, "Passwords do not match")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			Error(w, http.StatusBadRequest, "Password is too long")
			return
		}
		h.logger.Error("Failed to hash password", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	user := &domain.User{
		Email:                 email,
		Name:                  strings.TrimSpace(req.Name),
		PasswordHash:          string(hash),
		IsMedicalProfessional: req.IsMedicalProfessional,
	}
	if err := h.users.CreateUser(r.Context(), user); err != nil {
		if domain.IsAlreadyExists(err) {
			Error(w, http.StatusConflict, "Email already registered")
			return
		}
		h.logger.Error("Failed to create user", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	h.logger.Info("User registered", "user_id", user.ID, "medical", user.IsMedicalProfessional)
	JSON(w, http.StatusCreated, user)
}

// Login authenticates a patient.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, false)
}

// MedicalLogin authenticates a registered medical professional.
func (h *Handler) MedicalLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, true)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, medical bool) {
	var req loginRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	user, err := h.users.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		h.logger.Error("Failed to look up user", "error", err)
		Error(w, http.StatusInternalServerError, domain.UserMessage(err, "login failed"))
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		Error(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if medical && !user.IsMedicalProfessional {
		Error(w, http.StatusForbidden, "Account is not registered as a medical professional")
		return
	}

	token, expires, err := h.tokens.Issue(user.ID, medical)
	if err != nil {
		h.logger.Error("Failed to issue token", "error", err, "user_id", user.ID)
		Error(w, http.StatusInternalServerError, "login failed")
		return
	}
	identity.SetSessionCookie(w, token, expires, h.isDev)

	h.logger.Info("User logged in", "user_id", user.ID, "medical", medical)
	JSON(w, http.StatusOK, loginResponse{User: user, Token: token, ExpiresAt: expires})
}

// Logout clears the session cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if userID := identity.UserIDFromContext(r.Context()); userID != "" && h.onLogout != nil {
		h.onLogout(userID)
	}
	identity.ClearSessionCookie(w, h.isDev)
	JSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// GetMe returns the current user's information.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":                 user.ID,
		"name":                    user.DisplayName(),
		"email":                   user.Email,
		"is_medical_professional": user.IsMedicalProfessional,
		"medical_session":         identity.IsMedicalFromContext(r.Context()),
	})
}
