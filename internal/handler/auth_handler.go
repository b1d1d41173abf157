package handler

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/mail"

	"github.com/google/uuid"

	"pinlite/internal/auth"
	"pinlite/internal/domain"
	"pinlite/internal/service"
)

const minPasswordLength = 8

type AuthHandler struct {
	authService *service.AuthService
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Register регистрирует пользователя по JSON-телу {email, password}.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("Invalid request body"))
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, domain.NewValidationError("Invalid email address"))
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, domain.NewValidationError("Password must be at least %d characters", minPasswordLength))
		return
	}

	user, err := h.authService.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// Login принимает форму username/password и возвращает пару токенов.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, domain.NewValidationError("Invalid form data"))
		return
	}
	email := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if email == "" || password == "" {
		writeError(w, domain.NewValidationError("Username and password are required"))
		return
	}

	token, err := h.authService.Login(r.Context(), email, password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req domain.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, domain.NewValidationError("Refresh token is required"))
		return
	}

	token, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req domain.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, domain.NewValidationError("Refresh token is required"))
		return
	}

	if err := h.authService.Logout(r.Context(), req.RefreshToken); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := authorizedUser(r)
	if err != nil {
		writeError(w, err)
		return
	}

	user, err := h.authService.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// authorizedUser извлекает идентификатор пользователя из
// Authorization-заголовка запроса.
func authorizedUser(r *http.Request) (uuid.UUID, error) {
	subject, err := auth.VerifyToken(r)
	if err != nil {
		log.Printf("Handler | action=auth_failed error=%v", err)
		return uuid.Nil, fmt.Errorf("invalid token: %w", domain.ErrAuth)
	}
	userID, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid token subject: %w", domain.ErrAuth)
	}
	return userID, nil
}
