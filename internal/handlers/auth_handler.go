package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/prudhvinik1/chatsync/internal/services"
)

type AuthHandler struct {
	auth *services.AuthService
}

func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.auth.Register(r.Context(), req.Email, req.Password)
	if errors.Is(err, services.ErrEmailExists) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.auth.Login(r.Context(), services.LoginRequest{
		Email:       req.Email,
		Password:    req.Password,
		Fingerprint: req.Fingerprint,
	})
	if errors.Is(err, services.ErrInvalidCredentials) {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"token":      resp.Token,
		"expires_at": resp.ExpiresAt,
		"account_id": resp.AccountID,
		"device_id":  resp.DeviceID,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		respondError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	if err := h.auth.Logout(r.Context(), token); err != nil {
		respondError(w, http.StatusUnauthorized, "logout failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}
