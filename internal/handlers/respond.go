package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prudhvinik1/chatsync/internal/services"
)

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondServiceError maps the service error taxonomy onto HTTP statuses:
// authorization 403, missing 404, validation 400, already-terminal 409,
// transient store trouble 503 with a retryable flag.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrDeviceNotFound), errors.Is(err, services.ErrDeviceNotOwned):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrConflictNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrConflictResolved):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrBatchTooLarge),
		errors.Is(err, services.ErrInvalidStrategy),
		errors.Is(err, services.ErrMergePayloadRequired):
		respondError(w, http.StatusBadRequest, err.Error())
	case services.IsRetryable(err):
		respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "store temporarily unavailable", Retryable: true})
	default:
		respondError(w, http.StatusBadRequest, err.Error())
	}
}
