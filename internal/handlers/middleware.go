package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/prudhvinik1/chatsync/internal/services"
)

type contextKey string

const (
	accountIDKey contextKey = "account_id"
	deviceIDKey  contextKey = "device_id"
)

// RequireAuth verifies the bearer token and stores the caller's account
// and device identity in the request context.
func RequireAuth(auth *services.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				respondError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := auth.VerifyToken(token)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), accountIDKey, claims.AccountID)
			ctx = context.WithValue(ctx, deviceIDKey, claims.DeviceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accountIDFrom(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(accountIDKey).(uuid.UUID)
	return id
}

func deviceIDFrom(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(deviceIDKey).(uuid.UUID)
	return id
}
