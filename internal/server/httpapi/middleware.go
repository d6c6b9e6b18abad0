package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/mkorchagin/camstream/internal/server/models"
)

type contextKey int

const (
	userContextKey contextKey = iota
	deviceContextKey
)

// bearerToken extracts the credential from an "Authorization: Bearer x"
// header, or returns "".
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// requireUser authenticates requests with a session token and stores the
// resolved user in the request context.
func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		user, err := h.users.VerifyToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireDevice authenticates requests with a device key and stores the
// resolved device in the request context.
func (h *Handler) requireDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := bearerToken(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "device key required")
			return
		}

		device, err := h.devices.AuthenticateKey(r.Context(), key)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid device key")
			return
		}

		ctx := context.WithValue(r.Context(), deviceContextKey, device)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(userContextKey).(*models.User)
	return user
}

func deviceFromContext(ctx context.Context) *models.Device {
	device, _ := ctx.Value(deviceContextKey).(*models.Device)
	return device
}
