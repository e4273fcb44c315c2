package middleware

import (
	"context"
	"fmt"
	"net/http"
)

// IdentityContextKey is a strict type for context keys to prevent collisions.
type IdentityContextKey string

const (
	// UserKey is the context key for the resolved user id.
	UserKey IdentityContextKey = "user_id"
	// UserHeader carries the user id resolved by the upstream auth layer.
	// This service never makes authentication decisions itself; it only
	// plumbs the already-resolved identity through.
	UserHeader = "X-User-ID"
)

// IdentityMiddleware extracts the resolved user id from the request header
// (falling back to the user_id query parameter for browser WebSocket
// clients, which cannot set headers) and injects it into the context.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			userID = r.URL.Query().Get("user_id")
		}

		if userID == "" {
			http.Error(w, fmt.Sprintf("Missing required header: %s", UserHeader), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserFromContext safely retrieves the user id from the context.
func GetUserFromContext(ctx context.Context) (string, error) {
	val := ctx.Value(UserKey)
	if val == nil {
		return "", fmt.Errorf("user_id not found in context")
	}

	userID, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("user_id in context is not a string")
	}
	return userID, nil
}
