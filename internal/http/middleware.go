package http

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const userIDContextKey contextKey = "user_id"

// UserIDHeader carries the authenticated user, set by the upstream gateway.
const UserIDHeader = "X-User-ID"

// ExtractUserID reads the caller's user id from the request.
func ExtractUserID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserIDHeader))
}

// UserIDFromContext extracts the user id from the request context.
// This should be called from handlers wrapped by RequireUserID.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDContextKey).(string)
	return id
}

// RequireUserID rejects requests without a user id and stores it in the
// request context.
func RequireUserID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ExtractUserID(r)
			if id == "" {
				writeError(w, http.StatusUnauthorized, "missing_user", "missing "+UserIDHeader+" header", nil)
				return
			}
			ctx := context.WithValue(r.Context(), userIDContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
