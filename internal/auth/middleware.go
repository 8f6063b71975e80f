package auth

import (
	"net/http"
	"strings"

	"gitea.jw6.us/james/washcal/internal/schedule"
)

// Headers set by the upstream gateway after it has authenticated the user.
// washcal trusts them as-is and performs no verification of its own.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// IdentifyCaller copies the gateway identity headers into the request context.
// Requests without a user id continue anonymously.
func IdentifyCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		caller := schedule.Caller{UserID: userID, Staff: isStaffRole(r.Header.Get(HeaderUserRole))}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// RequireCaller rejects anonymous requests with 401.
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CallerFromContext(r.Context()); !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isStaffRole(role string) bool {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "admin", "staff":
		return true
	}
	return false
}
