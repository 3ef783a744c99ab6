package middleware

import (
	"net/http"

	"github.com/dukerupert/reelsmith/internal/handler"
	"github.com/dukerupert/reelsmith/internal/store"
)

const sessionCookieName = "reelsmith_session"

// RequireAuth validates the session cookie and populates the user ID in the
// request context. API callers without a valid session get a 401.
func RequireAuth(sessionStore *store.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := sessionUserID(sessionStore, r)
			if userID == 0 {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			ctx := handler.WithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionUserID resolves the user for a request outside the middleware
// chain, e.g. before a WebSocket upgrade. Returns 0 if unauthenticated.
func SessionUserID(sessionStore *store.SessionStore) func(*http.Request) int64 {
	return func(r *http.Request) int64 {
		return sessionUserID(sessionStore, r)
	}
}

func sessionUserID(sessionStore *store.SessionStore, r *http.Request) int64 {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return 0
	}
	sess, err := sessionStore.GetByToken(cookie.Value)
	if err != nil || sess == nil {
		return 0
	}
	return sess.UserID
}
