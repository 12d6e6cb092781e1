package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"qms/waitlist-service/internal/realtime"
	"qms/waitlist-service/internal/store"
)

type authContextKey struct{}

type SessionLookup interface {
	GetSession(ctx context.Context, sessionID string) (store.Session, error)
}

// AuthMiddleware resolves the staff session for admin endpoints. The session's
// tenant is the restaurant every admin call operates on.
func AuthMiddleware(sessions SessionLookup, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		session, err := sessions.GetSession(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			writeError(w, requestIDFromRequest(r), http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		setRequestTenant(r.Context(), session.TenantID)
		ctx := context.WithValue(r.Context(), authContextKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (store.Session, bool) {
	session, ok := ctx.Value(authContextKey{}).(store.Session)
	return session, ok
}

func requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return "", false
	}
	if session.TenantID == "" {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "session has no restaurant")
		return "", false
	}
	return session.TenantID, true
}

func sessionIDFromRequest(r *http.Request) string {
	if token := realtime.BearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func isPublicEndpoint(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	path := r.URL.Path
	switch path {
	case "/healthz", "/metrics":
		return true
	}
	for _, prefix := range []string{"/queue/join/", "/queue/public/", "/realtime", "/ws"} {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
