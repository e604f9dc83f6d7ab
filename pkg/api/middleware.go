package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rfvault/rfvault/pkg/identity"
)

type contextKey string

const authContextKey contextKey = "auth"

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// presentedKey extracts the API key from the X-API-Key header or a
// Bearer Authorization header.
func presentedKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return auth[7:]
	}

	return ""
}

// requireAPIKey verifies the presented API key and injects the auth
// context into the request.
func (s *server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := presentedKey(r)
		if key == "" {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"api key required"})

			return
		}

		authCtx, err := s.identity.VerifyAPIKey(r.Context(), key)
		if err != nil {
			writeError(w, err)

			return
		}

		ctx := context.WithValue(r.Context(), authContextKey, authCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// optionalAPIKey verifies a presented key when there is one, but lets
// anonymous requests through. Handlers decide per resource whether
// anonymous access is allowed (public runs).
func (s *server) optionalAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := presentedKey(r)
		if key == "" {
			next.ServeHTTP(w, r)

			return
		}

		authCtx, err := s.identity.VerifyAPIKey(r.Context(), key)
		if err != nil {
			writeError(w, err)

			return
		}

		ctx := context.WithValue(r.Context(), authContextKey, authCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authFromContext extracts the verified auth context, or nil for an
// anonymous request.
func authFromContext(ctx context.Context) *identity.AuthContext {
	auth, _ := ctx.Value(authContextKey).(*identity.AuthContext)

	return auth
}
