// Package api implements the carenotes REST API using chi.
package api

import (
	"net/http"
	"strings"

	"github.com/starford/carenotes/internal/auth"
	"github.com/starford/carenotes/internal/models"
)

// AuthMiddleware resolves the bearer token into a principal and stores it in
// the request context. With a nil session store authentication is disabled
// and every request acts as anonymous.
func AuthMiddleware(sessions *auth.Sessions, anonymous models.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sessions == nil {
				next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), anonymous)))
				return
			}
			token, ok := bearerToken(r)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			p, ok := sessions.Lookup(token)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// EventSource or websocket requests, so a token query parameter is accepted
// as well.
func bearerToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		return tok, tok != ""
	}
	if tok := r.URL.Query().Get("access_token"); tok != "" {
		return tok, true
	}
	return "", false
}

func principal(r *http.Request) models.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}
