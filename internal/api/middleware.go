// Package api implements the Assistenze REST API using chi.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/starford/assistenze/internal/auth"
)

type claimsKey struct{}

// Authorizer verifies bearer tokens.
type Authorizer interface {
	Authorize(token string) (*auth.Claims, error)
}

// bearerToken returns the credential of an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireAuth rejects requests without a valid bearer token with 403 and
// stores the token's claims in the request context.
func RequireAuth(a Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := a.Authorize(bearerToken(r))
			if err != nil {
				writeError(w, r, err, "")
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose claims do not carry role. It must run
// after RequireAuth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := auth.RequireRole(ClaimsFrom(r.Context()), role); err != nil {
				writeError(w, r, err, "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFrom returns the claims stored by RequireAuth, or nil.
func ClaimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return c
}
