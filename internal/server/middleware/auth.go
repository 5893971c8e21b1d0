package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/carbex/carbex/internal/domain"
)

// Authenticator resolves a bearer token to the session's principal.
// *service.AuthService satisfies this.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Principal, error)
}

// principalKey is the context key under which the authenticated
// principal travels. Unexported so only this package can set it.
type principalKey struct{}

// PrincipalFrom returns the principal stored by Authenticate, if any.
func PrincipalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

// WithPrincipal returns a context carrying the given principal, as if
// Authenticate had resolved it.
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// Authenticate returns middleware that requires a valid session token
// in the Authorization header (Bearer scheme) and stores the resolved
// principal in the request context for downstream handlers.
func Authenticate(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing session token")
				return
			}

			p, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, domain.ErrSessionExpired) {
					writeAuthError(w, http.StatusUnauthorized, "session expired")
				} else {
					writeAuthError(w, http.StatusUnauthorized, "invalid session token")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRole returns middleware that rejects principals whose role
// does not match. It must run after Authenticate in the chain.
func RequireRole(role domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "missing session token")
				return
			}
			if p.Role != role {
				writeAuthError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// writeAuthError sends a JSON error body without pulling in the
// handler package's helpers.
func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
