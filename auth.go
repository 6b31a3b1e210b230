// Bearer-token authentication middleware.
//
// The authentication filter is the second stage of the gatekeeping pipeline.
// It bypasses public routes, requires a valid bearer access token everywhere
// else, and attaches the resolved identity to the request context for
// downstream handlers.
package gatekit

import (
	"errors"
	"net/http"
	"strings"
)

// defaultPublicEndpoints are exact paths reachable without a token.
var defaultPublicEndpoints = []string{
	"/api/auth/login",
	"/api/auth/signup",
	"/api/auth/refresh",
	"/api/auth/logout",
}

// defaultPublicPrefixes are infrastructure path prefixes reachable without a
// token (health checks, docs).
var defaultPublicPrefixes = []string{"/actuator", "/swagger", "/v3/api-docs"}

// Authenticator implements the authentication filter.
type Authenticator struct {
	codec           *Codec
	publicEndpoints map[string]struct{}
	publicPrefixes  []string
}

// AuthOption configures an Authenticator.
type AuthOption func(*Authenticator)

// AuthWithPublicEndpoints replaces the exact-match public endpoint list.
func AuthWithPublicEndpoints(paths ...string) AuthOption {
	return func(a *Authenticator) {
		a.publicEndpoints = make(map[string]struct{}, len(paths))
		for _, p := range paths {
			a.publicEndpoints[p] = struct{}{}
		}
	}
}

// AuthWithPublicPrefixes replaces the prefix-match public path list.
func AuthWithPublicPrefixes(prefixes ...string) AuthOption {
	return func(a *Authenticator) {
		a.publicPrefixes = prefixes
	}
}

// NewAuthenticator creates the authentication filter around a token codec.
func NewAuthenticator(codec *Codec, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		codec:          codec,
		publicPrefixes: defaultPublicPrefixes,
	}
	a.publicEndpoints = make(map[string]struct{}, len(defaultPublicEndpoints))
	for _, p := range defaultPublicEndpoints {
		a.publicEndpoints[p] = struct{}{}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the authentication middleware. CORS pre-flight requests and
// public routes bypass unconditionally; every other request must present
// "Authorization: Bearer <token>" with a token that verifies. On success the
// resolved identity is available via IdentityFromContext.
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if a.isPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			a.unauthorized(w, r, "missing", "Authentication token required")
			return
		}

		// RFC 7235: the "Bearer" scheme is case-insensitive.
		if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
			a.unauthorized(w, r, "missing", "Authentication token required")
			return
		}

		token := header[7:]
		if token == "" {
			a.unauthorized(w, r, "missing", "Authentication token required")
			return
		}

		claims, err := a.codec.VerifyAccessToken(token)
		if err != nil {
			// Distinguish expiry for the client; everything else collapses to
			// a generic invalid-token message with detail kept server-side.
			if errors.Is(err, ErrTokenExpired) {
				a.unauthorized(w, r, "expired", "Token expired. Please authenticate again.")
			} else {
				a.unauthorized(w, r, "invalid", "Invalid authentication token")
			}
			return
		}

		ctx := WithIdentity(r.Context(), claims.Identity())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) isPublic(path string) bool {
	if _, ok := a.publicEndpoints[path]; ok {
		return true
	}
	for _, prefix := range a.publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (a *Authenticator) unauthorized(w http.ResponseWriter, r *http.Request, reason, message string) {
	authFailures.WithLabelValues(reason).Inc()

	rejection := ErrUnauthorized.With(message)
	if HasState(r.Context()) {
		SetError(r, rejection)
		return
	}
	WriteError(w, rejection)
}
