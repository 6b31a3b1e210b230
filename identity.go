package gatekit

import "context"

// Identity is the resolved caller identity attached to the request context by
// the authentication filter and consumed by downstream handlers.
type Identity struct {
	UserID                 string
	Username               string
	Email                  string
	Phone                  string
	DefaultBusinessPlaceID string
	IsSystemAdmin          bool
}

type identityContextKey struct{}

// WithIdentity returns a context carrying the resolved identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext retrieves the resolved identity from the request context.
// Returns the identity and true if the request was authenticated.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
