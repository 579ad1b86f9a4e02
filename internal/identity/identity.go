// Package identity carries the authenticated caller through request handling.
//
// Keystone never issues or validates credentials on its own; identities are
// produced by the external identity provider and handed to this core either
// directly or as a signed assertion (see VerifyAssertion).
package identity

import "context"

// Identity describes the authenticated caller for one request.
type Identity struct {
	UserID        string
	Company       string
	Roles         []string
	Flags         map[string]bool
	Authenticated bool
}

// HasRole reports whether the identity carries the given role.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// FlagEnabled reports whether a named flag is set true for the identity.
func (id Identity) FlagEnabled(flag string) bool {
	return id.Flags[flag]
}

type contextKey struct{}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext extracts the identity from a context. The second return value
// reports whether an identity was present.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
