// ABOUTME: Authentication context for tracking identity through tool handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"
	"slices"
)

// AuthContext holds the authenticated identity extracted from a bearer token.
type AuthContext struct {
	Subject string   // "sub" claim, the calling client
	Scopes  []string // from the "scope" claim
}

// IsAdmin returns true if the token carries the admin scope.
func (a *AuthContext) IsAdmin() bool {
	return slices.Contains(a.Scopes, ScopeAdmin)
}

type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// AllowsDestructive reports whether the caller may run deletes. Requests
// without an auth context come from the local stdio transport and are trusted.
func AllowsDestructive(ctx context.Context) bool {
	a := FromContext(ctx)
	return a == nil || a.IsAdmin()
}
