// Package auth provides request authentication for the decision engine
// API: API keys, HMAC-signed JWT bearer tokens, and a chain that tries
// each configured method in order.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthenticated is returned when no configured method accepts the
// request's credentials.
var ErrUnauthenticated = errors.New("authentication failed")

// Identity is the authenticated caller.
type Identity struct {
	UserID   string   `json:"user_id"`
	Name     string   `json:"name,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	AuthType string   `json:"auth_type"` // "jwt", "apikey", "anonymous"
}

// HasRole checks if the identity has a specific role.
func (id *Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Authenticator validates the credentials carried on the context.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Identity, error)
}

// contextKey is a private type for context keys.
type contextKey int

const (
	identityContextKey contextKey = iota
	tokenContextKey
)

// WithIdentity adds the authenticated identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFrom retrieves the authenticated identity, or nil.
func IdentityFrom(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityContextKey).(*Identity); ok {
		return id
	}
	return nil
}

// WithToken adds the raw credential (bearer token or API key) to the
// context for authenticators to consume.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// GetToken retrieves the raw credential from the context.
func GetToken(ctx context.Context) string {
	if token, ok := ctx.Value(tokenContextKey).(string); ok {
		return token
	}
	return ""
}
