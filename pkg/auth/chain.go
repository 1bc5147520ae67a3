package auth

import "context"

// ChainedAuthenticator tries multiple authenticators in order.
type ChainedAuthenticator struct {
	authenticators []Authenticator
	allowAnonymous bool
}

// ChainedAuthConfig configures the chained authenticator.
type ChainedAuthConfig struct {
	AllowAnonymous bool
}

// NewChainedAuthenticator creates a new chained authenticator.
func NewChainedAuthenticator(cfg ChainedAuthConfig, authenticators ...Authenticator) *ChainedAuthenticator {
	return &ChainedAuthenticator{
		authenticators: authenticators,
		allowAnonymous: cfg.AllowAnonymous,
	}
}

// Authenticate tries each authenticator in order. When all of them
// reject and anonymous access is allowed, an anonymous identity is
// returned.
func (c *ChainedAuthenticator) Authenticate(ctx context.Context) (*Identity, error) {
	for _, a := range c.authenticators {
		id, err := a.Authenticate(ctx)
		if err == nil && id != nil {
			return id, nil
		}
	}

	if c.allowAnonymous {
		return &Identity{
			UserID:   "anonymous",
			AuthType: "anonymous",
		}, nil
	}
	return nil, ErrUnauthenticated
}

// Verify interface compliance.
var _ Authenticator = (*ChainedAuthenticator)(nil)
