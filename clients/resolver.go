package clients

import (
	"context"

	"github.com/pkg/errors"

	"github.com/warrenmnocos/oauth2/internal/config"
)

// Resolver looks up client registrations and applies the configured default
// validity windows to registrations that leave them unset.
type Resolver struct {
	repo   Repo
	config config.OAuthConfig
}

// NewResolver creates a client policy resolver backed by a registration repo
func NewResolver(repo Repo, cfg config.OAuthConfig) *Resolver {
	return &Resolver{
		repo:   repo,
		config: cfg,
	}
}

// Resolve returns the policy for a registered client. An unregistered client
// id fails with ErrClientNotFound; callers must surface this, not swallow it.
func (r *Resolver) Resolve(ctx context.Context, clientID string) (*Client, error) {
	client, err := r.repo.Get(clientID)
	if err != nil || client == nil {
		return nil, errors.Wrapf(ErrClientNotFound, "Resolver.Resolve %q", clientID)
	}

	resolved := *client
	if resolved.AccessTokenValidity == 0 {
		resolved.AccessTokenValidity = r.config.GetDefaultAccessTokenValidity()
	}
	if resolved.RefreshTokenValidity == 0 {
		resolved.RefreshTokenValidity = r.config.GetDefaultRefreshTokenValidity()
	}
	return &resolved, nil
}
