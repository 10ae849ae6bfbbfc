package config

import "time"

type OAuthConfig interface {
	GetDefaultAccessTokenValidity() time.Duration
	GetDefaultRefreshTokenValidity() time.Duration
	GetKeyLockTimeout() time.Duration
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

// GetDefaultAccessTokenValidity is the access-token lifetime applied when a
// client registration does not set one.
func (OAuth) GetDefaultAccessTokenValidity() time.Duration {
	return 12 * time.Hour
}

// GetDefaultRefreshTokenValidity is the refresh-token lifetime applied when a
// client registration does not set one.
func (OAuth) GetDefaultRefreshTokenValidity() time.Duration {
	return 30 * 24 * time.Hour
}

// GetKeyLockTimeout bounds how long a request waits on the per-authorization
// store lock before failing.
func (OAuth) GetKeyLockTimeout() time.Duration {
	return 5 * time.Second
}
