package token

import "context"

// Store is the persistence boundary for token records. Lookups return
// internal/errors.ErrNotFound when no record exists; infrastructure failures
// wrap internal/errors.ErrStoreUnavailable; deletes are idempotent. The store
// never interprets expiry or fingerprint semantics - that is the manager's
// job.
//
// WithKeyLock must serialize callers per authentication key: the manager's
// read-modify-write sequence runs inside it so two concurrent requests for
// the same authorization cannot both mint fresh token pairs.
type Store interface {
	FindAccessTokenByKey(ctx context.Context, key string) (*AccessToken, error)
	FindAccessTokenByValue(ctx context.Context, value string) (*AccessToken, error)
	FindRefreshTokenByValue(ctx context.Context, value string) (*RefreshToken, error)
	SaveAccessToken(ctx context.Context, accessToken *AccessToken) error
	SaveRefreshToken(ctx context.Context, refreshToken *RefreshToken) error
	DeleteAccessToken(ctx context.Context, value string) error
	DeleteRefreshToken(ctx context.Context, value string) error
	WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
