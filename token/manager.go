package token

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/warrenmnocos/oauth2/clients"
	tokenerrors "github.com/warrenmnocos/oauth2/internal/errors"
	"github.com/warrenmnocos/oauth2/internal/metrics"
	"github.com/warrenmnocos/oauth2/oauth2"
)

// PolicyResolver resolves client registrations, with default validity
// windows already applied. Resolution failures for unknown clients must
// surface clients.ErrClientNotFound.
type PolicyResolver interface {
	Resolve(ctx context.Context, clientID string) (*clients.Client, error)
}

// Manager is the token lifecycle core. For a given authorization context it
// decides whether to reuse the live access token, rotate the expired side of
// the pair, or mint fresh tokens, and it keeps the access↔refresh
// cross-references consistent. It holds no token state of its own; all state
// lives in the Store and every mutation runs under the store's per-key lock.
type Manager struct {
	store    Store
	clients  PolicyResolver
	keys     KeyGenerator
	values   ValueGenerator
	enhancer Enhancer
	nowFunc  func() time.Time
	logger   zerolog.Logger
}

type ManagerOption func(*Manager)

// WithNowFunc sets the clock (primarily for testing)
func WithNowFunc(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = nowFunc
	}
}

// WithValueGenerator replaces the token value source
func WithValueGenerator(generator ValueGenerator) ManagerOption {
	return func(m *Manager) {
		m.values = generator
	}
}

// WithEnhancer installs a post-mint token enhancer
func WithEnhancer(enhancer Enhancer) ManagerOption {
	return func(m *Manager) {
		m.enhancer = enhancer
	}
}

// WithLogger sets the manager's logger
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func New(store Store, resolver PolicyResolver, options ...ManagerOption) *Manager {
	m := &Manager{
		store:   store,
		clients: resolver,
		values:  DigestValueGenerator{},
		nowFunc: time.Now,
		logger:  zerolog.Nop(),
	}

	for _, opt := range options {
		opt(m)
	}

	return m
}

// CreateAccessToken issues the access token for an authorization context.
// The same unexpired context always yields the same token; expired sides of
// an existing pair are rotated independently, so a still-valid refresh token
// survives access-token replacement.
func (m *Manager) CreateAccessToken(ctx context.Context, authentication *Authentication) (*AccessToken, error) {
	key := m.keys.Key(authentication)

	var result *AccessToken
	err := m.store.WithKeyLock(ctx, key, func(ctx context.Context) error {
		existing, err := m.store.FindAccessTokenByKey(ctx, key)
		if err != nil && !errors.Is(err, tokenerrors.ErrNotFound) {
			return errors.Wrap(err, "Manager.CreateAccessToken FindAccessTokenByKey")
		}

		now := m.nowFunc()

		if existing == nil {
			result, err = m.mintPair(ctx, key, authentication, nil, now)
			return err
		}

		if !existing.Expired(now) {
			result, err = m.reuseExisting(ctx, existing, authentication, now)
			return err
		}

		// The access side expired. Detach it from its refresh token, drop
		// the record, and mint again - reusing the refresh token when it is
		// still valid so clients holding it are not cut off.
		reusable, err := m.detachExpired(ctx, existing, now)
		if err != nil {
			return err
		}
		result, err = m.mintPair(ctx, key, authentication, reusable, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RefreshAccessToken rotates the access side of the pair identified by a
// refresh token value. The refresh token itself survives the exchange.
func (m *Manager) RefreshAccessToken(ctx context.Context, refreshTokenValue string, request oauth2.TokenRequest) (*AccessToken, error) {
	// The first pass only discovers the authentication key. A concurrent
	// issuance for the same authorization may rotate the pair before the
	// lock is acquired, so everything is re-read and re-validated inside.
	peeked, err := m.store.FindRefreshTokenByValue(ctx, refreshTokenValue)
	if err != nil {
		if errors.Is(err, tokenerrors.ErrNotFound) {
			return nil, errors.Wrap(tokenerrors.ErrInvalidGrant, "Manager.RefreshAccessToken unknown refresh token")
		}
		return nil, errors.Wrap(err, "Manager.RefreshAccessToken FindRefreshTokenByValue")
	}

	if peeked.AccessTokenValue == "" {
		// A detached refresh token carries no fingerprint to lock on.
		if peeked.Expired(m.nowFunc()) {
			if err := m.store.DeleteRefreshToken(ctx, peeked.Value); err != nil {
				return nil, errors.Wrap(err, "Manager.RefreshAccessToken DeleteRefreshToken")
			}
			return nil, errors.Wrap(tokenerrors.ErrInvalidGrant, "Manager.RefreshAccessToken refresh token expired")
		}
		return nil, errors.Wrap(tokenerrors.ErrInvalidGrant, "Manager.RefreshAccessToken refresh token has no authorization context")
	}

	linked, err := m.store.FindAccessTokenByValue(ctx, peeked.AccessTokenValue)
	if err != nil {
		if errors.Is(err, tokenerrors.ErrNotFound) {
			return nil, errors.Wrap(tokenerrors.ErrInvalidGrant, "Manager.RefreshAccessToken linked access token missing")
		}
		return nil, errors.Wrap(err, "Manager.RefreshAccessToken FindAccessTokenByValue")
	}

	var result *AccessToken
	err = m.store.WithKeyLock(ctx, linked.AuthenticationKey, func(ctx context.Context) error {
		refreshToken, err := m.store.FindRefreshTokenByValue(ctx, refreshTokenValue)
		if err != nil {
			if errors.Is(err, tokenerrors.ErrNotFound) {
				return errors.Wrap(tokenerrors.ErrInvalidGrant, "Manager.RefreshAccessToken unknown refresh token")
			}
			return errors.Wrap(err, "Manager.RefreshAccessToken FindRefreshTokenByValue")
		}

		now := m.nowFunc()
		if refreshToken.Expired(now) {
			if err := m.expireRefreshToken(ctx, refreshToken); err != nil {
				return err
			}
			return errors.Wrap(tokenerrors.ErrInvalidGrant, "Manager.RefreshAccessToken refresh token expired")
		}
		if refreshToken.AccessTokenValue == "" {
			return errors.Wrap(tokenerrors.ErrInvalidGrant, "Manager.RefreshAccessToken refresh token has no authorization context")
		}

		current, err := m.store.FindAccessTokenByValue(ctx, refreshToken.AccessTokenValue)
		if err != nil {
			if errors.Is(err, tokenerrors.ErrNotFound) {
				return errors.Wrap(tokenerrors.ErrInvalidGrant, "Manager.RefreshAccessToken linked access token missing")
			}
			return errors.Wrap(err, "Manager.RefreshAccessToken FindAccessTokenByValue")
		}

		authentication, err := DeserializeAuthentication(current.SerializedAuthentication)
		if err != nil {
			return errors.Wrap(tokenerrors.ErrInvalidGrant, "Manager.RefreshAccessToken corrupt authorization context")
		}

		if request.ClientID != "" && request.ClientID != authentication.ClientID {
			return errors.Wrap(tokenerrors.ErrInvalidGrant, "Manager.RefreshAccessToken client mismatch")
		}

		scope, err := narrowScope(authentication.Scope, request.Scope)
		if err != nil {
			return err
		}

		client, err := m.clients.Resolve(ctx, authentication.ClientID)
		if err != nil {
			return err
		}

		if err := m.store.DeleteAccessToken(ctx, current.Value); err != nil {
			return errors.Wrap(err, "Manager.RefreshAccessToken DeleteAccessToken")
		}

		minted := *authentication
		minted.Scope = scope
		accessToken, err := m.mintAccessToken(ctx, current.AuthenticationKey, client, &minted, refreshToken, now)
		if err != nil {
			return err
		}

		refreshToken.AccessTokenValue = accessToken.Value
		if err := m.store.SaveAccessToken(ctx, accessToken); err != nil {
			return errors.Wrap(err, "Manager.RefreshAccessToken SaveAccessToken")
		}
		if err := m.store.SaveRefreshToken(ctx, refreshToken); err != nil {
			// Never leave a one-sided link behind.
			_ = m.store.DeleteAccessToken(ctx, accessToken.Value)
			return errors.Wrap(err, "Manager.RefreshAccessToken SaveRefreshToken")
		}

		metrics.TokenOperations.WithLabelValues(metrics.OutcomeRotated).Inc()
		m.logger.Debug().Str("client_id", authentication.ClientID).Msg("access token rotated via refresh grant")
		result = accessToken
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetAccessToken returns the stored access token for an authorization
// context, or nil when none exists. It never mints.
func (m *Manager) GetAccessToken(ctx context.Context, authentication *Authentication) (*AccessToken, error) {
	accessToken, err := m.store.FindAccessTokenByKey(ctx, m.keys.Key(authentication))
	if err != nil {
		if errors.Is(err, tokenerrors.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "Manager.GetAccessToken")
	}
	return accessToken, nil
}

// ReadAccessToken returns the access token stored under a value, or nil when
// absent.
func (m *Manager) ReadAccessToken(ctx context.Context, value string) (*AccessToken, error) {
	accessToken, err := m.store.FindAccessTokenByValue(ctx, value)
	if err != nil {
		if errors.Is(err, tokenerrors.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "Manager.ReadAccessToken")
	}
	return accessToken, nil
}

// LoadAuthentication reconstructs the authorization context serialized onto
// an access token. Absent or expired tokens fail with ErrInvalidToken.
func (m *Manager) LoadAuthentication(ctx context.Context, value string) (*Authentication, error) {
	accessToken, err := m.ReadAccessToken(ctx, value)
	if err != nil {
		return nil, err
	}
	if accessToken == nil || accessToken.Expired(m.nowFunc()) {
		return nil, errors.Wrap(tokenerrors.ErrInvalidToken, "Manager.LoadAuthentication")
	}

	authentication, err := DeserializeAuthentication(accessToken.SerializedAuthentication)
	if err != nil {
		return nil, errors.Wrap(tokenerrors.ErrInvalidToken, "Manager.LoadAuthentication corrupt authentication")
	}
	return authentication, nil
}

// RevokeToken deletes the access or refresh token stored under a value,
// detaching the surviving side of the pair. It reports whether a token was
// found. Pre-lock reads only discover the fingerprint; the records are
// re-read under the key lock so a concurrent rotation cannot be torn apart.
func (m *Manager) RevokeToken(ctx context.Context, value string) (bool, error) {
	peeked, err := m.store.FindAccessTokenByValue(ctx, value)
	if err != nil && !errors.Is(err, tokenerrors.ErrNotFound) {
		return false, errors.Wrap(err, "Manager.RevokeToken FindAccessTokenByValue")
	}

	if peeked != nil {
		revoked := false
		err := m.store.WithKeyLock(ctx, peeked.AuthenticationKey, func(ctx context.Context) error {
			accessToken, err := m.store.FindAccessTokenByValue(ctx, value)
			if err != nil {
				if errors.Is(err, tokenerrors.ErrNotFound) {
					// Rotated or revoked away before the lock was won.
					return nil
				}
				return errors.Wrap(err, "Manager.RevokeToken FindAccessTokenByValue")
			}

			if accessToken.RefreshTokenValue != "" {
				refreshToken, err := m.store.FindRefreshTokenByValue(ctx, accessToken.RefreshTokenValue)
				if err != nil && !errors.Is(err, tokenerrors.ErrNotFound) {
					return errors.Wrap(err, "Manager.RevokeToken FindRefreshTokenByValue")
				}
				if refreshToken != nil && refreshToken.AccessTokenValue == accessToken.Value {
					refreshToken.AccessTokenValue = ""
					if err := m.store.SaveRefreshToken(ctx, refreshToken); err != nil {
						return errors.Wrap(err, "Manager.RevokeToken detach refresh token")
					}
				}
			}

			if err := m.store.DeleteAccessToken(ctx, accessToken.Value); err != nil {
				return errors.Wrap(err, "Manager.RevokeToken DeleteAccessToken")
			}
			revoked = true
			return nil
		})
		if err != nil {
			return false, err
		}
		if revoked {
			metrics.TokenOperations.WithLabelValues(metrics.OutcomeRevoked).Inc()
			return true, nil
		}
	}

	refreshToken, err := m.store.FindRefreshTokenByValue(ctx, value)
	if err != nil {
		if errors.Is(err, tokenerrors.ErrNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "Manager.RevokeToken FindRefreshTokenByValue")
	}

	if refreshToken.AccessTokenValue == "" {
		// A detached refresh token has no fingerprint to lock on.
		if err := m.store.DeleteRefreshToken(ctx, refreshToken.Value); err != nil {
			return false, errors.Wrap(err, "Manager.RevokeToken DeleteRefreshToken")
		}
		metrics.TokenOperations.WithLabelValues(metrics.OutcomeRevoked).Inc()
		return true, nil
	}

	linked, err := m.store.FindAccessTokenByValue(ctx, refreshToken.AccessTokenValue)
	if err != nil && !errors.Is(err, tokenerrors.ErrNotFound) {
		return false, errors.Wrap(err, "Manager.RevokeToken FindAccessTokenByValue")
	}
	if linked == nil {
		if err := m.store.DeleteRefreshToken(ctx, refreshToken.Value); err != nil {
			return false, errors.Wrap(err, "Manager.RevokeToken DeleteRefreshToken")
		}
		metrics.TokenOperations.WithLabelValues(metrics.OutcomeRevoked).Inc()
		return true, nil
	}

	revoked := false
	err = m.store.WithKeyLock(ctx, linked.AuthenticationKey, func(ctx context.Context) error {
		refreshToken, err := m.store.FindRefreshTokenByValue(ctx, value)
		if err != nil {
			if errors.Is(err, tokenerrors.ErrNotFound) {
				return nil
			}
			return errors.Wrap(err, "Manager.RevokeToken FindRefreshTokenByValue")
		}

		if refreshToken.AccessTokenValue != "" {
			accessToken, err := m.store.FindAccessTokenByValue(ctx, refreshToken.AccessTokenValue)
			if err != nil && !errors.Is(err, tokenerrors.ErrNotFound) {
				return errors.Wrap(err, "Manager.RevokeToken FindAccessTokenByValue")
			}
			if accessToken != nil {
				accessToken.RefreshTokenValue = ""
				if err := m.store.SaveAccessToken(ctx, accessToken); err != nil {
					return errors.Wrap(err, "Manager.RevokeToken detach access token")
				}
			}
		}

		if err := m.store.DeleteRefreshToken(ctx, refreshToken.Value); err != nil {
			return errors.Wrap(err, "Manager.RevokeToken DeleteRefreshToken")
		}
		revoked = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if revoked {
		metrics.TokenOperations.WithLabelValues(metrics.OutcomeRevoked).Inc()
	}
	return revoked, nil
}

// mintPair resolves the client policy and mints a new access token, paired
// with either the reusable refresh token carried over from an expired access
// token or a freshly minted one when the client's grant types permit.
func (m *Manager) mintPair(ctx context.Context, key string, authentication *Authentication, reusable *RefreshToken, now time.Time) (*AccessToken, error) {
	client, err := m.clients.Resolve(ctx, authentication.ClientID)
	if err != nil {
		return nil, err
	}

	refreshToken := reusable
	freshlyMinted := false
	if refreshToken != nil && !client.AllowsGrantType(string(oauth2.RefreshTokenGrant)) {
		if err := m.store.DeleteRefreshToken(ctx, refreshToken.Value); err != nil {
			return nil, errors.Wrap(err, "Manager.mintPair DeleteRefreshToken")
		}
		refreshToken = nil
	}
	if refreshToken == nil {
		refreshToken, err = m.mintRefreshToken(ctx, client, now)
		if err != nil {
			return nil, err
		}
		freshlyMinted = refreshToken != nil
	}

	accessToken, err := m.mintAccessToken(ctx, key, client, authentication, refreshToken, now)
	if err != nil {
		return nil, err
	}

	if refreshToken != nil {
		refreshToken.AccessTokenValue = accessToken.Value
		if err := m.store.SaveRefreshToken(ctx, refreshToken); err != nil {
			return nil, errors.Wrap(err, "Manager.mintPair SaveRefreshToken")
		}
	}
	if err := m.store.SaveAccessToken(ctx, accessToken); err != nil {
		// Compensate so no one-sided reference survives: a fresh refresh
		// token is an orphan, a reused one goes back to its detached state.
		if refreshToken != nil {
			if freshlyMinted {
				_ = m.store.DeleteRefreshToken(ctx, refreshToken.Value)
			} else {
				refreshToken.AccessTokenValue = ""
				_ = m.store.SaveRefreshToken(ctx, refreshToken)
			}
		}
		return nil, errors.Wrap(err, "Manager.mintPair SaveAccessToken")
	}

	metrics.TokenOperations.WithLabelValues(metrics.OutcomeMinted).Inc()
	m.logger.Debug().Str("client_id", authentication.ClientID).Bool("refresh", refreshToken != nil).Msg("token pair minted")
	return accessToken, nil
}

// reuseExisting re-serializes the (possibly updated) authentication context
// onto the live access token, then re-mints the refresh side only when it is
// absent or expired.
func (m *Manager) reuseExisting(ctx context.Context, existing *AccessToken, authentication *Authentication, now time.Time) (*AccessToken, error) {
	serialized, err := authentication.Serialize()
	if err != nil {
		return nil, err
	}
	existing.SerializedAuthentication = serialized
	if err := m.store.SaveAccessToken(ctx, existing); err != nil {
		return nil, errors.Wrap(err, "Manager.reuseExisting SaveAccessToken")
	}

	var refreshToken *RefreshToken
	if existing.RefreshTokenValue != "" {
		refreshToken, err = m.store.FindRefreshTokenByValue(ctx, existing.RefreshTokenValue)
		if err != nil && !errors.Is(err, tokenerrors.ErrNotFound) {
			return nil, errors.Wrap(err, "Manager.reuseExisting FindRefreshTokenByValue")
		}
	}

	if refreshToken != nil && !refreshToken.Expired(now) {
		metrics.TokenOperations.WithLabelValues(metrics.OutcomeReused).Inc()
		return existing, nil
	}

	client, err := m.clients.Resolve(ctx, authentication.ClientID)
	if err != nil {
		return nil, err
	}

	if !client.AllowsGrantType(string(oauth2.RefreshTokenGrant)) {
		if refreshToken != nil {
			_ = m.store.DeleteRefreshToken(ctx, refreshToken.Value)
			existing.RefreshTokenValue = ""
			if err := m.store.SaveAccessToken(ctx, existing); err != nil {
				return nil, errors.Wrap(err, "Manager.reuseExisting unlink expired refresh token")
			}
		}
		metrics.TokenOperations.WithLabelValues(metrics.OutcomeReused).Inc()
		return existing, nil
	}

	replacement, err := m.mintRefreshToken(ctx, client, now)
	if err != nil {
		return nil, err
	}

	// Re-link both directions before dropping the expired token, so a
	// failure part-way leaves the old consistent pair in place.
	replacement.AccessTokenValue = existing.Value
	if err := m.store.SaveRefreshToken(ctx, replacement); err != nil {
		return nil, errors.Wrap(err, "Manager.reuseExisting SaveRefreshToken")
	}

	previousValue := existing.RefreshTokenValue
	existing.RefreshTokenValue = replacement.Value
	if err := m.store.SaveAccessToken(ctx, existing); err != nil {
		_ = m.store.DeleteRefreshToken(ctx, replacement.Value)
		existing.RefreshTokenValue = previousValue
		return nil, errors.Wrap(err, "Manager.reuseExisting relink access token")
	}

	if previousValue != "" {
		if err := m.store.DeleteRefreshToken(ctx, previousValue); err != nil {
			return nil, errors.Wrap(err, "Manager.reuseExisting delete expired refresh token")
		}
	}

	metrics.TokenOperations.WithLabelValues(metrics.OutcomeRotated).Inc()
	m.logger.Debug().Str("client_id", authentication.ClientID).Msg("refresh token rotated under live access token")
	return existing, nil
}

// detachExpired severs an expired access token from its refresh token and
// deletes the record. It returns the refresh token when it is still valid,
// so the mint path can reuse it.
func (m *Manager) detachExpired(ctx context.Context, expired *AccessToken, now time.Time) (*RefreshToken, error) {
	var reusable *RefreshToken
	if expired.RefreshTokenValue != "" {
		refreshToken, err := m.store.FindRefreshTokenByValue(ctx, expired.RefreshTokenValue)
		if err != nil && !errors.Is(err, tokenerrors.ErrNotFound) {
			return nil, errors.Wrap(err, "Manager.detachExpired FindRefreshTokenByValue")
		}
		if refreshToken != nil {
			if refreshToken.Expired(now) {
				if err := m.store.DeleteRefreshToken(ctx, refreshToken.Value); err != nil {
					return nil, errors.Wrap(err, "Manager.detachExpired DeleteRefreshToken")
				}
			} else {
				refreshToken.AccessTokenValue = ""
				if err := m.store.SaveRefreshToken(ctx, refreshToken); err != nil {
					return nil, errors.Wrap(err, "Manager.detachExpired SaveRefreshToken")
				}
				reusable = refreshToken
			}
		}
	}

	if err := m.store.DeleteAccessToken(ctx, expired.Value); err != nil {
		return nil, errors.Wrap(err, "Manager.detachExpired DeleteAccessToken")
	}
	return reusable, nil
}

// expireRefreshToken drops an expired refresh token, detaching its access
// token first.
func (m *Manager) expireRefreshToken(ctx context.Context, refreshToken *RefreshToken) error {
	if refreshToken.AccessTokenValue != "" {
		linked, err := m.store.FindAccessTokenByValue(ctx, refreshToken.AccessTokenValue)
		if err != nil && !errors.Is(err, tokenerrors.ErrNotFound) {
			return errors.Wrap(err, "Manager.expireRefreshToken FindAccessTokenByValue")
		}
		if linked != nil {
			linked.RefreshTokenValue = ""
			if err := m.store.SaveAccessToken(ctx, linked); err != nil {
				return errors.Wrap(err, "Manager.expireRefreshToken detach access token")
			}
		}
	}
	if err := m.store.DeleteRefreshToken(ctx, refreshToken.Value); err != nil {
		return errors.Wrap(err, "Manager.expireRefreshToken DeleteRefreshToken")
	}
	return nil
}

// mintRefreshToken creates a refresh token for clients whose grant types
// include refresh_token, and returns nil for everyone else.
func (m *Manager) mintRefreshToken(ctx context.Context, client *clients.Client, now time.Time) (*RefreshToken, error) {
	if !client.AllowsGrantType(string(oauth2.RefreshTokenGrant)) {
		return nil, nil
	}

	value, err := m.uniqueValue(ctx, func(ctx context.Context, candidate string) (bool, error) {
		_, err := m.store.FindRefreshTokenByValue(ctx, candidate)
		if errors.Is(err, tokenerrors.ErrNotFound) {
			return true, nil
		}
		return false, err
	})
	if err != nil {
		return nil, err
	}

	return &RefreshToken{
		Value:      value,
		Expiration: now.Add(client.RefreshTokenValidity),
	}, nil
}

// mintAccessToken creates a fresh access token for the authorization
// context, linked to refreshToken when present. The token is not persisted.
func (m *Manager) mintAccessToken(ctx context.Context, key string, client *clients.Client, authentication *Authentication, refreshToken *RefreshToken, now time.Time) (*AccessToken, error) {
	value, err := m.uniqueValue(ctx, func(ctx context.Context, candidate string) (bool, error) {
		_, err := m.store.FindAccessTokenByValue(ctx, candidate)
		if errors.Is(err, tokenerrors.ErrNotFound) {
			return true, nil
		}
		return false, err
	})
	if err != nil {
		return nil, err
	}

	serialized, err := authentication.Serialize()
	if err != nil {
		return nil, err
	}

	accessToken := &AccessToken{
		Value:                    value,
		TokenType:                BearerTokenType,
		Scope:                    authentication.Scope,
		Expiration:               now.Add(client.AccessTokenValidity),
		AuthenticationKey:        key,
		SerializedAuthentication: serialized,
	}
	if refreshToken != nil {
		accessToken.RefreshTokenValue = refreshToken.Value
	}

	if m.enhancer != nil {
		accessToken, err = m.enhancer.Enhance(ctx, accessToken, authentication)
		if err != nil {
			return nil, errors.Wrap(err, "Manager.mintAccessToken Enhance")
		}
	}
	return accessToken, nil
}

// uniqueValue draws token values until one is absent from the store. The
// loop is unbounded; it only fails when the random source or the store does.
func (m *Manager) uniqueValue(ctx context.Context, free func(ctx context.Context, candidate string) (bool, error)) (string, error) {
	for {
		candidate, err := m.values.Generate()
		if err != nil {
			return "", err
		}
		ok, err := free(ctx, candidate)
		if err != nil {
			return "", errors.Wrap(err, "Manager.uniqueValue")
		}
		if ok {
			return candidate, nil
		}
	}
}

// narrowScope validates that the requested scope does not widen the original
// grant and returns the effective scope for a rotated token.
func narrowScope(granted []string, requested string) ([]string, error) {
	if requested == "" {
		return granted, nil
	}

	grantedSet := make(map[string]bool, len(granted))
	for _, s := range granted {
		grantedSet[s] = true
	}

	narrowed := clients.SplitScopes(requested)
	for _, s := range narrowed {
		if !grantedSet[s] {
			return nil, errors.Wrapf(tokenerrors.ErrInvalidScope, "scope %q exceeds original grant", s)
		}
	}
	return narrowed, nil
}
