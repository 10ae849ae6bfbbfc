package token_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warrenmnocos/oauth2/clients"
	fakeclientrepo "github.com/warrenmnocos/oauth2/clients/fakerepo"
	"github.com/warrenmnocos/oauth2/internal/config"
	tokenerrors "github.com/warrenmnocos/oauth2/internal/errors"
	"github.com/warrenmnocos/oauth2/oauth2"
	"github.com/warrenmnocos/oauth2/token"
	"github.com/warrenmnocos/oauth2/token/memstore"
)

const (
	testClientID     = "test-client-1"
	testUserID       = "user-1"
	accessValidity   = 3600 * time.Second
	refreshValidity  = 2592000 * time.Second
	testScopeRead    = "read"
	testScopeWrite   = "write"
	testScopeRequest = "read write"
)

// testFixture holds all test dependencies
type testFixture struct {
	store      *memstore.Store
	clientRepo clients.Repo
	manager    *token.Manager

	mu  sync.RWMutex
	now time.Time
}

// setupTestFixture creates a manager over the in-memory store with a
// controllable clock
func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{
		store:      memstore.New(),
		clientRepo: fakeclientrepo.NewFakeClientRepo(),
		now:        time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC),
	}
	f.manager = token.New(
		f.store,
		clients.NewResolver(f.clientRepo, config.New()),
		token.WithNowFunc(f.clock),
	)
	return f
}

func (f *testFixture) clock() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.now
}

func (f *testFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *testFixture) registerClient(t *testing.T, client *clients.Client) {
	t.Helper()
	require.NoError(t, f.clientRepo.Upsert(client))
}

func (f *testFixture) registerDefaultClient(t *testing.T) {
	t.Helper()
	f.registerClient(t, &clients.Client{
		ID:                   testClientID,
		Scopes:               []string{testScopeRead, testScopeWrite},
		GrantTypes:           []string{"password", "refresh_token"},
		AccessTokenValidity:  accessValidity,
		RefreshTokenValidity: refreshValidity,
	})
}

func (f *testFixture) createToken(t *testing.T, authentication *token.Authentication) *token.AccessToken {
	t.Helper()
	accessToken, err := f.manager.CreateAccessToken(context.Background(), authentication)
	require.NoError(t, err)
	require.NotNil(t, accessToken)
	return accessToken
}

func (f *testFixture) refreshToken(t *testing.T, value string) *token.RefreshToken {
	t.Helper()
	refreshToken, err := f.store.FindRefreshTokenByValue(context.Background(), value)
	require.NoError(t, err)
	return refreshToken
}

func testAuthentication() *token.Authentication {
	return &token.Authentication{
		ClientID:  testClientID,
		Principal: testUserID,
		Scope:     []string{testScopeRead, testScopeWrite},
		GrantType: "password",
	}
}

func TestCreateAccessTokenMintsLinkedPair(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)

	accessToken := f.createToken(t, testAuthentication())

	require.NotEmpty(t, accessToken.Value)
	require.Equal(t, token.BearerTokenType, accessToken.TokenType)
	require.Equal(t, 3600, accessToken.ExpiresIn(f.clock()))
	require.NotEmpty(t, accessToken.RefreshTokenValue)

	refreshToken := f.refreshToken(t, accessToken.RefreshTokenValue)
	require.Equal(t, accessToken.Value, refreshToken.AccessTokenValue)
	require.Equal(t, f.clock().Add(refreshValidity), refreshToken.Expiration)

	accessCount, refreshCount := f.store.Stats()
	require.Equal(t, 1, accessCount)
	require.Equal(t, 1, refreshCount)
}

func TestCreateAccessTokenIsIdempotent(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)

	first := f.createToken(t, testAuthentication())
	second := f.createToken(t, testAuthentication())

	require.Equal(t, first.Value, second.Value)
	require.Equal(t, first.RefreshTokenValue, second.RefreshTokenValue)

	accessCount, refreshCount := f.store.Stats()
	require.Equal(t, 1, accessCount)
	require.Equal(t, 1, refreshCount)

	// The scope order in the request must not matter.
	reordered := testAuthentication()
	reordered.Scope = []string{testScopeWrite, testScopeRead}
	third := f.createToken(t, reordered)
	require.Equal(t, first.Value, third.Value)
}

func TestCreateAccessTokenUpdatesAuthenticationOnReuse(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)

	first := f.createToken(t, testAuthentication())

	// Same authorization requested through a different grant: the stored
	// token survives but carries the fresh context.
	updated := testAuthentication()
	updated.GrantType = "client_credentials"
	second := f.createToken(t, updated)
	require.Equal(t, first.Value, second.Value)

	authentication, err := f.manager.LoadAuthentication(context.Background(), first.Value)
	require.NoError(t, err)
	require.Equal(t, "client_credentials", authentication.GrantType)
}

func TestExpiredAccessTokenRotatesUnderLiveRefreshToken(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)

	first := f.createToken(t, testAuthentication())
	f.advance(accessValidity + time.Minute)

	second := f.createToken(t, testAuthentication())

	require.NotEqual(t, first.Value, second.Value)
	require.Equal(t, first.RefreshTokenValue, second.RefreshTokenValue)

	refreshToken := f.refreshToken(t, second.RefreshTokenValue)
	require.Equal(t, second.Value, refreshToken.AccessTokenValue)

	stale, err := f.manager.ReadAccessToken(context.Background(), first.Value)
	require.NoError(t, err)
	require.Nil(t, stale)

	accessCount, refreshCount := f.store.Stats()
	require.Equal(t, 1, accessCount)
	require.Equal(t, 1, refreshCount)
}

func TestExpiredPairRotatesBothSides(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)

	first := f.createToken(t, testAuthentication())
	f.advance(refreshValidity + time.Minute)

	second := f.createToken(t, testAuthentication())

	require.NotEqual(t, first.Value, second.Value)
	require.NotEqual(t, first.RefreshTokenValue, second.RefreshTokenValue)

	accessCount, refreshCount := f.store.Stats()
	require.Equal(t, 1, accessCount)
	require.Equal(t, 1, refreshCount)
}

func TestExpiredRefreshTokenReplacedUnderLiveAccessToken(t *testing.T) {
	f := setupTestFixture(t)
	f.registerClient(t, &clients.Client{
		ID:                   testClientID,
		Scopes:               []string{testScopeRead, testScopeWrite},
		GrantTypes:           []string{"password", "refresh_token"},
		AccessTokenValidity:  10 * time.Hour,
		RefreshTokenValidity: time.Hour,
	})

	first := f.createToken(t, testAuthentication())
	f.advance(2 * time.Hour)

	second := f.createToken(t, testAuthentication())

	require.Equal(t, first.Value, second.Value)
	require.NotEqual(t, first.RefreshTokenValue, second.RefreshTokenValue)

	refreshToken := f.refreshToken(t, second.RefreshTokenValue)
	require.Equal(t, second.Value, refreshToken.AccessTokenValue)

	_, err := f.store.FindRefreshTokenByValue(context.Background(), first.RefreshTokenValue)
	require.ErrorIs(t, err, tokenerrors.ErrNotFound)
}

func TestNoRefreshTokenWithoutRefreshGrant(t *testing.T) {
	f := setupTestFixture(t)
	f.registerClient(t, &clients.Client{
		ID:                  testClientID,
		Scopes:              []string{testScopeRead},
		GrantTypes:          []string{"client_credentials"},
		AccessTokenValidity: accessValidity,
	})

	authentication := &token.Authentication{
		ClientID:  testClientID,
		Scope:     []string{testScopeRead},
		GrantType: "client_credentials",
	}
	accessToken := f.createToken(t, authentication)

	require.Empty(t, accessToken.RefreshTokenValue)
	_, refreshCount := f.store.Stats()
	require.Equal(t, 0, refreshCount)
}

func TestCreateAccessTokenUnknownClient(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.manager.CreateAccessToken(context.Background(), testAuthentication())
	require.ErrorIs(t, err, clients.ErrClientNotFound)

	accessCount, refreshCount := f.store.Stats()
	require.Equal(t, 0, accessCount)
	require.Equal(t, 0, refreshCount)
}

// scriptedValues hands out a fixed sequence of token values.
type scriptedValues struct {
	mu     sync.Mutex
	values []string
}

func (g *scriptedValues) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.values) == 0 {
		return "", fmt.Errorf("scripted values exhausted")
	}
	value := g.values[0]
	g.values = g.values[1:]
	return value, nil
}

func TestValueCollisionRedraws(t *testing.T) {
	f := setupTestFixture(t)
	f.registerClient(t, &clients.Client{
		ID:                  testClientID,
		Scopes:              []string{testScopeRead},
		GrantTypes:          []string{"client_credentials"},
		AccessTokenValidity: accessValidity,
	})

	generator := &scriptedValues{values: []string{"collision", "collision", "fresh"}}
	manager := token.New(
		f.store,
		clients.NewResolver(f.clientRepo, config.New()),
		token.WithNowFunc(f.clock),
		token.WithValueGenerator(generator),
	)

	// Occupy the first candidate so the manager has to draw again.
	require.NoError(t, f.store.SaveAccessToken(context.Background(), &token.AccessToken{
		Value:             "collision",
		TokenType:         token.BearerTokenType,
		Expiration:        f.clock().Add(time.Hour),
		AuthenticationKey: "other-key",
	}))

	accessToken, err := manager.CreateAccessToken(context.Background(), &token.Authentication{
		ClientID:  testClientID,
		Scope:     []string{testScopeRead},
		GrantType: "client_credentials",
	})
	require.NoError(t, err)
	require.Equal(t, "fresh", accessToken.Value)
}

func TestRefreshAccessTokenRotatesAccessToken(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)

	first := f.createToken(t, testAuthentication())

	rotated, err := f.manager.RefreshAccessToken(context.Background(), first.RefreshTokenValue, oauth2.TokenRequest{
		ClientID: testClientID,
	})
	require.NoError(t, err)

	require.NotEqual(t, first.Value, rotated.Value)
	require.Equal(t, first.RefreshTokenValue, rotated.RefreshTokenValue)

	refreshToken := f.refreshToken(t, first.RefreshTokenValue)
	require.Equal(t, rotated.Value, refreshToken.AccessTokenValue)

	stale, err := f.manager.ReadAccessToken(context.Background(), first.Value)
	require.NoError(t, err)
	require.Nil(t, stale)
}

func TestRefreshAccessTokenUnknownValue(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)

	_, err := f.manager.RefreshAccessToken(context.Background(), "no-such-token", oauth2.TokenRequest{})
	require.ErrorIs(t, err, tokenerrors.ErrInvalidGrant)
}

func TestRefreshAccessTokenExpiredValueIsRemoved(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)

	first := f.createToken(t, testAuthentication())
	f.advance(refreshValidity + time.Minute)

	_, err := f.manager.RefreshAccessToken(context.Background(), first.RefreshTokenValue, oauth2.TokenRequest{})
	require.ErrorIs(t, err, tokenerrors.ErrInvalidGrant)

	// The expired credential is gone and the access token is detached.
	_, err = f.store.FindRefreshTokenByValue(context.Background(), first.RefreshTokenValue)
	require.ErrorIs(t, err, tokenerrors.ErrNotFound)

	accessToken, err := f.manager.ReadAccessToken(context.Background(), first.Value)
	require.NoError(t, err)
	require.NotNil(t, accessToken)
	require.Empty(t, accessToken.RefreshTokenValue)
}

func TestRefreshAccessTokenNarrowsScope(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)

	first := f.createToken(t, testAuthentication())

	rotated, err := f.manager.RefreshAccessToken(context.Background(), first.RefreshTokenValue, oauth2.TokenRequest{
		Scope: testScopeRead,
	})
	require.NoError(t, err)
	require.Equal(t, []string{testScopeRead}, rotated.Scope)
}

func TestRefreshAccessTokenRejectsWidenedScope(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)

	authentication := testAuthentication()
	authentication.Scope = []string{testScopeRead}
	first := f.createToken(t, authentication)

	_, err := f.manager.RefreshAccessToken(context.Background(), first.RefreshTokenValue, oauth2.TokenRequest{
		Scope: testScopeRequest,
	})
	require.ErrorIs(t, err, tokenerrors.ErrInvalidScope)
}

func TestRefreshAccessTokenRejectsClientMismatch(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)

	first := f.createToken(t, testAuthentication())

	_, err := f.manager.RefreshAccessToken(context.Background(), first.RefreshTokenValue, oauth2.TokenRequest{
		ClientID: "other-client",
	})
	require.ErrorIs(t, err, tokenerrors.ErrInvalidGrant)
}

func TestLoadAuthenticationRoundTrip(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)

	accessToken := f.createToken(t, testAuthentication())

	authentication, err := f.manager.LoadAuthentication(context.Background(), accessToken.Value)
	require.NoError(t, err)
	require.Equal(t, testClientID, authentication.ClientID)
	require.Equal(t, testUserID, authentication.Principal)
	require.Equal(t, []string{testScopeRead, testScopeWrite}, authentication.Scope)
}

func TestLoadAuthenticationExpiredToken(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)

	accessToken := f.createToken(t, testAuthentication())
	f.advance(accessValidity + time.Minute)

	_, err := f.manager.LoadAuthentication(context.Background(), accessToken.Value)
	require.ErrorIs(t, err, tokenerrors.ErrInvalidToken)
}

func TestLoadAuthenticationUnknownToken(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.manager.LoadAuthentication(context.Background(), "no-such-token")
	require.ErrorIs(t, err, tokenerrors.ErrInvalidToken)
}

func TestReadAccessTokenUnknownValue(t *testing.T) {
	f := setupTestFixture(t)

	accessToken, err := f.manager.ReadAccessToken(context.Background(), "no-such-token")
	require.NoError(t, err)
	require.Nil(t, accessToken)
}

func TestGetAccessTokenNeverMints(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)

	accessToken, err := f.manager.GetAccessToken(context.Background(), testAuthentication())
	require.NoError(t, err)
	require.Nil(t, accessToken)

	minted := f.createToken(t, testAuthentication())

	found, err := f.manager.GetAccessToken(context.Background(), testAuthentication())
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, minted.Value, found.Value)
}

func TestRevokeAccessTokenDetachesRefreshToken(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)

	accessToken := f.createToken(t, testAuthentication())

	found, err := f.manager.RevokeToken(context.Background(), accessToken.Value)
	require.NoError(t, err)
	require.True(t, found)

	gone, err := f.manager.ReadAccessToken(context.Background(), accessToken.Value)
	require.NoError(t, err)
	require.Nil(t, gone)

	// The refresh token survives revocation of the access side, detached.
	refreshToken := f.refreshToken(t, accessToken.RefreshTokenValue)
	require.Empty(t, refreshToken.AccessTokenValue)
}

func TestRevokeRefreshTokenDetachesAccessToken(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)

	accessToken := f.createToken(t, testAuthentication())

	found, err := f.manager.RevokeToken(context.Background(), accessToken.RefreshTokenValue)
	require.NoError(t, err)
	require.True(t, found)

	_, err = f.store.FindRefreshTokenByValue(context.Background(), accessToken.RefreshTokenValue)
	require.ErrorIs(t, err, tokenerrors.ErrNotFound)

	survivor, err := f.manager.ReadAccessToken(context.Background(), accessToken.Value)
	require.NoError(t, err)
	require.NotNil(t, survivor)
	require.Empty(t, survivor.RefreshTokenValue)
}

func TestRevokeUnknownValue(t *testing.T) {
	f := setupTestFixture(t)

	found, err := f.manager.RevokeToken(context.Background(), "no-such-token")
	require.NoError(t, err)
	require.False(t, found)
}

func TestPartialSaveFailureLeavesNoOrphans(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)

	f.store.FailSaves = 1
	_, err := f.manager.CreateAccessToken(context.Background(), testAuthentication())
	require.ErrorIs(t, err, tokenerrors.ErrStoreUnavailable)

	// The freshly minted refresh token must not survive the failed mint.
	accessCount, refreshCount := f.store.Stats()
	require.Equal(t, 0, accessCount)
	require.Equal(t, 0, refreshCount)

	accessToken := f.createToken(t, testAuthentication())
	refreshToken := f.refreshToken(t, accessToken.RefreshTokenValue)
	require.Equal(t, accessToken.Value, refreshToken.AccessTokenValue)
}

func TestConcurrentDistinctAuthorizations(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)

	const workers = 16
	tokens := make([]*token.AccessToken, workers)

	group, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < workers; i++ {
		group.Go(func() error {
			authentication := testAuthentication()
			authentication.Principal = fmt.Sprintf("user-%d", i)
			accessToken, err := f.manager.CreateAccessToken(ctx, authentication)
			if err != nil {
				return err
			}
			tokens[i] = accessToken
			return nil
		})
	}
	require.NoError(t, group.Wait())

	seen := make(map[string]bool, workers)
	for _, accessToken := range tokens {
		require.False(t, seen[accessToken.Value])
		seen[accessToken.Value] = true
	}

	accessCount, _ := f.store.Stats()
	require.Equal(t, workers, accessCount)
}

// interleavingStore injects a competing operation right before a locked
// section runs, simulating another caller winning the key lock first.
type interleavingStore struct {
	token.Store
	mu     sync.Mutex
	before func(ctx context.Context)
}

func (s *interleavingStore) WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	before := s.before
	s.before = nil
	s.mu.Unlock()

	if before != nil {
		before(ctx)
	}
	return s.Store.WithKeyLock(ctx, key, fn)
}

func (f *testFixture) interleavingManager() (*token.Manager, *interleavingStore) {
	wrapped := &interleavingStore{Store: f.store}
	manager := token.New(
		wrapped,
		clients.NewResolver(f.clientRepo, config.New()),
		token.WithNowFunc(f.clock),
	)
	return manager, wrapped
}

func TestRefreshGrantRacingRotationKeepsOneLiveToken(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)
	manager, wrapped := f.interleavingManager()

	first, err := manager.CreateAccessToken(context.Background(), testAuthentication())
	require.NoError(t, err)
	f.advance(accessValidity + time.Minute)

	// Another issuance for the same authorization wins the lock first and
	// rotates the expired access token under the still-valid refresh token.
	var competing *token.AccessToken
	wrapped.before = func(ctx context.Context) {
		var err error
		competing, err = manager.CreateAccessToken(ctx, testAuthentication())
		require.NoError(t, err)
	}

	rotated, err := manager.RefreshAccessToken(context.Background(), first.RefreshTokenValue, oauth2.TokenRequest{})
	require.NoError(t, err)
	require.NotNil(t, competing)
	require.NotEqual(t, competing.Value, rotated.Value)

	// Exactly one live access token remains and both link directions agree.
	accessCount, refreshCount := f.store.Stats()
	require.Equal(t, 1, accessCount)
	require.Equal(t, 1, refreshCount)

	refreshToken := f.refreshToken(t, first.RefreshTokenValue)
	require.Equal(t, rotated.Value, refreshToken.AccessTokenValue)
	require.Equal(t, first.RefreshTokenValue, rotated.RefreshTokenValue)

	stale, err := manager.ReadAccessToken(context.Background(), competing.Value)
	require.NoError(t, err)
	require.Nil(t, stale)
}

func TestRevokeAccessTokenRacingRotation(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)
	manager, wrapped := f.interleavingManager()

	first, err := manager.CreateAccessToken(context.Background(), testAuthentication())
	require.NoError(t, err)
	f.advance(accessValidity + time.Minute)

	var competing *token.AccessToken
	wrapped.before = func(ctx context.Context) {
		var err error
		competing, err = manager.CreateAccessToken(ctx, testAuthentication())
		require.NoError(t, err)
	}

	// The value being revoked is rotated away before the lock is won; the
	// revocation must report not-found rather than touch the new pair.
	found, err := manager.RevokeToken(context.Background(), first.Value)
	require.NoError(t, err)
	require.False(t, found)

	require.NotNil(t, competing)
	survivor, err := manager.ReadAccessToken(context.Background(), competing.Value)
	require.NoError(t, err)
	require.NotNil(t, survivor)
	require.Equal(t, first.RefreshTokenValue, survivor.RefreshTokenValue)

	refreshToken := f.refreshToken(t, first.RefreshTokenValue)
	require.Equal(t, competing.Value, refreshToken.AccessTokenValue)
}

func TestRevokeRefreshTokenRacingRotation(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)
	manager, wrapped := f.interleavingManager()

	first, err := manager.CreateAccessToken(context.Background(), testAuthentication())
	require.NoError(t, err)
	f.advance(accessValidity + time.Minute)

	var competing *token.AccessToken
	wrapped.before = func(ctx context.Context) {
		var err error
		competing, err = manager.CreateAccessToken(ctx, testAuthentication())
		require.NoError(t, err)
	}

	found, err := manager.RevokeToken(context.Background(), first.RefreshTokenValue)
	require.NoError(t, err)
	require.True(t, found)

	_, err = f.store.FindRefreshTokenByValue(context.Background(), first.RefreshTokenValue)
	require.ErrorIs(t, err, tokenerrors.ErrNotFound)

	// The freshly rotated access token is the one that gets detached.
	require.NotNil(t, competing)
	survivor, err := manager.ReadAccessToken(context.Background(), competing.Value)
	require.NoError(t, err)
	require.NotNil(t, survivor)
	require.Empty(t, survivor.RefreshTokenValue)
}

func TestConcurrentSameAuthorization(t *testing.T) {
	f := setupTestFixture(t)
	f.registerDefaultClient(t)

	const workers = 16
	tokens := make([]*token.AccessToken, workers)

	group, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < workers; i++ {
		group.Go(func() error {
			accessToken, err := f.manager.CreateAccessToken(ctx, testAuthentication())
			if err != nil {
				return err
			}
			tokens[i] = accessToken
			return nil
		})
	}
	require.NoError(t, group.Wait())

	for _, accessToken := range tokens {
		require.Equal(t, tokens[0].Value, accessToken.Value)
	}

	accessCount, refreshCount := f.store.Stats()
	require.Equal(t, 1, accessCount)
	require.Equal(t, 1, refreshCount)
}
