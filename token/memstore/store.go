package memstore

import (
	"context"
	"sync"

	tokenerrors "github.com/warrenmnocos/oauth2/internal/errors"
	"github.com/warrenmnocos/oauth2/token"
)

var _ token.Store = (*Store)(nil)

// Store is an in-memory token store. Records are indexed by value with a
// secondary authentication-key index, mirroring the two-lookup shape of the
// persistent backends. It is the default backend when no Redis address is
// configured, and the fixture the manager tests run against.
type Store struct {
	access  map[string]*token.AccessToken // access token value -> record
	keys    map[string]string             // authentication key -> access token value
	refresh map[string]*token.RefreshToken
	lock    sync.RWMutex

	keyLocks map[string]*sync.Mutex
	lockMu   sync.Mutex

	// FailSaves, when set, makes the next n access-token saves fail with
	// ErrStoreUnavailable. Tests use it to exercise compensating cleanup.
	FailSaves int
}

func New() *Store {
	return &Store{
		access:   make(map[string]*token.AccessToken),
		keys:     make(map[string]string),
		refresh:  make(map[string]*token.RefreshToken),
		keyLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) FindAccessTokenByKey(ctx context.Context, key string) (*token.AccessToken, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	value, ok := s.keys[key]
	if !ok {
		return nil, tokenerrors.ErrNotFound
	}
	accessToken, ok := s.access[value]
	if !ok {
		return nil, tokenerrors.ErrNotFound
	}
	return copyAccessToken(accessToken), nil
}

func (s *Store) FindAccessTokenByValue(ctx context.Context, value string) (*token.AccessToken, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	accessToken, ok := s.access[value]
	if !ok {
		return nil, tokenerrors.ErrNotFound
	}
	return copyAccessToken(accessToken), nil
}

func (s *Store) FindRefreshTokenByValue(ctx context.Context, value string) (*token.RefreshToken, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	refreshToken, ok := s.refresh[value]
	if !ok {
		return nil, tokenerrors.ErrNotFound
	}
	copied := *refreshToken
	return &copied, nil
}

func (s *Store) SaveAccessToken(ctx context.Context, accessToken *token.AccessToken) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.FailSaves > 0 {
		s.FailSaves--
		return tokenerrors.ErrStoreUnavailable
	}

	s.access[accessToken.Value] = copyAccessToken(accessToken)
	s.keys[accessToken.AuthenticationKey] = accessToken.Value
	return nil
}

func (s *Store) SaveRefreshToken(ctx context.Context, refreshToken *token.RefreshToken) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	copied := *refreshToken
	s.refresh[refreshToken.Value] = &copied
	return nil
}

func (s *Store) DeleteAccessToken(ctx context.Context, value string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	accessToken, ok := s.access[value]
	if !ok {
		return nil
	}
	if s.keys[accessToken.AuthenticationKey] == value {
		delete(s.keys, accessToken.AuthenticationKey)
	}
	delete(s.access, value)
	return nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, value string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.refresh, value)
	return nil
}

// WithKeyLock serializes callers per authentication key so the manager's
// read-modify-write sequence cannot interleave for the same authorization.
func (s *Store) WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	mu := s.keyLock(key)
	mu.Lock()
	defer mu.Unlock()
	return fn(ctx)
}

func (s *Store) keyLock(key string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	mu, ok := s.keyLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.keyLocks[key] = mu
	}
	return mu
}

// Stats reports the number of stored access and refresh tokens.
func (s *Store) Stats() (accessTokens, refreshTokens int) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.access), len(s.refresh)
}

func copyAccessToken(accessToken *token.AccessToken) *token.AccessToken {
	copied := *accessToken
	copied.Scope = append([]string(nil), accessToken.Scope...)
	copied.SerializedAuthentication = append([]byte(nil), accessToken.SerializedAuthentication...)
	return &copied
}
