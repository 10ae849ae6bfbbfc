package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	tokenerrors "github.com/warrenmnocos/oauth2/internal/errors"
	"github.com/warrenmnocos/oauth2/token"
)

var _ token.Store = (*Store)(nil)

// recordGrace keeps token records readable past their expiration so the
// manager can still walk the access↔refresh links while rotating.
const recordGrace = 7 * 24 * time.Hour

const lockRetryInterval = 10 * time.Millisecond

// deleteAccessScript removes an access token record and its key-index entry,
// but only when the index still points at the record being deleted.
const deleteAccessScript = `
local existed = redis.call("DEL", KEYS[1])
local current = redis.call("GET", KEYS[2])
if current == ARGV[1] then
  redis.call("DEL", KEYS[2])
end
return existed
`

// unlockScript releases a key lock only for the holder that acquired it.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	deleteAccessLua = redis.NewScript(deleteAccessScript)
	unlockLua       = redis.NewScript(unlockScript)
)

// Store is a Redis-backed token store. Access tokens are stored by value
// with a secondary authentication-key index; refresh tokens by value.
// Per-key mutual exclusion uses a SET NX lock with a holder token.
type Store struct {
	client  *redis.Client
	prefix  string
	lockTTL time.Duration
	nowFunc func() time.Time
}

type Option func(*Store)

// WithPrefix changes the key namespace (default "oauth2")
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithLockTTL bounds how long a crashed holder can keep a key locked
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.lockTTL = ttl
	}
}

// WithNowFunc sets the clock used for record TTLs (primarily for testing)
func WithNowFunc(nowFunc func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = nowFunc
	}
}

func New(client *redis.Client, options ...Option) *Store {
	s := &Store{
		client:  client,
		prefix:  "oauth2",
		lockTTL: 5 * time.Second,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *Store) accessKey(value string) string  { return s.prefix + ":access:" + value }
func (s *Store) indexKey(key string) string     { return s.prefix + ":key:" + key }
func (s *Store) refreshKey(value string) string { return s.prefix + ":refresh:" + value }
func (s *Store) lockKey(key string) string      { return s.prefix + ":lock:" + key }

func (s *Store) FindAccessTokenByKey(ctx context.Context, key string) (*token.AccessToken, error) {
	value, err := s.client.Get(ctx, s.indexKey(key)).Result()
	if err != nil {
		return nil, translate(err, "redisstore.FindAccessTokenByKey index")
	}
	return s.FindAccessTokenByValue(ctx, value)
}

func (s *Store) FindAccessTokenByValue(ctx context.Context, value string) (*token.AccessToken, error) {
	raw, err := s.client.Get(ctx, s.accessKey(value)).Bytes()
	if err != nil {
		return nil, translate(err, "redisstore.FindAccessTokenByValue")
	}

	var accessToken token.AccessToken
	if err := json.Unmarshal(raw, &accessToken); err != nil {
		return nil, errors.Wrap(tokenerrors.ErrStoreUnavailable, "redisstore.FindAccessTokenByValue corrupt record")
	}
	return &accessToken, nil
}

func (s *Store) FindRefreshTokenByValue(ctx context.Context, value string) (*token.RefreshToken, error) {
	raw, err := s.client.Get(ctx, s.refreshKey(value)).Bytes()
	if err != nil {
		return nil, translate(err, "redisstore.FindRefreshTokenByValue")
	}

	var refreshToken token.RefreshToken
	if err := json.Unmarshal(raw, &refreshToken); err != nil {
		return nil, errors.Wrap(tokenerrors.ErrStoreUnavailable, "redisstore.FindRefreshTokenByValue corrupt record")
	}
	return &refreshToken, nil
}

func (s *Store) SaveAccessToken(ctx context.Context, accessToken *token.AccessToken) error {
	raw, err := json.Marshal(accessToken)
	if err != nil {
		return errors.Wrap(err, "redisstore.SaveAccessToken marshal")
	}

	ttl := s.recordTTL(accessToken.Expiration)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.accessKey(accessToken.Value), raw, ttl)
		pipe.Set(ctx, s.indexKey(accessToken.AuthenticationKey), accessToken.Value, ttl)
		return nil
	})
	if err != nil {
		return translate(err, "redisstore.SaveAccessToken")
	}
	return nil
}

func (s *Store) SaveRefreshToken(ctx context.Context, refreshToken *token.RefreshToken) error {
	raw, err := json.Marshal(refreshToken)
	if err != nil {
		return errors.Wrap(err, "redisstore.SaveRefreshToken marshal")
	}

	if err := s.client.Set(ctx, s.refreshKey(refreshToken.Value), raw, s.recordTTL(refreshToken.Expiration)).Err(); err != nil {
		return translate(err, "redisstore.SaveRefreshToken")
	}
	return nil
}

func (s *Store) DeleteAccessToken(ctx context.Context, value string) error {
	accessToken, err := s.FindAccessTokenByValue(ctx, value)
	if err != nil {
		if errors.Is(err, tokenerrors.ErrNotFound) {
			return nil
		}
		return err
	}

	keys := []string{s.accessKey(value), s.indexKey(accessToken.AuthenticationKey)}
	if err := deleteAccessLua.Run(ctx, s.client, keys, value).Err(); err != nil && err != redis.Nil {
		return translate(err, "redisstore.DeleteAccessToken")
	}
	return nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, value string) error {
	if err := s.client.Del(ctx, s.refreshKey(value)).Err(); err != nil {
		return translate(err, "redisstore.DeleteRefreshToken")
	}
	return nil
}

// WithKeyLock serializes callers per authentication key across every process
// sharing the Redis instance. The lock expires after lockTTL so a crashed
// holder cannot wedge the key.
func (s *Store) WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	holder := uuid.New().String()
	lockKey := s.lockKey(key)

	for {
		acquired, err := s.client.SetNX(ctx, lockKey, holder, s.lockTTL).Result()
		if err != nil {
			return translate(err, "redisstore.WithKeyLock acquire")
		}
		if acquired {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(tokenerrors.ErrStoreUnavailable, "redisstore.WithKeyLock timed out")
		case <-time.After(lockRetryInterval):
		}
	}
	defer func() {
		_ = unlockLua.Run(context.WithoutCancel(ctx), s.client, []string{lockKey}, holder).Err()
	}()

	return fn(ctx)
}

func (s *Store) recordTTL(expiration time.Time) time.Duration {
	if expiration.IsZero() {
		return 0
	}
	ttl := expiration.Sub(s.nowFunc()) + recordGrace
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func translate(err error, op string) error {
	if err == redis.Nil {
		return errors.Wrap(tokenerrors.ErrNotFound, op)
	}
	return errors.Wrapf(tokenerrors.ErrStoreUnavailable, "%s: %v", op, err)
}
