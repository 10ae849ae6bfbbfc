package jwt_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warrenmnocos/oauth2/token"
	tokenjwt "github.com/warrenmnocos/oauth2/token/jwt"
)

const (
	secretStr = "1234"
	issuer    = "com.testissuer"
)

func TestEnhanceProducesVerifiableToken(t *testing.T) {
	enhancer := tokenjwt.NewEnhancer(secretStr, issuer)

	expiration := time.Now().Add(time.Hour).Truncate(time.Second)
	accessToken := &token.AccessToken{
		Value:      "opaque-value",
		TokenType:  token.BearerTokenType,
		Scope:      []string{"read", "write"},
		Expiration: expiration,
	}
	authentication := &token.Authentication{
		ClientID:  "test-client-1",
		Principal: "user-1",
		Scope:     []string{"read", "write"},
	}

	enhanced, err := enhancer.Enhance(context.Background(), accessToken, authentication)
	require.NoError(t, err)
	require.NotEqual(t, accessToken.Value, enhanced.Value)

	claims, err := enhancer.Verify(enhanced.Value)
	require.NoError(t, err)
	require.Equal(t, issuer, claims["iss"])
	require.Equal(t, "test-client-1", claims["aud"])
	require.Equal(t, "user-1", claims["sub"])
	require.Equal(t, "read write", claims["scope"])
	require.Equal(t, float64(expiration.Unix()), claims["exp"])

	// The opaque value survives as the token id, so revocation by value
	// still reaches the stored record.
	require.Equal(t, "opaque-value", claims["jti"])
}

func TestEnhanceClientOnlySubject(t *testing.T) {
	enhancer := tokenjwt.NewEnhancer(secretStr, issuer)

	accessToken := &token.AccessToken{
		Value:      "opaque-value",
		Expiration: time.Now().Add(time.Hour),
	}
	authentication := &token.Authentication{ClientID: "test-client-1"}

	enhanced, err := enhancer.Enhance(context.Background(), accessToken, authentication)
	require.NoError(t, err)

	claims, err := enhancer.Verify(enhanced.Value)
	require.NoError(t, err)
	require.Equal(t, "test-client-1", claims["sub"])
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	enhancer := tokenjwt.NewEnhancer(secretStr, issuer)

	accessToken := &token.AccessToken{
		Value:      "opaque-value",
		Expiration: time.Now().Add(time.Hour),
	}
	enhanced, err := enhancer.Enhance(context.Background(), accessToken, &token.Authentication{ClientID: "test-client-1"})
	require.NoError(t, err)

	other := tokenjwt.NewEnhancer("different-secret", issuer)
	_, err = other.Verify(enhanced.Value)
	require.Error(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	enhancer := tokenjwt.NewEnhancer(secretStr, issuer)

	_, err := enhancer.Verify("not-a-jwt")
	require.Error(t, err)
}
