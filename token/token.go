package token

import (
	"strings"
	"time"

	"github.com/warrenmnocos/oauth2/oauth2"
)

// BearerTokenType is the only token type this service issues.
const BearerTokenType = "bearer"

// AccessToken is the stored record of an issued bearer token. The linked
// refresh token is referenced by value, never by pointer, so the
// access↔refresh relationship stays two independent lookups.
type AccessToken struct {
	Value                    string    `json:"value"`
	TokenType                string    `json:"tokenType"`
	Scope                    []string  `json:"scope,omitempty"`
	Expiration               time.Time `json:"expiration"`
	RefreshTokenValue        string    `json:"refreshTokenValue,omitempty"`
	AuthenticationKey        string    `json:"authenticationKey"`
	SerializedAuthentication []byte    `json:"serializedAuthentication"`
}

// Expired reports whether the token's absolute expiration has passed.
func (t *AccessToken) Expired(now time.Time) bool {
	return !t.Expiration.IsZero() && !now.Before(t.Expiration)
}

// ExpiresIn returns the remaining lifetime in whole seconds, floored at zero.
func (t *AccessToken) ExpiresIn(now time.Time) int {
	remaining := int(t.Expiration.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RefreshToken is the stored record of a refresh credential. Its expiration
// clock is independent of the access token it backs; it may outlive several
// access tokens. AccessTokenValue is the mutable back-reference to the
// current access token, empty when detached.
type RefreshToken struct {
	Value            string    `json:"value"`
	Expiration       time.Time `json:"expiration"`
	AccessTokenValue string    `json:"accessTokenValue,omitempty"`
}

// Expired reports whether the token's absolute expiration has passed.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.Expiration.IsZero() && !now.Before(t.Expiration)
}

// Response maps a stored access token to the RFC 6749 wire representation.
func Response(accessToken *AccessToken, now time.Time) *oauth2.TokenResponse {
	return &oauth2.TokenResponse{
		AccessToken:  accessToken.Value,
		TokenType:    accessToken.TokenType,
		ExpiresIn:    accessToken.ExpiresIn(now),
		RefreshToken: accessToken.RefreshTokenValue,
		Scope:        JoinScopes(accessToken.Scope),
	}
}

// JoinScopes renders a scope set as the space-delimited wire form.
func JoinScopes(scope []string) string {
	return strings.Join(scope, " ")
}
