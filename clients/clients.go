package clients

import (
	"strings"
	"time"
)

// Client holds the registration metadata for an OAuth2 client. The validity
// windows are zero when the registration does not set them; the Resolver fills
// in the configured defaults before the client reaches the token manager.
type Client struct {
	ID                   string        `json:"id"`
	Secret               string        `json:"secret"`
	Description          string        `json:"description"`
	Scopes               []string      `json:"scopes"`     // Allowed scopes for this client
	GrantTypes           []string      `json:"grantTypes"` // Allowed grant types (e.g. "password", "refresh_token")
	AccessTokenValidity  time.Duration `json:"accessTokenValidity"`
	RefreshTokenValidity time.Duration `json:"refreshTokenValidity"`
}

// AllowsGrantType checks if the client may use a specific grant type
func (c *Client) AllowsGrantType(grantType string) bool {
	for _, g := range c.GrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// HasScope checks if the client has permission for a specific scope
func (c *Client) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ValidateScopes checks if all requested scopes are allowed for this client
func (c *Client) ValidateScopes(requestedScopes string) error {
	if requestedScopes == "" {
		return nil
	}

	for _, scope := range SplitScopes(requestedScopes) {
		if !c.HasScope(scope) {
			return ErrInvalidScope
		}
	}
	return nil
}

// SplitScopes splits a space-delimited scope string, dropping empty entries.
func SplitScopes(scopes string) []string {
	result := []string{}
	for _, s := range strings.Split(scopes, " ") {
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}
