package oauth2

// TokenResponse represents the response from an OAuth2 token request.
// This is the standard OAuth2 token endpoint response format as defined in RFC 6749.
// Returned from the /oauth/token endpoint for all grant types.
type TokenResponse struct {
	// AccessToken is the opaque bearer token used to access protected resources.
	// Usage: Include in Authorization header: "Bearer <access_token>"
	AccessToken string `json:"access_token"`

	// TokenType indicates how to use the access token (always "bearer" in this implementation).
	// Standard: OAuth2 spec requires this field
	TokenType string `json:"token_type"`

	// ExpiresIn is the remaining lifetime in seconds of the access token.
	// Derived from the stored absolute expiration, floored at zero.
	ExpiresIn int `json:"expires_in"`

	// RefreshToken is an opaque token used to obtain new access tokens.
	// Usage: Send to /oauth/token with grant_type=refresh_token
	// Only present when the client's grant types include refresh_token.
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope indicates the access token's granted permissions.
	// Example: "profile api.read"
	// Usage: Space-separated list of scopes
	Scope string `json:"scope,omitempty"`
}
