package oauth2

// GrantType represents the OAuth 2.0 grant type used at the token endpoint.
// Determines what credentials are required to obtain tokens.
type GrantType string

const (
	// PasswordGrant exchanges resource-owner credentials for tokens.
	// Token request includes: username, password, client_id, client_secret, scope
	PasswordGrant GrantType = "password"

	// ClientCredentialsGrant allows machine-to-machine authentication.
	// Token request includes: client_id, client_secret, scope
	// Returns: access_token (no refresh_token)
	ClientCredentialsGrant GrantType = "client_credentials"

	// RefreshTokenGrant exchanges a refresh token for a new access token.
	// Token request includes: refresh_token, client_id, client_secret
	// The refresh token survives the exchange; only the access side rotates.
	RefreshTokenGrant GrantType = "refresh_token"
)

// ErrorResponse is the RFC 6749 error body returned by the token endpoint.
type ErrorResponse struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// Standard RFC 6749 / RFC 7662 error codes.
const (
	ErrorInvalidRequest       = "invalid_request"
	ErrorInvalidClient        = "invalid_client"
	ErrorInvalidGrant         = "invalid_grant"
	ErrorInvalidToken         = "invalid_token"
	ErrorInvalidScope         = "invalid_scope"
	ErrorUnsupportedGrantType = "unsupported_grant_type"
	ErrorServerError          = "server_error"
)
