package oauth2

// TokenRequest holds parameters for the OAuth2 token request.
// This represents the request body sent to the /oauth/token endpoint.
// Supports the password, client_credentials and refresh_token grant types.
type TokenRequest struct {
	// GrantType selects the token acquisition mode.
	// Required: Yes
	// Example: "refresh_token"
	GrantType GrantType

	// ClientID identifies the OAuth2 client making the request.
	// Required: Yes (for all grant types)
	// Example: "web-app-client"
	ClientID string

	// ClientSecret is the secret credential for confidential clients.
	// Required: Yes for confidential clients
	// Security: Never log or expose this value
	ClientSecret string

	// Username identifies the resource owner for the password grant.
	// Required: Yes (only for password grant)
	Username string

	// Password is the resource owner's password for the password grant.
	// Required: Yes (only for password grant)
	// Security: Never log or expose this value
	Password string

	// RefreshToken is used to obtain new access tokens without re-authentication.
	// Required: Yes (only for refresh_token grant)
	// Example: "tGzv3JOkF0XG5Qx2TlKWIA"
	RefreshToken string

	// Scope is the space-delimited set of permissions being requested.
	// Required: No
	// Example: "profile api.read"
	// On refresh, may narrow but never widen the original grant.
	Scope string
}
