package token

import "context"

// Enhancer post-processes a freshly minted access token before it is
// persisted, e.g. to replace the opaque value with a signed representation.
// Implementations must return a token that is still unique by value.
type Enhancer interface {
	Enhance(ctx context.Context, accessToken *AccessToken, authentication *Authentication) (*AccessToken, error)
}
