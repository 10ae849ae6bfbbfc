package clients

import clienterrors "github.com/warrenmnocos/oauth2/internal/errors"

// Aliases into the shared taxonomy so callers match one chain with errors.Is.
var (
	ErrClientNotFound = clienterrors.ErrClientNotFound
	ErrInvalidScope   = clienterrors.ErrInvalidScope
)
