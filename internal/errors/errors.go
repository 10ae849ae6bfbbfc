package errors

import (
	"errors"
	"fmt"
)

// Common error types for the OAuth2 token service
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserBlocked        = errors.New("user is blocked")
	ErrUserNotVerified    = errors.New("user is not verified")
	ErrUserNotFound       = errors.New("user not found")

	// Token errors
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidGrant = errors.New("invalid grant")

	// Client errors
	ErrClientNotFound = errors.New("client not found")
	ErrInvalidClient  = errors.New("invalid client")
	ErrInvalidScope   = errors.New("invalid scope")

	// Persistence errors
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrNotFound         = errors.New("not found")

	// Fatal startup errors
	ErrConfiguration = errors.New("configuration error")

	// General errors
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
