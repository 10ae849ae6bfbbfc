package auth

import (
	"context"

	"github.com/pkg/errors"

	autherrors "github.com/warrenmnocos/oauth2/internal/errors"
	"github.com/warrenmnocos/oauth2/users"
)

// Credentials carries the resource-owner credentials presented on a
// password-grant token request.
type Credentials struct {
	Username string
	Password string
}

// Principal is the authenticated identity handed to the token manager.
type Principal struct {
	ID       string
	Username string
}

// Authenticator validates resource-owner credentials. The token service
// treats credential verification as an external collaborator; this is the
// boundary it calls through.
type Authenticator interface {
	Validate(ctx context.Context, credentials Credentials) (*Principal, error)
}

// PasswordAuthenticator verifies credentials against stored bcrypt hashes.
type PasswordAuthenticator struct {
	userRepo users.UserRepo
}

var _ Authenticator = (*PasswordAuthenticator)(nil)

func NewPasswordAuthenticator(userRepo users.UserRepo) *PasswordAuthenticator {
	return &PasswordAuthenticator{userRepo: userRepo}
}

func (a *PasswordAuthenticator) Validate(ctx context.Context, credentials Credentials) (*Principal, error) {
	user, err := a.userRepo.GetByUsername(credentials.Username)
	if err != nil || user == nil {
		return nil, errors.Wrap(autherrors.ErrInvalidCredentials, "PasswordAuthenticator.Validate GetByUsername")
	}

	if !users.CheckPasswordHash(credentials.Password, user.PasswordHash) {
		return nil, errors.Wrap(autherrors.ErrInvalidCredentials, "PasswordAuthenticator.Validate password mismatch")
	}

	if user.Blocked {
		return nil, errors.Wrap(autherrors.ErrUserBlocked, "PasswordAuthenticator.Validate")
	}
	if !user.Verified {
		return nil, errors.Wrap(autherrors.ErrUserNotVerified, "PasswordAuthenticator.Validate")
	}

	return &Principal{
		ID:       user.ID,
		Username: user.Username,
	}, nil
}
