package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warrenmnocos/oauth2/auth"
	autherrors "github.com/warrenmnocos/oauth2/internal/errors"
	"github.com/warrenmnocos/oauth2/users"
	fakeuserrepo "github.com/warrenmnocos/oauth2/users/repofake"
)

const (
	testUserID       = "user-1"
	testUsername     = "john.doe"
	testUserPassword = "Password123"
)

func setupAuthenticator(t *testing.T, mutate func(*users.User)) *auth.PasswordAuthenticator {
	t.Helper()

	passwordHash, err := users.HashPassword(testUserPassword)
	require.NoError(t, err)

	user := &users.User{
		ID:           testUserID,
		Username:     testUsername,
		PasswordHash: passwordHash,
		Verified:     true,
	}
	if mutate != nil {
		mutate(user)
	}

	repo := fakeuserrepo.NewFakeUserRepo()
	require.NoError(t, repo.Upsert(user))

	return auth.NewPasswordAuthenticator(repo)
}

func TestValidateSuccess(t *testing.T) {
	authenticator := setupAuthenticator(t, nil)

	principal, err := authenticator.Validate(context.Background(), auth.Credentials{
		Username: testUsername,
		Password: testUserPassword,
	})
	require.NoError(t, err)
	require.Equal(t, testUserID, principal.ID)
	require.Equal(t, testUsername, principal.Username)
}

func TestValidateWrongPassword(t *testing.T) {
	authenticator := setupAuthenticator(t, nil)

	_, err := authenticator.Validate(context.Background(), auth.Credentials{
		Username: testUsername,
		Password: "wrong-password",
	})
	require.ErrorIs(t, err, autherrors.ErrInvalidCredentials)
}

func TestValidateUnknownUser(t *testing.T) {
	authenticator := setupAuthenticator(t, nil)

	_, err := authenticator.Validate(context.Background(), auth.Credentials{
		Username: "nobody",
		Password: testUserPassword,
	})
	require.ErrorIs(t, err, autherrors.ErrInvalidCredentials)
}

func TestValidateBlockedUser(t *testing.T) {
	authenticator := setupAuthenticator(t, func(u *users.User) {
		u.Blocked = true
	})

	_, err := authenticator.Validate(context.Background(), auth.Credentials{
		Username: testUsername,
		Password: testUserPassword,
	})
	require.ErrorIs(t, err, autherrors.ErrUserBlocked)
}

func TestValidateUnverifiedUser(t *testing.T) {
	authenticator := setupAuthenticator(t, func(u *users.User) {
		u.Verified = false
	})

	_, err := authenticator.Validate(context.Background(), auth.Credentials{
		Username: testUsername,
		Password: testUserPassword,
	})
	require.ErrorIs(t, err, autherrors.ErrUserNotVerified)
}
