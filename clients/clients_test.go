package clients_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warrenmnocos/oauth2/clients"
)

func testClient() *clients.Client {
	return &clients.Client{
		ID:         "test-client-1",
		Scopes:     []string{"read", "write"},
		GrantTypes: []string{"password", "refresh_token"},
	}
}

func TestAllowsGrantType(t *testing.T) {
	client := testClient()
	require.True(t, client.AllowsGrantType("password"))
	require.True(t, client.AllowsGrantType("refresh_token"))
	require.False(t, client.AllowsGrantType("client_credentials"))
}

func TestValidateScopes(t *testing.T) {
	client := testClient()
	require.NoError(t, client.ValidateScopes(""))
	require.NoError(t, client.ValidateScopes("read"))
	require.NoError(t, client.ValidateScopes("read write"))
	require.ErrorIs(t, client.ValidateScopes("read admin"), clients.ErrInvalidScope)
}

func TestSplitScopes(t *testing.T) {
	require.Equal(t, []string{"read", "write"}, clients.SplitScopes("read write"))
	require.Equal(t, []string{"read"}, clients.SplitScopes("  read  "))
	require.Empty(t, clients.SplitScopes(""))
}
