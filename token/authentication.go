package token

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Authentication is the authorization context a caller establishes before
// asking for tokens: which client, which principal (empty for
// client-credential flows), what scope, and through which grant. It is
// serialized onto the access-token record so the original context can be
// reconstructed at read time.
type Authentication struct {
	ClientID  string   `json:"client_id"`
	Principal string   `json:"principal,omitempty"`
	Scope     []string `json:"scope,omitempty"`
	GrantType string   `json:"grant_type,omitempty"`
}

// Serialize encodes the authentication context for storage on a token record.
func (a *Authentication) Serialize() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, errors.Wrap(err, "Authentication.Serialize")
	}
	return data, nil
}

// DeserializeAuthentication decodes a stored authentication context.
func DeserializeAuthentication(data []byte) (*Authentication, error) {
	var a Authentication
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, errors.Wrap(err, "DeserializeAuthentication")
	}
	return &a, nil
}
