package token

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	tokenerrors "github.com/warrenmnocos/oauth2/internal/errors"
)

// ValueGenerator produces candidate token values. The manager re-invokes it
// until the value is absent from the store, so implementations only need
// unguessability, not guaranteed uniqueness.
type ValueGenerator interface {
	Generate() (string, error)
}

// DigestValueGenerator draws from the platform random source and hashes the
// draw into a fixed-width hex digest. The hash normalises length and
// character set; the randomness is what makes the value unguessable.
type DigestValueGenerator struct{}

var _ ValueGenerator = DigestValueGenerator{}

func (DigestValueGenerator) Generate() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		// A broken random source is fatal, not a per-request condition.
		return "", errors.Wrap(tokenerrors.ErrConfiguration, "DigestValueGenerator random source failed")
	}

	digest := sha256.Sum256(value[:])
	return hex.EncodeToString(digest[:]), nil
}
