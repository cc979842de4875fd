package idconnect

import (
	"crypto/rand"
	"encoding/base64"

	"moff.io/idconnect/pkg/errors"
)

// TokenGenerator produces correlation tokens.
type TokenGenerator func() (string, error)

const stateTokenBits = 256

// NewStateToken returns 256 random bits encoded as unpadded base64url.
func NewStateToken() (string, error) {
	b := make([]byte, stateTokenBits/8)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "generate state token")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
