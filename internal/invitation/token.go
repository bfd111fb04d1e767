package invitation

import (
	"encoding/hex"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// NewToken returns a random link token and the digest stored in its place.
func NewToken() (token, digest string) {
	token = uuid.NewString()
	return token, Digest(token)
}

// Digest is the BLAKE2b-256 hex digest of a link token.
func Digest(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
