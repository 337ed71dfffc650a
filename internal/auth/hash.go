package auth

import (
	"crypto/sha256"
	"fmt"
)

// HashToken hashes an opaque refresh token for at-rest storage.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
