// Package crypto provides password hashing for the credential store.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	saltLength = 16
	hashLength = 32

	// Argon2id parameters: 1 pass, 64 MiB, 4 lanes.
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// GenerateSalt returns a random 16-byte salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	return salt, nil
}

// HashPassword hashes a password with Argon2id and the given salt.
func HashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, hashLength)
}

// VerifyPassword reports whether password matches the stored digest.
// The comparison is constant-time.
func VerifyPassword(password string, salt, digest []byte) bool {
	candidate := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(candidate, digest) == 1
}
