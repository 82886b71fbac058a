package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

const (
	SaltBytes = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// NewSalt returns SaltBytes random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// HashPassword derives a 32-byte Argon2id digest of password under salt.
func HashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, KeyBytes)
}

// VerifyPassword recomputes the digest and compares in constant time.
func VerifyPassword(password string, salt, want []byte) bool {
	got := HashPassword(password, salt)
	defer Wipe(got)
	return subtle.ConstantTimeCompare(got, want) == 1
}
