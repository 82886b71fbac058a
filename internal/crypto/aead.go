package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeyBytes   = chacha20poly1305.KeySize
	NonceBytes = chacha20poly1305.NonceSize
	TagBytes   = chacha20poly1305.Overhead
)

// ErrOpen is returned by Open for any authentication failure.
var ErrOpen = errors.New("ciphertext authentication failed")

// Sealed is an AEAD output with the tag carried separately.
type Sealed struct {
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
}

// Seal encrypts plaintext under key with a fresh random nonce. ad is bound
// into the tag but not encrypted.
func Seal(key, plaintext, ad []byte) (Sealed, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return Sealed{}, err
	}
	nonce := make([]byte, NonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, err
	}
	out := aead.Seal(nil, nonce, plaintext, ad)
	split := len(out) - TagBytes
	return Sealed{
		Nonce:      nonce,
		Ciphertext: out[:split:split],
		Tag:        out[split:],
	}, nil
}

// Open verifies and decrypts s.
func Open(key []byte, s Sealed, ad []byte) ([]byte, error) {
	if len(s.Nonce) != NonceBytes {
		return nil, fmt.Errorf("%w: bad nonce size %d", ErrOpen, len(s.Nonce))
	}
	if len(s.Tag) != TagBytes {
		return nil, fmt.Errorf("%w: bad tag size %d", ErrOpen, len(s.Tag))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	joined := make([]byte, 0, len(s.Ciphertext)+TagBytes)
	joined = append(joined, s.Ciphertext...)
	joined = append(joined, s.Tag...)
	pt, err := aead.Open(nil, s.Nonce, joined, ad)
	if err != nil {
		return nil, ErrOpen
	}
	return pt, nil
}
