package types

import "crypto/rsa"

// KeyPair is the node's long-lived RSA key material.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// Valid reports whether both halves are present.
func (k KeyPair) Valid() bool { return k.Private != nil && k.Public != nil }
