// Package identity owns the local node identity: a random 8-hex node id, a
// display name that can be set once, and the RSA keypair loaded from or
// persisted to the domain.KeyStore.
package identity
