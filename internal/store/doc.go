// Package store provides on-disk persistence for peerchat.
//
// It contains concrete implementations of the domain storage interfaces:
//   - Node keypairs as PEM files under <home>/keys/<node-id>/ (KeyFileStore).
//     The private key is optionally sealed with a passphrase.
//   - Login credentials in <home>/users.json, Argon2id hashed (CredentialFileStore)
//   - Chat history in a SQLite database (SQLiteMessageLog)
//
// All methods are safe for concurrent use.
package store
