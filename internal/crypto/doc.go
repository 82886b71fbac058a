// Package crypto exposes the minimal primitives used by peerchat.
//
// Contents
//
//   - RSA-2048 key generation and PEM import/export (GenerateRSA,
//     MarshalPublicPEM, ParsePublicPEM, MarshalPrivatePEM, ParsePrivatePEM)
//   - RSA-OAEP (SHA-256) wrapping of symmetric session keys (WrapKey, UnwrapKey)
//   - ChaCha20-Poly1305 sealing with a detached tag (Seal, Open)
//   - Argon2id password hashing for the credential store (HashPassword)
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// Open fails closed: any modification of nonce, ciphertext, tag or associated
// data yields an error and no plaintext.
package crypto
