// Package packet defines the JSON packets exchanged between peerchat nodes.
//
// Every packet is a single JSON object with a "type" discriminator:
//
//   - discovery:      UDP presence announcement
//   - session_key:    RSA-OAEP wrapped session key, TCP
//   - secure_message: AEAD-encrypted chat message, TCP
//   - status_update:  delivery/read receipt for a message id, TCP
//
// Decode is fail closed: a packet with an unknown type, a missing required
// field or trailing garbage is rejected and never partially applied.
package packet
