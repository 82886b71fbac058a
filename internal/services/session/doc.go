// Package session negotiates and holds per-peer session keys.
//
// Keys are directional. The outbound key for a peer is generated locally,
// wrapped to the peer's RSA public key with OAEP and delivered in a
// session_key packet; the peer stores it as its inbound key for us. Both
// tables are last-write-wins and live for the lifetime of the process.
package session
