package types

// Username is the display name a node announces after login.
type Username string

// String returns the string form of the username.
func (u Username) String() string { return string(u) }

// NodeID is the random per-process identifier a node announces.
type NodeID string

// String returns the string form of the node id.
func (id NodeID) String() string { return string(id) }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// MessageID identifies a row in the local message log.
type MessageID int64
