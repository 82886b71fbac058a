package types

// SessionKeySize is the length of a symmetric session key in bytes (256 bit).
const SessionKeySize = 32

// SessionKey is a symmetric key shared with one peer in one direction.
type SessionKey [SessionKeySize]byte

// Slice returns the key as a []byte.
func (k SessionKey) Slice() []byte { return k[:] }

// Direction tells which side of a peer relationship negotiated a key.
type Direction uint8

const (
	// Outbound keys encrypt what we send to the peer.
	Outbound Direction = iota
	// Inbound keys decrypt what the peer sends to us.
	Inbound
)

// String returns "outbound" or "inbound".
func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}
