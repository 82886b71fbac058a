package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidStatus is returned for a status outside sent, delivered and read.
var ErrInvalidStatus = errors.New("invalid message status")

// MessageStatus tracks a persisted message through sent, delivered and read.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses; an unknown status ranks 0.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Valid reports whether s is one of the three known statuses.
func (s MessageStatus) Valid() bool { return s.Rank() > 0 }

// ParseMessageStatus validates a wire or user supplied status.
func ParseMessageStatus(s string) (MessageStatus, error) {
	st := MessageStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// StoredMessage is one row of the message log. RemoteID is the sender's own
// id for an inbound message and is what status updates refer to.
type StoredMessage struct {
	ID        MessageID     `json:"id"`
	RemoteID  MessageID     `json:"remote_id,omitempty"`
	Sender    Username      `json:"sender"`
	Recipient Username      `json:"recipient"`
	Message   string        `json:"message"`
	Encrypted bool          `json:"is_encrypted"`
	Status    MessageStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// InboundEvent is what Dispatch hands to subscribers after a message was
// decrypted and persisted.
type InboundEvent struct {
	Sender    Username  `json:"sender"`
	SenderID  NodeID    `json:"sender_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	MessageID MessageID `json:"message_id"`
}

// Receipt describes a message accepted by the remote peer.
type Receipt struct {
	MessageID MessageID
	PeerID    NodeID
	Timestamp time.Time
}
