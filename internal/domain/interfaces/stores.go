package interfaces

import (
	"context"
	"time"

	domaintypes "peerchat/internal/domain/types"
)

// KeyStore persists the node keypair under a path derived from the node id.
type KeyStore interface {
	SaveKeyPair(id domaintypes.NodeID, keys domaintypes.KeyPair) error
	// LoadKeyPair returns ok=false when nothing is stored for id.
	LoadKeyPair(id domaintypes.NodeID) (keys domaintypes.KeyPair, ok bool, err error)
}

// CredentialStore verifies and creates login credentials. The core consumes
// it once at login and never keeps passwords.
type CredentialStore interface {
	Verify(username domaintypes.Username, password string) (bool, error)
	// Create returns false if the user already exists.
	Create(username domaintypes.Username, password string) (bool, error)
}

// MessageLog is durable chat history.
type MessageLog interface {
	// Save inserts m and returns its local id. ID is ignored; a zero
	// Timestamp means now.
	Save(ctx context.Context, m domaintypes.StoredMessage) (domaintypes.MessageID, error)
	// UpdateStatus moves row id, if it was sent by sender to recipient, to
	// status and reports whether the row changed. Only forward moves
	// (sent -> delivered -> read) are applied.
	UpdateStatus(
		ctx context.Context,
		id domaintypes.MessageID,
		sender, recipient domaintypes.Username,
		status domaintypes.MessageStatus,
	) (bool, error)
	// Delete removes one row; an unknown id is not an error.
	Delete(ctx context.Context, id domaintypes.MessageID) error
	Conversation(
		ctx context.Context,
		a, b domaintypes.Username,
		limit int,
	) ([]domaintypes.StoredMessage, error)
	Unread(ctx context.Context, recipient domaintypes.Username) ([]domaintypes.StoredMessage, error)
	// MarkRead moves every message from peer to reader to read and returns
	// the rows that changed.
	MarkRead(ctx context.Context, reader, peer domaintypes.Username) ([]domaintypes.StoredMessage, error)
	ClearOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
