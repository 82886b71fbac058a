package interfaces

import (
	"context"
	"time"

	domaintypes "peerchat/internal/domain/types"
)

// IdentityService owns the local node identity.
type IdentityService interface {
	NodeID() domaintypes.NodeID
	Username() (domaintypes.Username, bool)
	SetUsername(name domaintypes.Username) error
	KeyPair() (domaintypes.KeyPair, error)
	PublicKeyPEM() (string, error)
	Fingerprint() (domaintypes.Fingerprint, error)
}

// PeerDirectory is the freshness-bounded membership table.
type PeerDirectory interface {
	Observe(a domaintypes.Announcement, ip string, now time.Time) bool
	ListActive(now time.Time) []domaintypes.PeerRecord
	Resolve(id domaintypes.NodeID, now time.Time) (domaintypes.PeerRecord, error)
	Lookup(name domaintypes.Username, now time.Time) (domaintypes.PeerRecord, error)
}

// SessionNegotiator establishes and holds per-peer session keys.
type SessionNegotiator interface {
	EnsureOutbound(ctx context.Context, peer domaintypes.PeerRecord) (domaintypes.SessionKey, error)
	AcceptWrapped(sender domaintypes.NodeID, wrapped string) error
	Inbound(sender domaintypes.NodeID) (domaintypes.SessionKey, bool)
	// Forget drops the outbound key for peer.
	Forget(peer domaintypes.NodeID)
}

// MessageService sends chat messages and status updates to peers.
type MessageService interface {
	Send(ctx context.Context, peer domaintypes.NodeID, plaintext string) (domaintypes.Receipt, error)
	SendStatus(
		ctx context.Context,
		peer domaintypes.NodeID,
		id domaintypes.MessageID,
		status domaintypes.MessageStatus,
	) error
}

// EventHandler consumes decrypted inbound messages.
type EventHandler func(domaintypes.InboundEvent)

// Dispatcher fans inbound events out to subscribers.
type Dispatcher interface {
	Subscribe(h EventHandler) (unsubscribe func())
	Deliver(ev domaintypes.InboundEvent)
}
