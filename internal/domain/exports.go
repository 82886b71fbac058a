package domain

import (
	interfaces "peerchat/internal/domain/interfaces"
	types "peerchat/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	Username      = types.Username
	NodeID        = types.NodeID
	Fingerprint   = types.Fingerprint
	MessageID     = types.MessageID
	KeyPair       = types.KeyPair
	SessionKey    = types.SessionKey
	Direction     = types.Direction
	MessageStatus = types.MessageStatus
	StoredMessage = types.StoredMessage
	InboundEvent  = types.InboundEvent
	Receipt       = types.Receipt
	Announcement  = types.Announcement
	PeerRecord    = types.PeerRecord
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	IdentityService   = interfaces.IdentityService
	PeerDirectory     = interfaces.PeerDirectory
	SessionNegotiator = interfaces.SessionNegotiator
	MessageService    = interfaces.MessageService
	EventHandler      = interfaces.EventHandler
	Dispatcher        = interfaces.Dispatcher
	KeyStore          = interfaces.KeyStore
	CredentialStore   = interfaces.CredentialStore
	MessageLog        = interfaces.MessageLog
)

const (
	SessionKeySize = types.SessionKeySize

	Outbound = types.Outbound
	Inbound  = types.Inbound

	StatusSent      = types.StatusSent
	StatusDelivered = types.StatusDelivered
	StatusRead      = types.StatusRead
)

// ParseMessageStatus validates a wire or user supplied status.
func ParseMessageStatus(s string) (MessageStatus, error) { return types.ParseMessageStatus(s) }
