package domain

import (
	"errors"

	types "peerchat/internal/domain/types"
)

var (
	// ErrNoIdentity is returned when an operation needs a username or keypair
	// that has not been established yet.
	ErrNoIdentity = errors.New("identity not established")
	// ErrIdentityFrozen is returned when the display name is set twice.
	ErrIdentityFrozen = errors.New("display name already set")

	// ErrUnknownPeer means the directory holds no fresh record for the id.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrPeerUnavailable means a send target is not currently listed as active.
	ErrPeerUnavailable = errors.New("peer unavailable")

	ErrHandshakeFailed = errors.New("session key handshake failed")
	ErrKeyUnwrap       = errors.New("session key unwrap failed")
	ErrNoSessionKey    = errors.New("no session key for sender")
	ErrDecrypt         = errors.New("message authentication failed")

	ErrMalformedPacket   = errors.New("malformed packet")
	ErrUnknownPacketType = errors.New("unknown packet type")
	// ErrRejected is returned when the remote side answered without OK.
	ErrRejected = errors.New("rejected by peer")

	ErrUserExists    = errors.New("user already exists")
	ErrInvalidStatus = types.ErrInvalidStatus
)
