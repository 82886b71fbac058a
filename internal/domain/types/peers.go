package types

import (
	"crypto/rsa"
	"net"
	"strconv"
	"time"
)

// Announcement is the content of one presence broadcast.
type Announcement struct {
	UserID       NodeID
	Username     Username
	PublicKeyPEM string
	// TCPPort is optional; zero means the well-known messaging port.
	TCPPort int
}

// PeerRecord is the directory's view of one remote node.
type PeerRecord struct {
	ID        NodeID
	Username  Username
	IP        string
	Port      int
	PublicKey *rsa.PublicKey
	LastSeen  time.Time
}

// Addr returns the peer's messaging address as host:port.
func (p PeerRecord) Addr() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}
