package presence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"peerchat/internal/domain"
	"peerchat/internal/metrics"
	"peerchat/internal/protocol/packet"
)

// DefaultInterval is the time between two announcements.
const DefaultInterval = 3 * time.Second

// Sender writes one datagram.
type Sender interface {
	Send(b []byte) error
}

// Broadcaster periodically sends discovery packets.
type Broadcaster struct {
	Identity domain.IdentityService
	Sender   Sender
	Interval time.Duration
	// TCPPort is advertised so peers can reach the messaging listener.
	TCPPort int
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Run sends one announcement immediately and then one per interval until
// ctx is cancelled. It fails with domain.ErrNoIdentity when the node has
// no username or public key yet. Send errors are logged and do not stop
// the loop.
func (b *Broadcaster) Run(ctx context.Context) error {
	msg, err := b.announcement()
	if err != nil {
		return err
	}
	log := b.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("presence")
	interval := b.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	send := func() {
		err := b.Sender.Send(msg)
		b.Metrics.RecordBroadcast(err)
		if err != nil {
			log.Warn("broadcast failed", zap.Error(err))
		}
	}

	send()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			send()
		}
	}
}

func (b *Broadcaster) announcement() ([]byte, error) {
	name, ok := b.Identity.Username()
	if !ok {
		return nil, fmt.Errorf("%w: no username", domain.ErrNoIdentity)
	}
	pub, err := b.Identity.PublicKeyPEM()
	if err != nil {
		return nil, err
	}
	return packet.Encode(packet.Discovery{
		UserID:    b.Identity.NodeID(),
		Username:  name,
		PublicKey: pub,
		TCPPort:   b.TCPPort,
	})
}
