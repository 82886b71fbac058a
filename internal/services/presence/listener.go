package presence

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"peerchat/internal/domain"
	"peerchat/internal/metrics"
	"peerchat/internal/protocol/packet"
)

// Announcement outcomes recorded in metrics.
const (
	Observed = "observed"
	Ignored  = "ignored"
	Dropped  = "dropped"
)

// DatagramSource delivers received datagrams to a callback until ctx ends.
type DatagramSource interface {
	Serve(ctx context.Context, fn func(data []byte, from *net.UDPAddr)) error
}

// Listener decodes discovery datagrams into directory observations.
type Listener struct {
	Directory domain.PeerDirectory
	Source    DatagramSource
	Clock     func() time.Time
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	log := l.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("presence")
	clock := l.Clock
	if clock == nil {
		clock = time.Now
	}
	return l.Source.Serve(ctx, func(data []byte, from *net.UDPAddr) {
		l.Metrics.RecordAnnouncement(l.handle(log, clock(), data, from))
	})
}

func (l *Listener) handle(log *zap.Logger, now time.Time, data []byte, from *net.UDPAddr) string {
	p, err := packet.Decode(data)
	if err != nil {
		log.Debug("dropping datagram", zap.Stringer("from", from), zap.Error(err))
		return Dropped
	}
	d, ok := p.(packet.Discovery)
	if !ok {
		log.Debug("dropping non-discovery datagram",
			zap.Stringer("from", from), zap.String("type", string(p.PacketType())))
		return Dropped
	}
	a := domain.Announcement{
		UserID:       d.UserID,
		Username:     d.Username,
		PublicKeyPEM: d.PublicKey,
		TCPPort:      d.TCPPort,
	}
	if !l.Directory.Observe(a, from.IP.String(), now) {
		return Ignored
	}
	return Observed
}
