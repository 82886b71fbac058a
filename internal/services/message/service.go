package message

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"peerchat/internal/crypto"
	"peerchat/internal/domain"
	"peerchat/internal/metrics"
	"peerchat/internal/protocol/packet"
	"peerchat/internal/transport"
)

// Deps are the collaborators of a Service.
type Deps struct {
	Identity   domain.IdentityService
	Directory  domain.PeerDirectory
	Sessions   domain.SessionNegotiator
	Log        domain.MessageLog
	Dispatcher domain.Dispatcher
	Net        transport.Exchanger

	// DefaultPort is where status updates go for senders not in the directory.
	DefaultPort int
	Clock       func() time.Time
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// Service sends and accepts chat messages and status updates.
type Service struct {
	ident    domain.IdentityService
	dir      domain.PeerDirectory
	sessions domain.SessionNegotiator
	store    domain.MessageLog
	dispatch domain.Dispatcher
	net      transport.Exchanger

	defaultPort int
	now         func() time.Time
	log         *zap.Logger
	metrics     *metrics.Metrics
}

// New constructs a message Service.
func New(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{
		ident:       d.Identity,
		dir:         d.Directory,
		sessions:    d.Sessions,
		store:       d.Log,
		dispatch:    d.Dispatcher,
		net:         d.Net,
		defaultPort: d.DefaultPort,
		now:         d.Clock,
		log:         d.Logger.Named("message"),
		metrics:     d.Metrics,
	}
}

// Send encrypts plaintext for peer and delivers it. An unknown or stale peer
// fails with domain.ErrPeerUnavailable before any network I/O.
func (s *Service) Send(ctx context.Context, peer domain.NodeID, plaintext string) (rcpt domain.Receipt, err error) {
	defer func() { s.metrics.RecordSent(err) }()

	me, ok := s.ident.Username()
	if !ok {
		return rcpt, domain.ErrNoIdentity
	}
	rec, err := s.dir.Resolve(peer, s.now())
	if err != nil {
		return rcpt, fmt.Errorf("%w: %w", domain.ErrPeerUnavailable, err)
	}
	return s.sendTo(ctx, me, rec, plaintext)
}

// SendTo is Send addressed by display name.
func (s *Service) SendTo(ctx context.Context, name domain.Username, plaintext string) (rcpt domain.Receipt, err error) {
	me, ok := s.ident.Username()
	if !ok {
		return rcpt, domain.ErrNoIdentity
	}
	rec, err := s.dir.Lookup(name, s.now())
	if err != nil {
		s.metrics.RecordSent(err)
		return rcpt, fmt.Errorf("%w: %w", domain.ErrPeerUnavailable, err)
	}
	rcpt, err = s.sendTo(ctx, me, rec, plaintext)
	s.metrics.RecordSent(err)
	return rcpt, err
}

func (s *Service) sendTo(
	ctx context.Context,
	me domain.Username,
	rec domain.PeerRecord,
	plaintext string,
) (domain.Receipt, error) {
	key, err := s.sessions.EnsureOutbound(ctx, rec)
	if err != nil {
		return domain.Receipt{}, err
	}

	now := s.now()
	id, err := s.store.Save(ctx, domain.StoredMessage{
		Sender:    me,
		Recipient: rec.Username,
		Message:   plaintext,
		Encrypted: true,
		Status:    domain.StatusSent,
		Timestamp: now,
	})
	if err != nil {
		return domain.Receipt{}, err
	}

	self := s.ident.NodeID()
	sealed, err := crypto.Seal(key.Slice(), []byte(plaintext), []byte(self))
	if err != nil {
		s.unsave(ctx, id)
		return domain.Receipt{}, err
	}
	pkt := packet.SecureMessage{
		Sender:    me,
		SenderID:  self,
		MessageID: id,
		Payload: packet.Payload{
			Nonce:      crypto.B64(sealed.Nonce),
			Ciphertext: crypto.B64(sealed.Ciphertext),
			Tag:        crypto.B64(sealed.Tag),
		},
		Timestamp: packet.Timestamp{Time: now},
	}
	if err := s.exchange(ctx, rec.Addr(), pkt); err != nil {
		if errors.Is(err, domain.ErrRejected) {
			// The peer may have lost our key; renegotiate on the next send.
			s.sessions.Forget(rec.ID)
		}
		s.log.Warn("send failed", zap.String("peer_id", rec.ID.String()), zap.Error(err))
		s.unsave(ctx, id)
		return domain.Receipt{}, fmt.Errorf("send to %s: %w", rec.ID, err)
	}
	return domain.Receipt{MessageID: id, PeerID: rec.ID, Timestamp: now}, nil
}

// unsave drops the history row of a message that never reached the peer.
func (s *Service) unsave(ctx context.Context, id domain.MessageID) {
	if err := s.store.Delete(context.WithoutCancel(ctx), id); err != nil {
		s.log.Warn("drop unsent message", zap.Int64("message_id", int64(id)), zap.Error(err))
	}
}

// SendStatus tells peer that its message id reached status.
func (s *Service) SendStatus(
	ctx context.Context,
	peer domain.NodeID,
	id domain.MessageID,
	status domain.MessageStatus,
) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, string(status))
	}
	rec, err := s.dir.Resolve(peer, s.now())
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPeerUnavailable, err)
	}
	return s.exchange(ctx, rec.Addr(), packet.StatusUpdate{
		SenderID:  s.ident.NodeID(),
		MessageID: id,
		Status:    status,
	})
}

// MarkRead marks every message from peer as read and relays read statuses
// to peer if it is online. It returns how many messages changed.
func (s *Service) MarkRead(ctx context.Context, peer domain.Username) (int, error) {
	me, ok := s.ident.Username()
	if !ok {
		return 0, domain.ErrNoIdentity
	}
	changed, err := s.store.MarkRead(ctx, me, peer)
	if err != nil || len(changed) == 0 {
		return 0, err
	}
	rec, err := s.dir.Lookup(peer, s.now())
	if err != nil {
		s.log.Debug("read receipts not relayed, peer offline", zap.String("username", peer.String()))
		return len(changed), nil
	}
	for _, m := range changed {
		if m.RemoteID <= 0 {
			continue
		}
		if err := s.SendStatus(ctx, rec.ID, m.RemoteID, domain.StatusRead); err != nil {
			s.log.Warn("read receipt failed", zap.String("peer_id", rec.ID.String()), zap.Error(err))
		}
	}
	return len(changed), nil
}

// HandlePacket is the accept path for one TCP packet.
func (s *Service) HandlePacket(ctx context.Context, remote *net.TCPAddr, p packet.Packet) error {
	switch pkt := p.(type) {
	case packet.SessionKey:
		return s.sessions.AcceptWrapped(pkt.SenderID, pkt.Data)
	case packet.SecureMessage:
		err := s.receive(ctx, remote, pkt)
		s.metrics.RecordReceived(err)
		return err
	case packet.StatusUpdate:
		return s.applyStatus(ctx, pkt)
	}
	return fmt.Errorf("%w: %s over tcp", domain.ErrUnknownPacketType, p.PacketType())
}

func (s *Service) receive(ctx context.Context, remote *net.TCPAddr, m packet.SecureMessage) error {
	me, ok := s.ident.Username()
	if !ok {
		return domain.ErrNoIdentity
	}
	key, ok := s.sessions.Inbound(m.SenderID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNoSessionKey, m.SenderID)
	}
	sealed, err := decodePayload(m.Payload)
	if err != nil {
		return err
	}
	pt, err := crypto.Open(key.Slice(), sealed, []byte(m.SenderID))
	if err != nil {
		return fmt.Errorf("%w: from %s", domain.ErrDecrypt, m.SenderID)
	}

	ts := m.Timestamp.Time
	if ts.IsZero() {
		ts = s.now()
	}
	text := string(pt)
	id, err := s.store.Save(ctx, domain.StoredMessage{
		RemoteID:  m.MessageID,
		Sender:    m.Sender,
		Recipient: me,
		Message:   text,
		Encrypted: true,
		Status:    domain.StatusDelivered,
		Timestamp: ts,
	})
	if err != nil {
		return err
	}

	if m.MessageID > 0 {
		s.relayDelivered(ctx, remote, m)
	}

	s.dispatch.Deliver(domain.InboundEvent{
		Sender:    m.Sender,
		SenderID:  m.SenderID,
		Message:   text,
		Timestamp: ts,
		MessageID: id,
	})
	return nil
}

// relayDelivered is best effort; failures are only logged.
func (s *Service) relayDelivered(ctx context.Context, remote *net.TCPAddr, m packet.SecureMessage) {
	addr := ""
	if rec, err := s.dir.Resolve(m.SenderID, s.now()); err == nil {
		addr = rec.Addr()
	} else if remote != nil && s.defaultPort > 0 {
		addr = net.JoinHostPort(remote.IP.String(), strconv.Itoa(s.defaultPort))
	}
	if addr == "" {
		s.log.Debug("no address for delivered receipt", zap.String("peer_id", m.SenderID.String()))
		return
	}
	err := s.exchange(ctx, addr, packet.StatusUpdate{
		SenderID:  s.ident.NodeID(),
		MessageID: m.MessageID,
		Status:    domain.StatusDelivered,
	})
	if err != nil {
		s.log.Warn("delivered receipt failed",
			zap.String("peer_id", m.SenderID.String()), zap.String("addr", addr), zap.Error(err))
	}
}

// applyStatus only touches messages we sent to the peer reporting the
// status.
func (s *Service) applyStatus(ctx context.Context, u packet.StatusUpdate) error {
	me, ok := s.ident.Username()
	if !ok {
		return domain.ErrNoIdentity
	}
	rec, err := s.dir.Resolve(u.SenderID, s.now())
	if err != nil {
		s.metrics.RecordStatus(metrics.Failed)
		return fmt.Errorf("status update from %q: %w", u.SenderID, err)
	}
	applied, err := s.store.UpdateStatus(ctx, u.MessageID, me, rec.Username, u.Status)
	switch {
	case err != nil:
		s.metrics.RecordStatus(metrics.Failed)
		return err
	case applied:
		s.metrics.RecordStatus("applied")
	default:
		s.metrics.RecordStatus("ignored")
		s.log.Debug("status update ignored",
			zap.String("peer_id", u.SenderID.String()),
			zap.Int64("message_id", int64(u.MessageID)), zap.String("status", string(u.Status)))
	}
	return nil
}

func (s *Service) exchange(ctx context.Context, addr string, p packet.Packet) error {
	start := time.Now()
	err := s.net.Exchange(ctx, addr, p)
	s.metrics.RecordExchange(string(p.PacketType()), time.Since(start))
	return err
}

func decodePayload(p packet.Payload) (crypto.Sealed, error) {
	nonce, err := crypto.UnB64(p.Nonce)
	if err != nil {
		return crypto.Sealed{}, fmt.Errorf("%w: nonce: %v", domain.ErrMalformedPacket, err)
	}
	ct, err := crypto.UnB64(p.Ciphertext)
	if err != nil {
		return crypto.Sealed{}, fmt.Errorf("%w: ciphertext: %v", domain.ErrMalformedPacket, err)
	}
	tag, err := crypto.UnB64(p.Tag)
	if err != nil {
		return crypto.Sealed{}, fmt.Errorf("%w: tag: %v", domain.ErrMalformedPacket, err)
	}
	return crypto.Sealed{Nonce: nonce, Ciphertext: ct, Tag: tag}, nil
}

// Compile-time assertions.
var (
	_ domain.MessageService = (*Service)(nil)
	_ transport.Handler     = (*Service)(nil)
)
