package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"peerchat/internal/crypto"
	"peerchat/internal/domain"
	"peerchat/internal/metrics"
	"peerchat/internal/protocol/packet"
	"peerchat/internal/transport"
)

// Service is the secure channel negotiator.
type Service struct {
	ident   domain.IdentityService
	net     transport.Exchanger
	log     *zap.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	outbound map[domain.NodeID]domain.SessionKey
	inbound  map[domain.NodeID]domain.SessionKey

	flight singleflight.Group
}

// New constructs a negotiator that sends handshakes through net.
func New(
	ident domain.IdentityService,
	net transport.Exchanger,
	log *zap.Logger,
	m *metrics.Metrics,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		ident:    ident,
		net:      net,
		log:      log.Named("session"),
		metrics:  m,
		outbound: make(map[domain.NodeID]domain.SessionKey),
		inbound:  make(map[domain.NodeID]domain.SessionKey),
	}
}

// EnsureOutbound returns the outbound key for peer, negotiating one if none
// exists. Concurrent calls for the same peer share one negotiation, bounded
// by the dialer timeouts rather than by any one caller's ctx; each caller
// stops waiting when its own ctx is done. The key is stored only after the
// peer acknowledged it.
func (s *Service) EnsureOutbound(ctx context.Context, peer domain.PeerRecord) (domain.SessionKey, error) {
	if k, ok := s.lookup(domain.Outbound, peer.ID); ok {
		return k, nil
	}
	detached := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(peer.ID.String(), func() (any, error) {
		if k, ok := s.lookup(domain.Outbound, peer.ID); ok {
			return k, nil
		}
		return s.negotiate(detached, peer)
	})
	select {
	case <-ctx.Done():
		return domain.SessionKey{}, fmt.Errorf("%w: %w", domain.ErrHandshakeFailed, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return domain.SessionKey{}, res.Err
		}
		return res.Val.(domain.SessionKey), nil
	}
}

func (s *Service) negotiate(ctx context.Context, peer domain.PeerRecord) (key domain.SessionKey, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordHandshake(domain.Outbound.String(), err, time.Since(start)) }()

	if peer.PublicKey == nil {
		return key, fmt.Errorf("%w: no public key for %s", domain.ErrHandshakeFailed, peer.ID)
	}
	if _, err := rand.Read(key[:]); err != nil {
		return key, err
	}
	wrapped, err := crypto.WrapKey(peer.PublicKey, key.Slice())
	if err != nil {
		return domain.SessionKey{}, fmt.Errorf("%w: wrap: %w", domain.ErrHandshakeFailed, err)
	}

	pkt := packet.SessionKey{SenderID: s.ident.NodeID(), Data: crypto.B64(wrapped)}
	if err := s.net.Exchange(ctx, peer.Addr(), pkt); err != nil {
		s.log.Warn("handshake failed", zap.String("peer_id", peer.ID.String()), zap.Error(err))
		return domain.SessionKey{}, fmt.Errorf("%w: %w", domain.ErrHandshakeFailed, err)
	}

	s.store(domain.Outbound, peer.ID, key)
	s.log.Debug("outbound session key established", zap.String("peer_id", peer.ID.String()))
	return key, nil
}

// AcceptWrapped unwraps a session key sent by sender and stores it as the
// inbound key for that sender, replacing any previous one.
func (s *Service) AcceptWrapped(sender domain.NodeID, wrapped string) (err error) {
	defer func() { s.metrics.RecordHandshake(domain.Inbound.String(), err, 0) }()

	kp, err := s.ident.KeyPair()
	if err != nil {
		return err
	}
	raw, err := crypto.UnB64(wrapped)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrKeyUnwrap, err)
	}
	plain, err := crypto.UnwrapKey(kp.Private, raw)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrKeyUnwrap, err)
	}
	defer crypto.Wipe(plain)
	if len(plain) != domain.SessionKeySize {
		return fmt.Errorf("%w: key is %d bytes", domain.ErrKeyUnwrap, len(plain))
	}

	var key domain.SessionKey
	copy(key[:], plain)
	s.store(domain.Inbound, sender, key)
	s.log.Debug("inbound session key accepted", zap.String("peer_id", sender.String()))
	return nil
}

// Inbound returns the key sender uses to encrypt messages to us.
func (s *Service) Inbound(sender domain.NodeID) (domain.SessionKey, bool) {
	return s.lookup(domain.Inbound, sender)
}

// Outbound returns the key we use to encrypt messages to peer.
func (s *Service) Outbound(peer domain.NodeID) (domain.SessionKey, bool) {
	return s.lookup(domain.Outbound, peer)
}

// Forget drops the outbound key for peer so the next send renegotiates.
func (s *Service) Forget(peer domain.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.outbound, peer)
}

func (s *Service) table(d domain.Direction) map[domain.NodeID]domain.SessionKey {
	if d == domain.Inbound {
		return s.inbound
	}
	return s.outbound
}

func (s *Service) lookup(d domain.Direction, id domain.NodeID) (domain.SessionKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.table(d)[id]
	return k, ok
}

func (s *Service) store(d domain.Direction, id domain.NodeID, k domain.SessionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table(d)[id] = k
}

// Compile-time assertion that Service implements domain.SessionNegotiator.
var _ domain.SessionNegotiator = (*Service)(nil)
