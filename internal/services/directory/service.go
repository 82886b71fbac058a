package directory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"peerchat/internal/crypto"
	"peerchat/internal/domain"
	"peerchat/internal/metrics"
)

// DefaultStaleAfter is how long a peer stays listed after its last announcement.
const DefaultStaleAfter = 10 * time.Second

// Service is the peer directory.
type Service struct {
	self        domain.NodeID
	staleAfter  time.Duration
	defaultPort int
	log         *zap.Logger
	metrics     *metrics.Metrics

	mu    sync.RWMutex
	peers map[domain.NodeID]domain.PeerRecord
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	StaleAfter time.Duration
	// DefaultPort is used for announcements without a tcp_port.
	DefaultPort int
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// New returns an empty directory that ignores announcements from self.
func New(self domain.NodeID, opts Options) *Service {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		self:        self,
		staleAfter:  opts.StaleAfter,
		defaultPort: opts.DefaultPort,
		log:         opts.Logger.Named("directory"),
		metrics:     opts.Metrics,
		peers:       make(map[domain.NodeID]domain.PeerRecord),
	}
}

// Observe upserts the record for a.UserID. It returns false for our own
// announcements and for ones whose public key does not parse.
func (s *Service) Observe(a domain.Announcement, ip string, now time.Time) bool {
	if a.UserID == s.self || a.UserID == "" {
		return false
	}
	pub, err := crypto.ParsePublicPEM([]byte(a.PublicKeyPEM))
	if err != nil {
		s.log.Warn("announcement with bad public key",
			zap.String("peer_id", a.UserID.String()), zap.String("ip", ip), zap.Error(err))
		return false
	}
	port := a.TCPPort
	if port == 0 {
		port = s.defaultPort
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, known := s.peers[a.UserID]
	if !known {
		s.log.Info("peer joined",
			zap.String("peer_id", a.UserID.String()), zap.String("username", a.Username.String()),
			zap.String("ip", ip))
	}
	rec.ID = a.UserID
	rec.Username = a.Username
	rec.IP = ip
	rec.Port = port
	rec.PublicKey = pub
	if now.After(rec.LastSeen) {
		rec.LastSeen = now
	}
	s.peers[a.UserID] = rec
	return true
}

// ListActive returns the fresh records sorted by username then id and drops
// the stale ones.
func (s *Service) ListActive(now time.Time) []domain.PeerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.PeerRecord, 0, len(s.peers))
	for id, rec := range s.peers {
		if s.stale(rec, now) {
			s.evict(id, rec)
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].ID < out[j].ID
	})
	s.metrics.SetActivePeers(len(out))
	return out
}

// Resolve returns the fresh record for id or domain.ErrUnknownPeer.
func (s *Service) Resolve(id domain.NodeID, now time.Time) (domain.PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.peers[id]
	if !ok {
		return domain.PeerRecord{}, fmt.Errorf("%w: %s", domain.ErrUnknownPeer, id)
	}
	if s.stale(rec, now) {
		s.evict(id, rec)
		return domain.PeerRecord{}, fmt.Errorf("%w: %s (stale)", domain.ErrUnknownPeer, id)
	}
	return rec, nil
}

// Lookup resolves a display name. When several fresh peers share the name
// the most recently seen one wins.
func (s *Service) Lookup(name domain.Username, now time.Time) (domain.PeerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  domain.PeerRecord
		found bool
	)
	for _, rec := range s.peers {
		if rec.Username != name || s.stale(rec, now) {
			continue
		}
		if !found || rec.LastSeen.After(best.LastSeen) {
			best, found = rec, true
		}
	}
	if !found {
		return domain.PeerRecord{}, fmt.Errorf("%w: %s", domain.ErrUnknownPeer, name)
	}
	return best, nil
}

func (s *Service) stale(rec domain.PeerRecord, now time.Time) bool {
	return now.Sub(rec.LastSeen) > s.staleAfter
}

// evict must be called with mu held.
func (s *Service) evict(id domain.NodeID, rec domain.PeerRecord) {
	delete(s.peers, id)
	s.log.Info("peer went stale",
		zap.String("peer_id", id.String()), zap.String("username", rec.Username.String()))
}

// Compile-time assertion that Service implements domain.PeerDirectory.
var _ domain.PeerDirectory = (*Service)(nil)
