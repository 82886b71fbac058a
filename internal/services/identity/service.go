package identity

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"peerchat/internal/crypto"
	"peerchat/internal/domain"
)

// nodeIDLength is the number of hex characters kept from a UUIDv4.
const nodeIDLength = 8

// Service holds the identity of the running node.
type Service struct {
	store domain.KeyStore
	log   *zap.Logger
	id    domain.NodeID

	mu     sync.RWMutex
	name   domain.Username
	keys   domain.KeyPair
	pubPEM string
}

// New returns an identity service with a freshly generated node id.
func New(store domain.KeyStore, log *zap.Logger) *Service {
	return NewWithID(NewNodeID(), store, log)
}

// NewWithID returns an identity service for a known node id.
func NewWithID(id domain.NodeID, store domain.KeyStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log.Named("identity"), id: id}
}

// NewNodeID returns the first 8 hex characters of a random UUIDv4.
func NewNodeID() domain.NodeID {
	u := strings.ReplaceAll(uuid.NewString(), "-", "")
	return domain.NodeID(u[:nodeIDLength])
}

func (s *Service) NodeID() domain.NodeID { return s.id }

// Username returns the display name and whether it has been set.
func (s *Service) Username() (domain.Username, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name, s.name != ""
}

// SetUsername sets the display name once. Setting the same name again is a
// no-op; a different name fails with domain.ErrIdentityFrozen.
func (s *Service) SetUsername(name domain.Username) error {
	if strings.TrimSpace(name.String()) == "" {
		return fmt.Errorf("empty display name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.name == name {
		return nil
	}
	if s.name != "" {
		return domain.ErrIdentityFrozen
	}
	s.name = name
	return nil
}

// EnsureKeys loads the keypair for this node id or generates and persists a
// new one. It is idempotent.
func (s *Service) EnsureKeys() (domain.Fingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.keys.Valid() {
		keys, ok, err := s.store.LoadKeyPair(s.id)
		if err != nil {
			return "", fmt.Errorf("load keys: %w", err)
		}
		if !ok {
			priv, err := crypto.GenerateRSA()
			if err != nil {
				return "", err
			}
			keys = domain.KeyPair{Private: priv, Public: &priv.PublicKey}
			if err := s.store.SaveKeyPair(s.id, keys); err != nil {
				return "", fmt.Errorf("save keys: %w", err)
			}
			s.log.Info("generated keypair", zap.String("node_id", s.id.String()))
		}
		pemBytes, err := crypto.MarshalPublicPEM(keys.Public)
		if err != nil {
			return "", err
		}
		s.keys = keys
		s.pubPEM = string(pemBytes)
	}
	return fingerprint(s.keys)
}

// KeyPair fails with domain.ErrNoIdentity until EnsureKeys succeeded.
func (s *Service) KeyPair() (domain.KeyPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.keys.Valid() {
		return domain.KeyPair{}, domain.ErrNoIdentity
	}
	return s.keys, nil
}

// PublicKeyPEM returns the PKIX PEM text of the public key.
func (s *Service) PublicKeyPEM() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pubPEM == "" {
		return "", domain.ErrNoIdentity
	}
	return s.pubPEM, nil
}

func (s *Service) Fingerprint() (domain.Fingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.keys.Valid() {
		return "", domain.ErrNoIdentity
	}
	return fingerprint(s.keys)
}

func fingerprint(k domain.KeyPair) (domain.Fingerprint, error) {
	fp, err := crypto.Fingerprint(k.Public)
	if err != nil {
		return "", err
	}
	return domain.Fingerprint(fp), nil
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
