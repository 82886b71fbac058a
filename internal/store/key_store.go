package store

import (
	"bytes"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"peerchat/internal/crypto"
	"peerchat/internal/domain"
)

const (
	keysDir        = "keys"
	privateKeyFile = "private.pem"
	publicKeyFile  = "public.pem"
)

var pemHeader = []byte("-----BEGIN")

// KeyFileStore persists node keypairs as PEM files. With a non-empty
// passphrase the private key file holds a scrypt/ChaCha20-Poly1305 envelope
// instead of plain PEM.
type KeyFileStore struct {
	dir        string
	passphrase string
	kdf        scryptParams
	mu         sync.Mutex
}

// NewKeyFileStore returns a KeyFileStore rooted at <home>/keys.
func NewKeyFileStore(home, passphrase string) *KeyFileStore {
	return &KeyFileStore{
		dir:        filepath.Join(home, keysDir),
		passphrase: passphrase,
		kdf:        defaultScrypt,
	}
}

// SaveKeyPair writes private.pem (0600) and public.pem (0644).
func (s *KeyFileStore) SaveKeyPair(id domain.NodeID, keys domain.KeyPair) error {
	if !keys.Valid() {
		return errors.New("incomplete keypair")
	}
	if err := checkNodeID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	privPEM, err := crypto.MarshalPrivatePEM(keys.Private)
	if err != nil {
		return err
	}
	defer crypto.Wipe(privPEM)
	pubPEM, err := crypto.MarshalPublicPEM(keys.Public)
	if err != nil {
		return err
	}

	privOut := privPEM
	if s.passphrase != "" {
		if privOut, err = sealWithPassphrase(s.passphrase, privPEM, s.kdf); err != nil {
			return err
		}
	}

	base := filepath.Join(s.dir, id.String())
	if err := writeFile(filepath.Join(base, privateKeyFile), privOut, 0o600); err != nil {
		return err
	}
	return writeFile(filepath.Join(base, publicKeyFile), pubPEM, 0o644)
}

// LoadKeyPair reads the keypair for id. ok is false when no private key
// file exists.
func (s *KeyFileStore) LoadKeyPair(id domain.NodeID) (domain.KeyPair, bool, error) {
	if err := checkNodeID(id); err != nil {
		return domain.KeyPair{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := readFile(filepath.Join(s.dir, id.String(), privateKeyFile))
	if err != nil || raw == nil {
		return domain.KeyPair{}, false, err
	}
	if !bytes.HasPrefix(bytes.TrimSpace(raw), pemHeader) {
		if s.passphrase == "" {
			return domain.KeyPair{}, false, ErrWrongPassphrase
		}
		if raw, err = openWithPassphrase(s.passphrase, raw); err != nil {
			return domain.KeyPair{}, false, err
		}
	}
	defer crypto.Wipe(raw)

	priv, err := crypto.ParsePrivatePEM(raw)
	if err != nil {
		return domain.KeyPair{}, false, fmt.Errorf("parse private key for %s: %w", id, err)
	}
	return domain.KeyPair{Private: priv, Public: &priv.PublicKey}, true, nil
}

// LoadPublicKey reads only public.pem, which is never sealed.
func (s *KeyFileStore) LoadPublicKey(id domain.NodeID) (*rsa.PublicKey, error) {
	if err := checkNodeID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(filepath.Join(s.dir, id.String(), publicKeyFile))
	if err != nil {
		return nil, err
	}
	return crypto.ParsePublicPEM(raw)
}

// List returns the node ids that have a stored keypair, sorted.
func (s *KeyFileStore) List() ([]domain.NodeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []domain.NodeID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.dir, e.Name(), publicKeyFile)); err == nil {
			ids = append(ids, domain.NodeID(e.Name()))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// checkNodeID keeps ids from escaping the keys directory.
func checkNodeID(id domain.NodeID) error {
	s := id.String()
	if s == "" || s == "." || s == ".." || filepath.Base(s) != s {
		return fmt.Errorf("invalid node id %q", s)
	}
	return nil
}

// Compile-time assertion that KeyFileStore implements domain.KeyStore.
var _ domain.KeyStore = (*KeyFileStore)(nil)
