package store

import (
	"path/filepath"
	"sync"

	"peerchat/internal/crypto"
	"peerchat/internal/domain"
)

const usersFile = "users.json"

type credential struct {
	Salt []byte `json:"salt"`
	Hash []byte `json:"hash"`
}

// CredentialFileStore keeps salted Argon2id password hashes in users.json.
type CredentialFileStore struct {
	path string
	mu   sync.Mutex
}

// NewCredentialFileStore returns a CredentialFileStore rooted at dir.
func NewCredentialFileStore(dir string) *CredentialFileStore {
	return &CredentialFileStore{path: filepath.Join(dir, usersFile)}
}

// Verify reports whether password matches the stored hash. Unknown users
// verify false without error.
func (s *CredentialFileStore) Verify(username domain.Username, password string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make(map[domain.Username]credential)
	if err := readJSON(s.path, &users); err != nil {
		return false, err
	}
	c, ok := users[username]
	if !ok {
		return false, nil
	}
	return crypto.VerifyPassword(password, c.Salt, c.Hash), nil
}

// Create stores a new user; it returns false if the name is taken.
func (s *CredentialFileStore) Create(username domain.Username, password string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make(map[domain.Username]credential)
	if err := readJSON(s.path, &users); err != nil {
		return false, err
	}
	if _, exists := users[username]; exists {
		return false, nil
	}
	salt, err := crypto.NewSalt()
	if err != nil {
		return false, err
	}
	users[username] = credential{Salt: salt, Hash: crypto.HashPassword(password, salt)}
	if err := writeJSON(s.path, users, 0o600); err != nil {
		return false, err
	}
	return true, nil
}

// Compile-time assertion that CredentialFileStore implements domain.CredentialStore.
var _ domain.CredentialStore = (*CredentialFileStore)(nil)
