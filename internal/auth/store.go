// Package auth implements shared-key authentication for the control
// surfaces: key generation, salted digest storage, constant-time
// validation, and rotation.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Credential is the persisted form of a key: a random salt and the derived
// digest. The key itself is never stored.
type Credential struct {
	Salt      []byte    `json:"salt"`
	Digest    []byte    `json:"digest"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CredentialStore persists credentials by name. Implementations must be
// safe for concurrent use.
type CredentialStore interface {
	Get(name string) (*Credential, error)
	Set(name string, cred *Credential) error
	Delete(name string) error
}

// FileStore keeps each credential as a JSON file under a directory,
// created with owner-only permissions.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the backing directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Get loads a credential. A missing credential returns os.ErrNotExist so
// callers can distinguish "no key yet" from storage failure.
func (s *FileStore) Get(name string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return nil, err
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to parse credential %q: %w", name, err)
	}
	return &cred, nil
}

// Set writes a credential atomically via a temp file rename.
func (s *FileStore) Set(name string, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential %q: %w", name, err)
	}
	tmp := s.path(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credential %q: %w", name, err)
	}
	if err := os.Rename(tmp, s.path(name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to persist credential %q: %w", name, err)
	}
	return nil
}

// Delete removes a credential. Deleting a missing credential is not an
// error.
func (s *FileStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete credential %q: %w", name, err)
	}
	return nil
}
