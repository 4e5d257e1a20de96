package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/termport/termport/internal/common/errors"
	"github.com/termport/termport/internal/common/logger"
)

const (
	keyBytes   = 32
	saltBytes  = 16
	pbkdf2Iter = 100_000
)

// Guard validates presented keys against a stored salted digest. Validation
// is constant-time and never returns an error: any failure to load or match
// reads as "invalid", so probing cannot distinguish a missing key from a
// wrong one. Storage failures surface only on mutation paths.
type Guard struct {
	store   CredentialStore
	keyName string
	logger  *logger.Logger

	mu     sync.RWMutex
	cached *Credential
}

// NewGuard wraps a credential store. keyName selects which stored
// credential the guard checks against.
func NewGuard(store CredentialStore, keyName string, log *logger.Logger) *Guard {
	return &Guard{
		store:   store,
		keyName: keyName,
		logger:  log.WithFields(zap.String("component", "auth")),
	}
}

// GenerateKey returns a fresh random key in URL-safe base64. The raw entropy
// is 32 bytes.
func GenerateKey() (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func deriveDigest(key string, salt []byte) []byte {
	return pbkdf2.Key([]byte(key), salt, pbkdf2Iter, sha256.Size, sha256.New)
}

// SetKey derives and persists the digest for key, replacing any previous
// credential.
func (g *Guard) SetKey(key string) error {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return apperrors.StorageUnavailable("failed to generate salt", err)
	}
	cred := &Credential{
		Salt:      salt,
		Digest:    deriveDigest(key, salt),
		UpdatedAt: time.Now().UTC(),
	}
	if err := g.store.Set(g.keyName, cred); err != nil {
		return apperrors.StorageUnavailable("failed to persist credential", err)
	}

	g.mu.Lock()
	g.cached = cred
	g.mu.Unlock()
	return nil
}

// EnsureKey makes sure a credential exists, generating and persisting a key
// on first run. The plaintext key is returned only when freshly generated so
// the caller can print it once; otherwise it returns empty.
func (g *Guard) EnsureKey() (string, error) {
	cred, err := g.store.Get(g.keyName)
	if err == nil {
		g.mu.Lock()
		g.cached = cred
		g.mu.Unlock()
		return "", nil
	}
	if !os.IsNotExist(err) {
		return "", apperrors.StorageUnavailable("failed to load credential", err)
	}

	key, err := GenerateKey()
	if err != nil {
		return "", apperrors.StorageUnavailable("failed to generate key", err)
	}
	if err := g.SetKey(key); err != nil {
		return "", err
	}
	g.logger.Info("generated new access key")
	return key, nil
}

// Validate reports whether the presented key matches the stored credential.
// The comparison runs in constant time over the derived digest.
func (g *Guard) Validate(key string) bool {
	if key == "" {
		return false
	}

	g.mu.RLock()
	cred := g.cached
	g.mu.RUnlock()

	if cred == nil {
		loaded, err := g.store.Get(g.keyName)
		if err != nil {
			if !os.IsNotExist(err) {
				g.logger.Warn("credential store unreadable during validation", zap.Error(err))
			}
			return false
		}
		g.mu.Lock()
		g.cached = loaded
		g.mu.Unlock()
		cred = loaded
	}

	digest := deriveDigest(key, cred.Salt)
	return subtle.ConstantTimeCompare(digest, cred.Digest) == 1
}

// Rotate replaces the credential with a freshly generated key and returns
// the new plaintext. The swap is atomic: until the new digest is persisted
// the old key keeps validating, after it only the new one does.
func (g *Guard) Rotate() (string, error) {
	key, err := GenerateKey()
	if err != nil {
		return "", apperrors.StorageUnavailable("failed to generate key", err)
	}
	if err := g.SetKey(key); err != nil {
		return "", err
	}
	g.logger.Info("access key rotated")
	return key, nil
}
