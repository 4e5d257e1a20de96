package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termport/termport/internal/common/logger"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return NewGuard(store, "api-key", logger.Default())
}

func TestGenerateKeyIsRandom(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.GreaterOrEqual(t, len(a), 43) // 32 bytes base64url
}

func TestValidateKnownKey(t *testing.T) {
	guard := newTestGuard(t)
	require.NoError(t, guard.SetKey("correct-horse"))

	assert.True(t, guard.Validate("correct-horse"))
	assert.False(t, guard.Validate("battery-staple"))
	assert.False(t, guard.Validate(""))
}

func TestValidateWithoutStoredKey(t *testing.T) {
	guard := newTestGuard(t)
	assert.False(t, guard.Validate("anything"))
}

func TestEnsureKeyGeneratesOnce(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	guard := NewGuard(store, "api-key", logger.Default())

	key, err := guard.EnsureKey()
	require.NoError(t, err)
	require.NotEmpty(t, key)
	assert.True(t, guard.Validate(key))

	// A second guard over the same store finds the credential and does not
	// regenerate.
	guard2 := NewGuard(store, "api-key", logger.Default())
	key2, err := guard2.EnsureKey()
	require.NoError(t, err)
	assert.Empty(t, key2)
	assert.True(t, guard2.Validate(key))
}

func TestRotateInvalidatesOldKey(t *testing.T) {
	guard := newTestGuard(t)
	require.NoError(t, guard.SetKey("old-key"))
	require.True(t, guard.Validate("old-key"))

	newKey, err := guard.Rotate()
	require.NoError(t, err)
	require.NotEmpty(t, newKey)

	assert.False(t, guard.Validate("old-key"))
	assert.True(t, guard.Validate(newKey))
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	guard := NewGuard(store, "api-key", logger.Default())
	require.NoError(t, guard.SetKey("persisted"))

	store2, err := NewFileStore(dir)
	require.NoError(t, err)
	guard2 := NewGuard(store2, "api-key", logger.Default())
	assert.True(t, guard2.Validate("persisted"))
}

func TestFileStoreCredentialFilePermissions(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	guard := NewGuard(store, "api-key", logger.Default())
	require.NoError(t, guard.SetKey("secret"))

	info, err := os.Stat(filepath.Join(dir, "api-key.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStoreMissingCredential(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get("nope")
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreDeleteIsIdempotent(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Delete("nope"))
}
