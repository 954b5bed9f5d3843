package auth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateSystemKey_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "api.key")

	k, err := LoadOrCreateSystemKey(path)
	require.NoError(t, err)
	assert.Equal(t, path, k.Path())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "\n"))
	assert.Equal(t, 1, strings.Count(string(data), "\n"))

	encoded, err := ReadKeyFile(path)
	require.NoError(t, err)
	raw, err := DecodeToken(encoded)
	require.NoError(t, err)
	assert.Len(t, raw, rawTokenBytes)
	assert.True(t, k.Matches(HashToken(raw)))
}

func TestLoadOrCreateSystemKey_ReusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.key")

	k1, err := LoadOrCreateSystemKey(path)
	require.NoError(t, err)
	k2, err := LoadOrCreateSystemKey(path)
	require.NoError(t, err)

	encoded, err := ReadKeyFile(path)
	require.NoError(t, err)
	raw, err := DecodeToken(encoded)
	require.NoError(t, err)
	assert.True(t, k1.Matches(HashToken(raw)))
	assert.True(t, k2.Matches(HashToken(raw)))

	m1, err := k1.MAC([]byte("msg"))
	require.NoError(t, err)
	m2, err := k2.MAC([]byte("msg"))
	require.NoError(t, err)
	assert.Equal(t, m1, m2)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLoadOrCreateSystemKey_UnwritableParent(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := LoadOrCreateSystemKey(filepath.Join(blocker, "api.key"))
	assert.Error(t, err)
}

func TestLoadOrCreateSystemKey_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.key")
	require.NoError(t, os.WriteFile(path, []byte("short\n"), 0o640))

	_, err := LoadOrCreateSystemKey(path)
	assert.Error(t, err)
}

func TestSystemKey_Matches(t *testing.T) {
	k, err := LoadOrCreateSystemKey(filepath.Join(t.TempDir(), "api.key"))
	require.NoError(t, err)
	assert.False(t, k.Matches(HashToken([]byte("other"))))
	assert.False(t, k.Matches(nil))
}

func TestSystemKey_DeriveKey(t *testing.T) {
	k, err := LoadOrCreateSystemKey(filepath.Join(t.TempDir(), "api.key"))
	require.NoError(t, err)

	a, err := k.DeriveKey("purpose-a")
	require.NoError(t, err)
	b, err := k.DeriveKey("purpose-b")
	require.NoError(t, err)
	a2, err := k.DeriveKey("purpose-a")
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Equal(t, a, a2)
	assert.NotEqual(t, a, b)
}

func TestNew_FailsWithoutKey(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := New(newFakeDirectory(), WithKeyPath(filepath.Join(blocker, "api.key")))
	assert.Error(t, err)
}
