package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/hkdf"

	"github.com/jmcleod/mgmtd/internal/util"
)

const (
	// DefaultKeyPath is where the system API key is persisted for local
	// processes.
	DefaultKeyPath = "/var/lib/mgmtd/api.key"

	keyFileMode = 0o640
	keyDirMode  = 0o750

	derivedKeyLen = 32
)

// SystemKey is the process-wide administrative secret. Only the hashed form
// is held in memory, inside a memguard enclave. The raw key lives in the key
// file and is presented by local processes as a bearer token.
type SystemKey struct {
	path   string
	hashed *memguard.Enclave
}

// LoadOrCreateSystemKey reads the system key from path, generating and
// persisting a new one if the file does not exist. Any failure to read,
// create or write the key file is returned; callers must not serve without
// a key.
func LoadOrCreateSystemKey(path string) (*SystemKey, error) {
	raw, err := readKeyFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		raw, err = createKeyFile(path)
	}
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(raw)
	return newSystemKey(path, raw), nil
}

func newSystemKey(path string, raw []byte) *SystemKey {
	// NewEnclave wipes its argument.
	return &SystemKey{path: path, hashed: memguard.NewEnclave(HashToken(raw))}
}

// Path returns the key file location.
func (k *SystemKey) Path() string {
	return k.path
}

// Matches reports whether hashed equals the hashed system key.
func (k *SystemKey) Matches(hashed []byte) bool {
	buf, err := k.hashed.Open()
	if err != nil {
		return false
	}
	defer buf.Destroy()
	return subtle.ConstantTimeCompare(buf.Bytes(), hashed) == 1
}

// MAC returns the hex HMAC-SHA256 of msg keyed with the hashed system key.
func (k *SystemKey) MAC(msg []byte) (string, error) {
	buf, err := k.hashed.Open()
	if err != nil {
		return "", fmt.Errorf("opening system key: %w", err)
	}
	defer buf.Destroy()
	mac := hmac.New(sha256.New, buf.Bytes())
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// DeriveKey derives an HKDF-SHA256 subkey from the hashed system key for a
// purpose other than bearer authentication, such as the user directory
// sealing key (userdir.SealKeyInfo). Distinct info strings give
// independent keys.
func (k *SystemKey) DeriveKey(info string) ([]byte, error) {
	buf, err := k.hashed.Open()
	if err != nil {
		return nil, fmt.Errorf("opening system key: %w", err)
	}
	defer buf.Destroy()

	sub := make([]byte, derivedKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, buf.Bytes(), nil, []byte(info)), sub); err != nil {
		return nil, fmt.Errorf("deriving %q key: %w", info, err)
	}
	return sub, nil
}

// ReadKeyFile returns the encoded key stored at path, suitable for an
// "Authorization: Bearer" header.
func ReadKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readKeyFile(path string) ([]byte, error) {
	encoded, err := ReadKeyFile(path)
	if err != nil {
		return nil, err
	}
	raw, err := DecodeToken(encoded)
	if err != nil {
		return nil, fmt.Errorf("reading system key %s: %w", path, err)
	}
	if len(raw) < rawTokenBytes {
		return nil, fmt.Errorf("system key %s is too short", path)
	}
	return raw, nil
}

// createKeyFile writes a fresh key via a temp file and rename so a crash
// never leaves a partial key behind.
func createKeyFile(path string) ([]byte, error) {
	raw, err := newRawToken()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, keyDirMode); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".api.key-*")
	if err != nil {
		return nil, fmt.Errorf("creating key file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(keyFileMode); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("setting key file mode: %w", err)
	}
	if _, err := tmp.WriteString(EncodeToken(raw) + "\n"); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("writing key file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("syncing key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing key file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return nil, fmt.Errorf("installing key file: %w", err)
	}
	return raw, nil
}
