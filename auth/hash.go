package auth

import (
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/jmcleod/mgmtd/internal/util"
)

const (
	// hashIterations is the number of chained SHA3-512 rounds applied to a
	// raw token. The hash is unsalted so that a token always maps to the
	// same store key.
	hashIterations = 1000
	// rawTokenBytes is the entropy of every issued token.
	rawTokenBytes = 64
)

// HashToken returns the store lookup key for a raw token.
func HashToken(raw []byte) []byte {
	hashed := raw
	for i := 0; i < hashIterations; i++ {
		sum := sha3.Sum512(hashed)
		hashed = sum[:]
	}
	return hashed
}

// EncodeToken renders a raw token for transport to the client.
func EncodeToken(raw []byte) string {
	return base64.URLEncoding.EncodeToString(raw)
}

// DecodeToken reverses EncodeToken.
func DecodeToken(s string) ([]byte, error) {
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	return raw, nil
}

// hashEncoded decodes and hashes a client-supplied token. Undecodable input
// reports ok == false.
func hashEncoded(s string) ([]byte, bool) {
	if s == "" {
		return nil, false
	}
	raw, err := DecodeToken(s)
	if err != nil {
		return nil, false
	}
	defer util.WipeBytes(raw)
	return HashToken(raw), true
}

func newRawToken() ([]byte, error) {
	return util.RandomBytes(rawTokenBytes)
}
