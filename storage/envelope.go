package storage

import (
	"fmt"

	"github.com/jmcleod/mgmtd/internal/util"
)

const (
	SchemeAESGCM    = "aes256gcm"
	SchemePlainJSON = "plain-json"
)

// Envelope is a stored record. Sealed records use SchemeAESGCM; records
// without secret content use SchemePlainJSON with the payload in Ciphertext.
type Envelope struct {
	Ver        int    `json:"ver"`
	Scheme     string `json:"scheme"`
	Nonce      []byte `json:"nonce,omitempty"`
	Ciphertext []byte `json:"ciphertext"`
	Version    uint64 `json:"version,omitempty"`
}

// PlainRecord wraps an unencrypted payload in an Envelope.
func PlainRecord(data []byte, version uint64) *Envelope {
	return &Envelope{
		Ver:        1,
		Scheme:     SchemePlainJSON,
		Ciphertext: util.CopyBytes(data),
		Version:    version,
	}
}

// SealRecord encrypts plaintext into an Envelope using the given record key and AAD.
func SealRecord(recordKey, plaintext, aad []byte, version uint64) (*Envelope, error) {
	cipher, err := util.EncryptAESWithAAD(plaintext, recordKey, aad)
	if err != nil {
		return nil, err
	}

	// util.EncryptAESWithAAD returns nonce || ciphertext.
	return &Envelope{
		Ver:        1,
		Scheme:     SchemeAESGCM,
		Nonce:      cipher[:12],
		Ciphertext: cipher[12:],
		Version:    version,
	}, nil
}

// OpenRecord returns the payload of an Envelope, decrypting it with
// recordKey and aad when it is sealed.
func OpenRecord(recordKey []byte, envelope *Envelope, aad []byte) ([]byte, error) {
	if envelope.Ver != 1 {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	switch envelope.Scheme {
	case SchemePlainJSON:
		return util.CopyBytes(envelope.Ciphertext), nil
	case SchemeAESGCM:
	default:
		return nil, fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}
	if recordKey == nil {
		return nil, fmt.Errorf("sealed record requires a key")
	}

	// Reconstruct nonce || ciphertext without mutating envelope fields.
	fullCipher := make([]byte, len(envelope.Nonce)+len(envelope.Ciphertext))
	copy(fullCipher, envelope.Nonce)
	copy(fullCipher[len(envelope.Nonce):], envelope.Ciphertext)

	return util.DecryptAESWithAAD(fullCipher, recordKey, aad)
}
