// Package cryptox seals secrets stored by the relay (the users' OSF personal
// access tokens) with AES-256-GCM under a key derived from the server's
// token encryption secret.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/osfrelay/internal/common"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo binds derived keys to this purpose; bump the version to rotate.
const hkdfInfo = "osfrelay osf-token v1"

var (
	ErrEmptySecret   = errors.New("empty token encryption secret")
	ErrMalformedSeal = errors.New("malformed sealed value")
)

// Sealer encrypts and decrypts short secrets. Safe for concurrent use.
type Sealer struct {
	aead cipher.AEAD
}

// DeriveKey expands secret into a 32-byte AES key with HKDF-SHA256.
func DeriveKey(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// NewSealer builds a Sealer from the configured secret.
func NewSealer(secret string) (*Sealer, error) {
	key, err := DeriveKey([]byte(secret))
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns base64(nonce || ciphertext). An empty plaintext seals to "".
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := common.GenerateRandByteArray(s.aead.NonceSize())
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. An empty input opens to "".
func (s *Sealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSeal, err)
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns {
		return "", ErrMalformedSeal
	}
	plaintext, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSeal, err)
	}
	return string(plaintext), nil
}
