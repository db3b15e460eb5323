package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const sealVersion = 1

// ErrBadEnvelope means the payload was not produced by Box.Seal.
var ErrBadEnvelope = errors.New("crypto: malformed envelope")

// Box seals small blobs (cached cookies) with AES-GCM under a key derived
// from a local passphrase. A nil Box passes data through unchanged.
type Box struct {
	aead cipher.AEAD
}

// sealed is the on-disk form. Blob holds nonce||ciphertext.
type sealed struct {
	Version int    `json:"v"`
	Blob    string `json:"blob"`
}

// NewBox derives the key with scrypt. An empty secret yields a nil Box.
func NewBox(secret string) (*Box, error) {
	if secret == "" {
		return nil, nil
	}
	aead, err := deriveAEAD(secret)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &Box{aead: aead}, nil
}

func deriveAEAD(secret string) (cipher.AEAD, error) {
	salt := sha256.Sum256([]byte("messenger-client/session-cache:" + secret))
	key, err := scrypt.Key([]byte(secret), salt[:], 1<<15, 8, 1, 32)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (b *Box) Enabled() bool { return b != nil }

// Seal encrypts plain under a fresh nonce.
func (b *Box) Seal(plain []byte) ([]byte, error) {
	if b == nil {
		return plain, nil
	}
	buf := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plain)+b.aead.Overhead())
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	buf = b.aead.Seal(buf, buf[:b.aead.NonceSize()], plain, nil)
	return json.Marshal(sealed{Version: sealVersion, Blob: base64.RawURLEncoding.EncodeToString(buf)})
}

// Open reverses Seal. Tampered or foreign payloads fail.
func (b *Box) Open(payload []byte) ([]byte, error) {
	if b == nil {
		return payload, nil
	}
	var s sealed
	if err := json.Unmarshal(payload, &s); err != nil || s.Version != sealVersion {
		return nil, ErrBadEnvelope
	}
	raw, err := base64.RawURLEncoding.DecodeString(s.Blob)
	n := b.aead.NonceSize()
	if err != nil || len(raw) < n+b.aead.Overhead() {
		return nil, ErrBadEnvelope
	}
	plain, err := b.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	return plain, nil
}
