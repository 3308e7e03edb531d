// Package cipher seals event payloads at rest with an AEAD.
//
// Sealed values are laid out as nonce || ciphertext || tag. A fresh random
// nonce is drawn for every Seal call. Additional data passed to Seal must be
// passed unchanged to Open, otherwise authentication fails.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required key length in bytes for every supported cipher.
const KeySize = 32

const (
	NameAESGCM            = "aes-gcm"
	NameXChaCha20Poly1305 = "xchacha20poly1305"
)

var (
	ErrInvalidKey    = errors.New("invalid cipher key")
	ErrUnknownCipher = errors.New("unknown cipher")
	ErrOpen          = errors.New("message authentication failed")
)

type Cipher interface {
	Name() string
	Seal(plaintext, additionalData []byte) ([]byte, error)
	Open(sealed, additionalData []byte) ([]byte, error)
}

// New resolves a cipher by its configuration name.
func New(name string, key []byte) (Cipher, error) {
	switch strings.ToLower(name) {
	case "", NameAESGCM:
		return NewAESGCM(key)
	case NameXChaCha20Poly1305:
		return NewXChaCha20Poly1305(key)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCipher, name)
}

// NewAESGCM builds an AES-256-GCM cipher.
func NewAESGCM(key []byte) (Cipher, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := stdcipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &aeadCipher{name: NameAESGCM, aead: aead}, nil
}

// NewXChaCha20Poly1305 builds an XChaCha20-Poly1305 cipher. Its 24 byte
// nonce makes random nonces safe for very large numbers of records.
func NewXChaCha20Poly1305(key []byte) (Cipher, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("new xchacha20poly1305: %w", err)
	}
	return &aeadCipher{name: NameXChaCha20Poly1305, aead: aead}, nil
}

type aeadCipher struct {
	name string
	aead stdcipher.AEAD
}

func (c *aeadCipher) Name() string { return c.name }

func (c *aeadCipher) Seal(plaintext, additionalData []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return c.aead.Seal(out, out[:nonceSize], plaintext, additionalData), nil
}

func (c *aeadCipher) Open(sealed, additionalData []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: sealed value is too short", ErrOpen)
	}
	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], additionalData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	return plaintext, nil
}

func checkKey(key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	return nil
}

// === keys ===

// NewKey returns a random key of KeySize bytes.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	return key, nil
}

// ParseKey decodes a standard base64 key, as produced by EncodeKey.
func ParseKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

func EncodeKey(key []byte) string { return base64.StdEncoding.EncodeToString(key) }
