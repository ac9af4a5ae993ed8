// Package crypto seals secret fields before they reach the credential store.
//
// Values are encrypted with XChaCha20-Poly1305 under a key derived (HKDF-SHA256)
// from the process-wide ENCRYPTION_KEY. The field name is bound as associated
// data, so a ciphertext copied into another column fails to open.
//
// Layout of a sealed value: version(1) || nonce(24) || ciphertext+tag.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/stockauth/stockauth/internal/core/domain"
	"github.com/stockauth/stockauth/internal/core/ports"
)

const (
	version1     byte = 1
	minKeyLength      = 32
	hkdfInfo          = "stockauth secretbox v1"
)

var (
	// ErrKeyTooShort is returned at startup when ENCRYPTION_KEY is unusable.
	ErrKeyTooShort = fmt.Errorf("encryption key must be at least %d bytes", minKeyLength)
	// ErrSealedCorrupt is the single error for every open failure.
	ErrSealedCorrupt = errors.New("sealed value cannot be opened")
)

// SecretBox implements ports.SecretBox.
type SecretBox struct {
	key  []byte
	rand io.Reader
}

var _ ports.SecretBox = (*SecretBox)(nil)

// NewSecretBox derives the sealing key from secret.
func NewSecretBox(secret []byte) (*SecretBox, error) {
	if len(secret) < minKeyLength {
		return nil, ErrKeyTooShort
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &SecretBox{key: key, rand: rand.Reader}, nil
}

// Seal encrypts plaintext for field.
func (b *SecretBox) Seal(field ports.SecretField, plaintext string) (domain.Sealed, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}

	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out[0] = version1
	if _, err := io.ReadFull(b.rand, out[1:]); err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}

	return aead.Seal(out, out[1:], []byte(plaintext), additionalData(field)), nil
}

// Open decrypts a value sealed for field.
func (b *SecretBox) Open(field ports.SecretField, sealed domain.Sealed) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", ErrSealedCorrupt
	}
	if len(sealed) < 1+aead.NonceSize()+aead.Overhead() || sealed[0] != version1 {
		return "", ErrSealedCorrupt
	}

	nonce := sealed[1 : 1+aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, sealed[1+aead.NonceSize():], additionalData(field))
	if err != nil {
		return "", ErrSealedCorrupt
	}
	return string(plaintext), nil
}

func additionalData(field ports.SecretField) []byte {
	return append([]byte{version1}, field...)
}
