package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrAEADAuthFailed     = errors.New("AEAD authentication failed")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// Sealer encrypts stored values with XChaCha20-Poly1305. The additional
// data binds a ciphertext to its key, so a value copied to another key
// fails to open.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from master with HKDF
func NewSealer(master []byte) (*Sealer, error) {
	if len(master) != HKDFKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKeySize, HKDFKeySize, len(master))
	}

	key, err := DeriveKey(master, InfoStore)
	if err != nil {
		return nil, err
	}
	defer clearBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create XChaCha20-Poly1305: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns [24-byte nonce][ciphertext][16-byte tag]
func (s *Sealer) Seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts a value produced by Seal with the same aad
func (s *Sealer) Open(sealed, aad []byte) ([]byte, error) {
	nonceSize := chacha20poly1305.NonceSizeX
	if len(sealed) < nonceSize+s.aead.Overhead() {
		return nil, fmt.Errorf("%w: got %d bytes, need at least %d",
			ErrCiphertextTooShort, len(sealed), nonceSize+s.aead.Overhead())
	}

	plaintext, err := s.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], aad)
	if err != nil {
		return nil, ErrAEADAuthFailed
	}
	return plaintext, nil
}
