package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidKeySize      = errors.New("invalid key size")
	ErrKeyDerivationFailed = errors.New("key derivation failed")
)

const (
	// HKDF parameters
	HKDFKeySize = 32
	HKDFSalt    = "packscript-hkdf-v1"

	// info strings, one per purpose
	InfoKeygen = "packscript:keygen"
	InfoStore  = "packscript:store"
)

// DeriveKey expands secret into a 32-byte key bound to info. The same
// secret and info always give the same key.
func DeriveKey(secret []byte, info string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrKeyDerivationFailed)
	}

	reader := hkdf.New(sha256.New, secret, []byte(HKDFSalt), []byte(info))
	key := make([]byte, HKDFKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivationFailed, err)
	}
	return key, nil
}
