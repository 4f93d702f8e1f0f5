package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrKeyNotFound    = errors.New("key not found")
	ErrInvalidKeyFile = errors.New("invalid key file")
)

const (
	KeyFileMode = 0600
	KeyDirMode  = 0700
)

// KeyFile holds the hex-encoded master key that seals stored values
type KeyFile struct {
	path string
}

func NewKeyFile(path string) *KeyFile {
	return &KeyFile{path: path}
}

// LoadOrGenerate loads the key, creating a random one on first use
func (k *KeyFile) LoadOrGenerate() ([]byte, error) {
	key, err := k.Load()
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}

	key = make([]byte, HKDFKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := k.save(key); err != nil {
		clearBytes(key)
		return nil, err
	}
	return key, nil
}

// Load reads the key. Files readable by group or others are rejected.
func (k *KeyFile) Load() ([]byte, error) {
	info, err := os.Stat(k.path)
	if os.IsNotExist(err) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat key file: %w", err)
	}
	if info.Mode().Perm()&0077 != 0 {
		return nil, fmt.Errorf("%w: permissions %o are too open", ErrInvalidKeyFile, info.Mode().Perm())
	}

	data, err := os.ReadFile(k.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFile, err)
	}
	if len(key) != HKDFKeySize {
		clearBytes(key)
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKeyFile, HKDFKeySize, len(key))
	}
	return key, nil
}

// save writes through a temporary file and renames it into place
func (k *KeyFile) save(key []byte) error {
	if err := os.MkdirAll(filepath.Dir(k.path), KeyDirMode); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	tmpPath := k.path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(hex.EncodeToString(key)), KeyFileMode); err != nil {
		return fmt.Errorf("failed to write temporary key file: %w", err)
	}
	if err := os.Rename(tmpPath, k.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename key file: %w", err)
	}
	return nil
}

// Path returns the key file location
func (k *KeyFile) Path() string {
	return k.path
}
