package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
)

var (
	ErrInvalidPublicKey  = errors.New("invalid public key")
	ErrInvalidPrivateKey = errors.New("invalid private key")
	ErrInvalidThreshold  = errors.New("invalid multisig threshold")
)

// GenerateKeyPair creates a random ed25519 key pair
func GenerateKeyPair() (public, private []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return pub, priv, nil
}

// DeriveKeyPair deterministically derives an ed25519 key pair from seed
func DeriveKeyPair(seed []byte) (public, private []byte, err error) {
	derived, err := DeriveKey(seed, InfoKeygen)
	if err != nil {
		return nil, nil, err
	}
	defer clearBytes(derived)

	priv := ed25519.NewKeyFromSeed(derived)
	return priv.Public().(ed25519.PublicKey), priv, nil
}

// Sign signs message with an ed25519 private key or 32-byte seed
func Sign(private, message []byte) ([]byte, error) {
	switch len(private) {
	case ed25519.PrivateKeySize:
		return ed25519.Sign(private, message), nil
	case ed25519.SeedSize:
		return ed25519.Sign(ed25519.NewKeyFromSeed(private), message), nil
	}
	return nil, fmt.Errorf("%w: %d bytes", ErrInvalidPrivateKey, len(private))
}

// Verify checks an ed25519 signature. A malformed signature is simply
// invalid; a malformed public key is an error.
func Verify(public, message, signature []byte) (bool, error) {
	if len(public) != ed25519.PublicKeySize {
		return false, fmt.Errorf("%w: %d bytes", ErrInvalidPublicKey, len(public))
	}
	if len(signature) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(public, message, signature), nil
}

// VerifyMultiSig reports whether at least threshold distinct public keys
// signed message. Every signature is tried against every key not yet counted.
func VerifyMultiSig(threshold int, publics [][]byte, message []byte, signatures [][]byte) (bool, error) {
	if threshold <= 0 || threshold > len(publics) {
		return false, fmt.Errorf("%w: %d of %d", ErrInvalidThreshold, threshold, len(publics))
	}
	for _, pub := range publics {
		if len(pub) != ed25519.PublicKeySize {
			return false, fmt.Errorf("%w: %d bytes", ErrInvalidPublicKey, len(pub))
		}
	}

	counted := make([]bool, len(publics))
	valid := 0
	for _, sig := range signatures {
		if len(sig) != ed25519.SignatureSize {
			continue
		}
		for i, pub := range publics {
			if counted[i] || !ed25519.Verify(pub, message, sig) {
				continue
			}
			counted[i] = true
			valid++
			break
		}
		if valid >= threshold {
			return true, nil
		}
	}
	return false, nil
}
