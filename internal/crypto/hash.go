package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	mimcHash "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

var ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

// Hash algorithms accepted by Hash, lower case
const (
	AlgSHA256     = "sha256"
	AlgSHA512     = "sha512"
	AlgSHA3       = "sha3"
	AlgBlake2b    = "blake2b"
	AlgMiMC       = "mimc"
	fieldChunkLen = 31
)

// Hash digests data with algorithm. Names are case-insensitive and accept
// the dashed spellings sha-256, sha3-256 and blake2b-256.
func Hash(algorithm string, data []byte) ([]byte, error) {
	switch normalizeAlgorithm(algorithm) {
	case AlgSHA256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	case AlgSHA512:
		sum := sha512.Sum512(data)
		return sum[:], nil
	case AlgSHA3:
		sum := sha3.Sum256(data)
		return sum[:], nil
	case AlgBlake2b:
		sum := blake2b.Sum256(data)
		return sum[:], nil
	case AlgMiMC:
		return mimcDigest(data)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, algorithm)
}

func normalizeAlgorithm(algorithm string) string {
	a := strings.ToLower(strings.TrimSpace(algorithm))
	switch a {
	case "sha-256":
		return AlgSHA256
	case "sha-512":
		return AlgSHA512
	case "sha3-256", "sha-3":
		return AlgSHA3
	case "blake2b-256", "blake2":
		return AlgBlake2b
	}
	return a
}

// mimcDigest hashes arbitrary bytes with BN254 MiMC. The input is split into
// 31-byte chunks so every block is a canonical field element; the length is
// absorbed last so inputs differing only in trailing zeros do not collide.
func mimcDigest(data []byte) ([]byte, error) {
	h := mimcHash.NewMiMC()
	for start := 0; start < len(data); start += fieldChunkLen {
		end := start + fieldChunkLen
		if end > len(data) {
			end = len(data)
		}
		if _, err := h.Write(fieldElementBytes(bytesToFieldElement(data[start:end]))); err != nil {
			return nil, err
		}
	}
	var length fr.Element
	length.SetUint64(uint64(len(data)))
	if _, err := h.Write(fieldElementBytes(length)); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// bytesToFieldElement reduces bytes into a BN254 field element
func bytesToFieldElement(data []byte) fr.Element {
	var e fr.Element
	e.SetBytes(data)
	return e
}

// fieldElementBytes returns the canonical 32-byte representation of e
func fieldElementBytes(e fr.Element) []byte {
	b := e.Bytes()
	return b[:]
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
