// Package crypto implements the cryptographic collaborator of PackScript
// runs: hashing, ed25519 keys and signatures, multisig and groth16 proofs.
package crypto

import (
	"github.com/iotaledger/hive.go/logger"
)

// Provider satisfies packscript.CryptoProvider
type Provider struct {
	*logger.WrappedLogger

	zkp *ZKPManager
}

func NewProvider(log *logger.Logger) *Provider {
	return &Provider{
		WrappedLogger: logger.NewWrappedLogger(log),
		zkp:           NewZKPManager(),
	}
}

func (p *Provider) Hash(algorithm string, data []byte) ([]byte, error) {
	return Hash(algorithm, data)
}

func (p *Provider) GenerateKey() (public, private []byte, err error) {
	return GenerateKeyPair()
}

func (p *Provider) DeriveKey(seed []byte) (public, private []byte, err error) {
	return DeriveKeyPair(seed)
}

func (p *Provider) Sign(private, message []byte) ([]byte, error) {
	return Sign(private, message)
}

func (p *Provider) Verify(public, message, signature []byte) (bool, error) {
	return Verify(public, message, signature)
}

func (p *Provider) MultiSig(threshold int, publics [][]byte, message []byte, signatures [][]byte) (bool, error) {
	return VerifyMultiSig(threshold, publics, message, signatures)
}

// Prove generates a preimage proof; the first call compiles the circuit
func (p *Provider) Prove(secret []byte) (commitment, proof []byte, err error) {
	p.LogDebugf("generating preimage proof for %d-byte secret", len(secret))
	return p.zkp.Prove(secret)
}

func (p *Provider) VerifyProof(commitment, proof []byte) (bool, error) {
	return p.zkp.Verify(commitment, proof)
}
