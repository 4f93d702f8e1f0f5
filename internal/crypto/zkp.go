package crypto

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	mimcHash "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/hash/mimc"
)

var (
	ErrProofGenerationFailed    = errors.New("proof generation failed")
	ErrProofVerificationFailed  = errors.New("proof verification failed")
	ErrCircuitCompilationFailed = errors.New("circuit compilation failed")
	ErrMalformedProof           = errors.New("malformed proof")
)

var domainTagPreimage = domainSeparatorElement("PackScript:preimage")

// PreimageCircuit proves knowledge of a secret whose MiMC commitment is public
type PreimageCircuit struct {
	Commitment frontend.Variable `gnark:",public"`

	Secret frontend.Variable
}

// Define implements frontend.Circuit
func (c *PreimageCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	h.Write(domainTagPreimage.BigInt(new(big.Int)))
	h.Write(c.Secret)
	api.AssertIsEqual(h.Sum(), c.Commitment)

	return nil
}

// ZKPManager owns the compiled preimage circuit and its groth16 keys. Setup
// runs once, on first use; proofs only verify against the keys of the
// manager that produced them.
type ZKPManager struct {
	setupOnce sync.Once
	setupErr  error
	proofMu   sync.Mutex

	curve ecc.ID
	cs    constraint.ConstraintSystem
	pk    groth16.ProvingKey
	vk    groth16.VerifyingKey
}

func NewZKPManager() *ZKPManager {
	return &ZKPManager{curve: ecc.BN254}
}

func (z *ZKPManager) setup() error {
	z.setupOnce.Do(func() {
		cs, err := frontend.Compile(z.curve.ScalarField(), r1cs.NewBuilder, &PreimageCircuit{})
		if err != nil {
			z.setupErr = fmt.Errorf("%w: %v", ErrCircuitCompilationFailed, err)
			return
		}
		pk, vk, err := groth16.Setup(cs)
		if err != nil {
			z.setupErr = fmt.Errorf("failed to setup circuit: %w", err)
			return
		}
		z.cs, z.pk, z.vk = cs, pk, vk
	})
	return z.setupErr
}

// Prove commits to secret and proves knowledge of it. The proof is returned
// in gnark's binary encoding.
func (z *ZKPManager) Prove(secret []byte) (commitment, proof []byte, err error) {
	if err := z.setup(); err != nil {
		return nil, nil, err
	}

	secretField := secretToFieldElement(secret)
	commitmentField := PreimageCommitment(secretField)

	witness, err := frontend.NewWitness(&PreimageCircuit{
		Commitment: commitmentField.BigInt(new(big.Int)),
		Secret:     secretField.BigInt(new(big.Int)),
	}, z.curve.ScalarField())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create witness: %w", err)
	}

	z.proofMu.Lock()
	p, err := groth16.Prove(z.cs, z.pk, witness)
	z.proofMu.Unlock()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrProofGenerationFailed, err)
	}

	var buf bytes.Buffer
	if _, err := p.WriteTo(&buf); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrProofGenerationFailed, err)
	}
	return fieldElementBytes(commitmentField), buf.Bytes(), nil
}

// Verify checks proof against commitment. A proof that does not verify is
// reported as false; a proof that cannot be decoded is an error.
func (z *ZKPManager) Verify(commitment, proof []byte) (bool, error) {
	if err := z.setup(); err != nil {
		return false, err
	}

	p := groth16.NewProof(z.curve)
	if _, err := p.ReadFrom(bytes.NewReader(proof)); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}

	publicWitness, err := frontend.NewWitness(&PreimageCircuit{
		Commitment: new(big.Int).SetBytes(commitment),
	}, z.curve.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("failed to create public witness: %w", err)
	}

	if err := groth16.Verify(p, z.vk, publicWitness); err != nil {
		return false, nil
	}
	return true, nil
}

// PreimageCommitment computes MiMC(tag, secret) outside the circuit, in the
// same order Define absorbs it
func PreimageCommitment(secret fr.Element) fr.Element {
	h := mimcHash.NewMiMC()
	h.Write(fieldElementBytes(domainTagPreimage))
	h.Write(fieldElementBytes(secret))
	return bytesToFieldElement(h.Sum(nil))
}

// secretToFieldElement maps secrets of any length into the field
func secretToFieldElement(secret []byte) fr.Element {
	sum := sha256.Sum256(secret)
	return bytesToFieldElement(sum[:])
}

// domainSeparatorElement converts a tag string into a field element
func domainSeparatorElement(tag string) fr.Element {
	var e fr.Element
	e.SetBytes([]byte(tag))
	return e
}
