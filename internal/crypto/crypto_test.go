package crypto

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/iotaledger/hive.go/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAlgorithms(t *testing.T) {
	sum, err := Hash("sha256", []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hex.EncodeToString(sum))

	sum, err = Hash("SHA3-256", []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532", hex.EncodeToString(sum))

	for _, alg := range []string{"sha512", "blake2b", "blake2b-256", "mimc"} {
		sum, err := Hash(alg, []byte("packscript"))
		require.NoError(t, err, alg)
		assert.NotEmpty(t, sum, alg)
	}

	_, err = Hash("md5", []byte("abc"))
	require.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestMiMCDigestLength(t *testing.T) {
	a, err := Hash(AlgMiMC, []byte{1})
	require.NoError(t, err)
	b, err := Hash(AlgMiMC, []byte{1, 0})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	long := make([]byte, 100)
	c, err := Hash(AlgMiMC, long)
	require.NoError(t, err)
	d, err := Hash(AlgMiMC, long)
	require.NoError(t, err)
	assert.Equal(t, c, d)
}

func TestDeriveKeyPairDeterministic(t *testing.T) {
	pub1, priv1, err := DeriveKeyPair([]byte("seed"))
	require.NoError(t, err)
	pub2, _, err := DeriveKeyPair([]byte("seed"))
	require.NoError(t, err)
	pub3, _, err := DeriveKeyPair([]byte("other"))
	require.NoError(t, err)

	assert.Equal(t, pub1, pub2)
	assert.NotEqual(t, pub1, pub3)

	sig, err := Sign(priv1, []byte("msg"))
	require.NoError(t, err)
	ok, err := Verify(pub1, []byte("msg"), sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(pub1, []byte("tampered"), sig)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = DeriveKeyPair(nil)
	require.ErrorIs(t, err, ErrKeyDerivationFailed)
}

func TestVerifyRejectsBadInputs(t *testing.T) {
	_, err := Verify([]byte{1, 2}, []byte("m"), make([]byte, 64))
	require.ErrorIs(t, err, ErrInvalidPublicKey)

	pub, _, err := GenerateKeyPair()
	require.NoError(t, err)
	ok, err := Verify(pub, []byte("m"), []byte{1})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Sign([]byte{1}, []byte("m"))
	require.ErrorIs(t, err, ErrInvalidPrivateKey)
}

func TestVerifyMultiSig(t *testing.T) {
	msg := []byte("transfer 10")
	var publics, privates [][]byte
	for i := 0; i < 3; i++ {
		pub, priv, err := GenerateKeyPair()
		require.NoError(t, err)
		publics = append(publics, pub)
		privates = append(privates, priv)
	}

	sig0, _ := Sign(privates[0], msg)
	sig2, _ := Sign(privates[2], msg)

	ok, err := VerifyMultiSig(2, publics, msg, [][]byte{sig0, sig2})
	require.NoError(t, err)
	assert.True(t, ok)

	// the same signature twice counts once
	ok, err = VerifyMultiSig(2, publics, msg, [][]byte{sig0, sig0})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifyMultiSig(4, publics, msg, nil)
	require.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestSealer(t *testing.T) {
	master := make([]byte, HKDFKeySize)
	master[0] = 7
	s, err := NewSealer(master)
	require.NoError(t, err)

	sealed, err := s.Seal([]byte(`{"v":1}`), []byte("acct/alice"))
	require.NoError(t, err)

	plain, err := s.Open(sealed, []byte("acct/alice"))
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(plain))

	_, err = s.Open(sealed, []byte("acct/bob"))
	require.ErrorIs(t, err, ErrAEADAuthFailed)

	_, err = s.Open(sealed[:10], nil)
	require.ErrorIs(t, err, ErrCiphertextTooShort)

	_, err = NewSealer([]byte("short"))
	require.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "store.key")
	kf := NewKeyFile(path)

	_, err := kf.Load()
	require.ErrorIs(t, err, ErrKeyNotFound)

	key, err := kf.LoadOrGenerate()
	require.NoError(t, err)
	assert.Len(t, key, HKDFKeySize)

	again, err := kf.LoadOrGenerate()
	require.NoError(t, err)
	assert.Equal(t, key, again)

	require.NoError(t, os.Chmod(path, 0644))
	_, err = kf.Load()
	require.ErrorIs(t, err, ErrInvalidKeyFile)
}

func TestProviderProofRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is slow")
	}

	p := NewProvider(logger.NewNopLogger())
	commitment, proof, err := p.Prove([]byte("my secret"))
	require.NoError(t, err)
	assert.Len(t, commitment, 32)

	ok, err := p.VerifyProof(commitment, proof)
	require.NoError(t, err)
	assert.True(t, ok)

	other, _, err := p.Prove([]byte("another secret"))
	require.NoError(t, err)
	ok, err = p.VerifyProof(other, proof)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.VerifyProof(commitment, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformedProof)
}
