package security

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCryptoKernel(t *testing.T) *CryptoKernel {
	t.Helper()

	ks := NewKeyStore()
	rng := NewRNG(nil, nil) // no hardware source: falls back to crypto/rand

	return NewCryptoKernel(ks, rng)
}

func TestCryptoKernel_EncryptDecryptRoundTrip(t *testing.T) {
	ck := newTestCryptoKernel(t)

	_, err := ck.GenerateSymmetricKey("k1", ChaCha20Poly1305)
	require.NoError(t, err)

	plaintext := []byte("classified flight plan")
	aad := []byte("header")

	sealed, err := ck.Encrypt("k1", aad, plaintext)
	require.NoError(t, err)

	opened, err := ck.Decrypt("k1", aad, sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestCryptoKernel_BitFlipDetected(t *testing.T) {
	ck := newTestCryptoKernel(t)

	_, err := ck.GenerateSymmetricKey("k1", AES256GCM)
	require.NoError(t, err)

	sealed, err := ck.Encrypt("k1", nil, []byte("payload"))
	require.NoError(t, err)

	tampered := append([]byte{}, sealed...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = ck.Decrypt("k1", nil, tampered)
	require.Error(t, err)
}

func TestCryptoKernel_MaximumLevelSwitchesDefaults(t *testing.T) {
	ck := newTestCryptoKernel(t)

	require.Equal(t, ChaCha20Poly1305, ck.DefaultCipher())
	require.Equal(t, SHA256, ck.DefaultHash())

	ck.SetLevel(SystemMaximum)

	require.Equal(t, AES256GCM, ck.DefaultCipher())
	require.Equal(t, BLAKE3, ck.DefaultHash())
}

func TestCryptoKernel_SignUnavailableForUnimplementedAlgorithms(t *testing.T) {
	ck := newTestCryptoKernel(t)

	_, err := ck.Sign("k1", Dilithium5, []byte("msg"))
	require.ErrorIs(t, err, ErrAlgorithmUnavailable)

	_, err = ck.Sign("k1", Kyber1024, []byte("msg"))
	require.ErrorIs(t, err, ErrAlgorithmUnavailable)
}

func TestCryptoKernel_UnknownKeyRejected(t *testing.T) {
	ck := newTestCryptoKernel(t)

	_, err := ck.Encrypt("missing", nil, []byte("x"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

type staticEntropy struct{ pattern byte }

func (s staticEntropy) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = s.pattern
	}

	return len(p), nil
}

func TestRNG_LowEntropyHardwareSourceFailsQualityGate(t *testing.T) {
	// A hardware source that always returns the same byte has zero
	// Shannon entropy; the fallback XOR mix on retry must eventually
	// still satisfy the gate using crypto/rand's real entropy.
	rng := NewRNG(staticEntropy{pattern: 0x00}, nil)

	out, err := rng.Bytes(64)
	require.NoError(t, err)
	require.Len(t, out, 64)
}

func TestShannonEntropy_UniformBytesScoreHigh(t *testing.T) {
	buf := make([]byte, 256)
	for i := range buf {
		buf[i] = byte(i)
	}

	require.InDelta(t, 8.0, shannonEntropy(buf), 0.01)
}

func TestHasTripleRepeat_DetectsRepeatingPattern(t *testing.T) {
	buf := []byte{1, 2, 1, 2, 1, 2, 9, 9}
	require.True(t, hasTripleRepeat(buf))

	buf2 := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.False(t, hasTripleRepeat(buf2))
}
