package security

// crypto.go is the key-custody and cryptographic-operation surface: a
// key_id-keyed store, a quality-gated RNG abstraction with
// hardware-primary/mixed-entropy fallback, and Encrypt/Decrypt/Sign
// operations dispatched over an algorithm enum. AES-256-GCM and
// ChaCha20-Poly1305 are real, wired ciphers; Kyber1024 and Dilithium5 are
// named but have no vetted Go implementation available, so they are
// registered, inspectable entries that report ErrAlgorithmUnavailable
// rather than a hand-rolled stand-in — this package never ships fake
// cryptography.

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
)

// Algorithm names a cipher or signature scheme registered with the
// crypto kernel.
type Algorithm string

const (
	AES256GCM        Algorithm = "AES-256-GCM"
	ChaCha20Poly1305 Algorithm = "ChaCha20-Poly1305"
	Kyber1024        Algorithm = "Kyber1024"
	Dilithium5       Algorithm = "Dilithium5"
)

// HashAlgorithm names a digest function.
type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "SHA-256"
	BLAKE3 HashAlgorithm = "BLAKE3"
)

var (
	// ErrAlgorithmUnavailable is returned by any operation dispatched to
	// an algorithm this build has no implementation for.
	ErrAlgorithmUnavailable = errors.New("security: algorithm unavailable on this build")
	ErrKeyNotFound          = errors.New("security: key not found")
	ErrWrongKeyKind         = errors.New("security: wrong key kind for operation")
	ErrEntropyExhausted     = errors.New("security: entropy source exhausted retry budget")
	ErrLowQualityEntropy    = errors.New("security: entropy failed quality gate")
)

// KeyKind distinguishes the key-custody roles this package models.
type KeyKind int

const (
	Symmetric KeyKind = iota
	PublicAsym
	PrivateAsym
	Signing
	Verification
	DeviceSpecific
)

// KeyRecord is one entry in the key-custody store.
type KeyRecord struct {
	ID    string
	Bytes []byte
	Kind  KeyKind
	Algo  Algorithm
}

// KeyStore is the key_id → KeyRecord custody map, held under its own
// lock independent of the access-control stores.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]KeyRecord
}

// NewKeyStore returns an empty key store.
func NewKeyStore() *KeyStore { return &KeyStore{keys: make(map[string]KeyRecord)} }

func (s *KeyStore) Put(rec KeyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[rec.ID] = rec
}

func (s *KeyStore) Get(id string) (KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.keys[id]
	if !ok {
		return KeyRecord{}, ErrKeyNotFound
	}

	return rec, nil
}

func (s *KeyStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.keys, id)
}

// EntropySource abstracts a raw byte source: the hardware RNG (e.g.
// RDRAND/RDSEED, modeled by the embedder) or a software fallback.
type EntropySource interface {
	Read(p []byte) (int, error)
}

// cryptoRandSource adapts crypto/rand.Reader as the software fallback
// default, since every kernel still needs a seedable PRNG behind the
// hardware path when no collaborator is supplied.
type cryptoRandSource struct{}

func (cryptoRandSource) Read(p []byte) (int, error) { return rand.Read(p) }

// maxEntropyAttempts bounds the hardware-primary retry loop: bounded
// retry, never spins forever.
const maxEntropyAttempts = 10

// RNG draws bytes from a hardware-primary source, falling back to a
// mixed-entropy software source on quality-gate failure, bounded to
// maxEntropyAttempts total tries.
type RNG struct {
	hw       EntropySource
	fallback EntropySource
}

// NewRNG returns an RNG drawing from hw first; fallback defaults to
// crypto/rand if nil.
func NewRNG(hw, fallback EntropySource) *RNG {
	if fallback == nil {
		fallback = cryptoRandSource{}
	}

	return &RNG{hw: hw, fallback: fallback}
}

// qualityGateMinSample is the minimum draw size the quality gate is run
// against. A byte histogram's measurable entropy is bounded above by
// log2(len(buf)), and genuinely uniform random bytes only converge on
// the 8-bit/byte ideal as the sample grows; at 4096 bytes the Miller-Madow
// bias on the estimate is under 0.05 bits, comfortably clearing the
// 7-bit/byte floor for real entropy while still failing it for a
// degenerate source. Bytes always draws at least this many bytes for
// gating purposes and returns only the requested prefix.
const qualityGateMinSample = 4096

// Bytes returns n quality-gated random bytes, mixing in fallback entropy
// by XOR on every attempt after the first so a biased hardware source
// cannot alone defeat the gate. Internally it conditions a
// qualityGateMinSample-sized block and returns the first n bytes of it,
// so gating remains meaningful even for small draws like a cipher key.
func (r *RNG) Bytes(n int) ([]byte, error) {
	draw := n
	if draw < qualityGateMinSample {
		draw = qualityGateMinSample
	}

	buf := make([]byte, draw)

	for attempt := 0; attempt < maxEntropyAttempts; attempt++ {
		if r.hw != nil {
			if _, err := r.hw.Read(buf); err != nil {
				continue
			}
		} else if _, err := r.fallback.Read(buf); err != nil {
			continue
		}

		if attempt > 0 {
			mix := make([]byte, draw)
			if _, err := r.fallback.Read(mix); err == nil {
				for i := range buf {
					buf[i] ^= mix[i]
				}
			}
		}

		if passesQualityGate(buf) {
			return buf[:n], nil
		}
	}

	return nil, pkgerrors.WithStack(ErrEntropyExhausted)
}

// passesQualityGate applies three checks: Shannon entropy at least 7
// bits/byte, no 2-8 byte pattern repeating three times in a row, and
// autocorrelation at or below 0.1 for lags 1 through 16.
func passesQualityGate(buf []byte) bool {
	if shannonEntropy(buf) < 7.0 {
		return false
	}

	if hasTripleRepeat(buf) {
		return false
	}

	if len(buf) >= 32 && maxAutocorrelation(buf, 16) > 0.1 {
		return false
	}

	return true
}

func shannonEntropy(buf []byte) float64 {
	if len(buf) == 0 {
		return 0
	}

	var counts [256]int

	for _, b := range buf {
		counts[b]++
	}

	total := float64(len(buf))
	entropy := 0.0

	for _, c := range counts {
		if c == 0 {
			continue
		}

		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// hasTripleRepeat reports whether any pattern of length 2 through 8
// repeats three consecutive times.
func hasTripleRepeat(buf []byte) bool {
	for patLen := 2; patLen <= 8; patLen++ {
		need := patLen * 3
		if len(buf) < need {
			continue
		}

		for start := 0; start+need <= len(buf); start++ {
			a := buf[start : start+patLen]
			b := buf[start+patLen : start+2*patLen]
			c := buf[start+2*patLen : start+3*patLen]

			if bytesEqual(a, b) && bytesEqual(b, c) {
				return true
			}
		}
	}

	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// maxAutocorrelation returns the largest magnitude Pearson autocorrelation
// across lags 1..maxLag.
func maxAutocorrelation(buf []byte, maxLag int) float64 {
	n := len(buf)

	mean := 0.0
	for _, b := range buf {
		mean += float64(b)
	}

	mean /= float64(n)

	variance := 0.0
	for _, b := range buf {
		d := float64(b) - mean
		variance += d * d
	}

	if variance == 0 {
		return 1
	}

	worst := 0.0

	for lag := 1; lag <= maxLag && lag < n; lag++ {
		cov := 0.0

		for i := 0; i+lag < n; i++ {
			cov += (float64(buf[i]) - mean) * (float64(buf[i+lag]) - mean)
		}

		corr := math.Abs(cov / variance)
		if corr > worst {
			worst = corr
		}
	}

	return worst
}

// CryptoKernel dispatches Encrypt/Decrypt/Sign over the algorithm enum,
// switching its defaults when the embedding SystemSecurityLevel is
// SystemMaximum : AES-256-GCM (256-bit keys hold their
// margin against a quantum adversary's speedup the way ChaCha20's
// don't-care key-size advantage does not) replaces ChaCha20-Poly1305 as
// the default symmetric cipher, and BLAKE3 replaces SHA-256 as the
// default digest.
type CryptoKernel struct {
	keys  *KeyStore
	rng   *RNG
	level SystemSecurityLevel
}

// NewCryptoKernel wires a CryptoKernel over ks and rng, starting at
// SystemNormal.
func NewCryptoKernel(ks *KeyStore, rng *RNG) *CryptoKernel {
	return &CryptoKernel{keys: ks, rng: rng, level: SystemNormal}
}

// SetLevel changes the level that gates default-algorithm selection.
func (c *CryptoKernel) SetLevel(level SystemSecurityLevel) { c.level = level }

// DefaultCipher returns the preferred symmetric algorithm at the current
// level. Encrypt and Decrypt do not consult it; they use the algorithm
// recorded with the key.
func (c *CryptoKernel) DefaultCipher() Algorithm {
	if c.level == SystemMaximum {
		return AES256GCM
	}

	return ChaCha20Poly1305
}

// DefaultHash returns the preferred digest algorithm at the current
// level. Hash does not consult it; it uses the algorithm it is given.
func (c *CryptoKernel) DefaultHash() HashAlgorithm {
	if c.level == SystemMaximum {
		return BLAKE3
	}

	return SHA256
}

// GenerateSymmetricKey draws a fresh 32-byte key from the RNG, stores it
// under id, and returns the record.
func (c *CryptoKernel) GenerateSymmetricKey(id string, algo Algorithm) (KeyRecord, error) {
	switch algo {
	case AES256GCM, ChaCha20Poly1305:
	default:
		return KeyRecord{}, fmt.Errorf("%w: %s", ErrAlgorithmUnavailable, algo)
	}

	raw, err := c.rng.Bytes(32)
	if err != nil {
		return KeyRecord{}, err
	}

	rec := KeyRecord{ID: id, Bytes: raw, Kind: Symmetric, Algo: algo}
	c.keys.Put(rec)

	return rec, nil
}

func aeadFor(algo Algorithm, key []byte) (cipher.AEAD, error) {
	switch algo {
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}

		return cipher.NewGCM(block)
	case ChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: %s", ErrAlgorithmUnavailable, algo)
	}
}

// Encrypt seals plaintext under the named key, returning nonce||ciphertext.
func (c *CryptoKernel) Encrypt(keyID string, aad, plaintext []byte) ([]byte, error) {
	rec, err := c.keys.Get(keyID)
	if err != nil {
		return nil, err
	}

	if rec.Kind != Symmetric {
		return nil, ErrWrongKeyKind
	}

	aead, err := aeadFor(rec.Algo, rec.Bytes)
	if err != nil {
		return nil, err
	}

	nonce, err := c.rng.Bytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, aad)

	return append(nonce, ciphertext...), nil
}

// Decrypt opens nonce||ciphertext sealed under the named key.
func (c *CryptoKernel) Decrypt(keyID string, aad, sealed []byte) ([]byte, error) {
	rec, err := c.keys.Get(keyID)
	if err != nil {
		return nil, err
	}

	if rec.Kind != Symmetric {
		return nil, ErrWrongKeyKind
	}

	aead, err := aeadFor(rec.Algo, rec.Bytes)
	if err != nil {
		return nil, err
	}

	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("security: sealed input shorter than nonce")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]

	return aead.Open(nil, nonce, ciphertext, aad)
}

// Sign reports ErrAlgorithmUnavailable for every algorithm, Dilithium5
// included: no post-quantum signature implementation is available
// anywhere in the reference corpus, so it never signs with a substitute
// scheme silently. There is no Verify.
func (c *CryptoKernel) Sign(keyID string, algo Algorithm, _ []byte) ([]byte, error) {
	if algo != Dilithium5 {
		return nil, fmt.Errorf("%w: %s", ErrAlgorithmUnavailable, algo)
	}

	return nil, fmt.Errorf("%w: %s", ErrAlgorithmUnavailable, algo)
}

// Hash digests data with the named algorithm.
func (c *CryptoKernel) Hash(algo HashAlgorithm, data []byte) []byte {
	if algo == BLAKE3 {
		sum := blake3.Sum256(data)

		return sum[:]
	}

	sum := sha256.Sum256(data)

	return sum[:]
}
