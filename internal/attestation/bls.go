package attestation

import (
	"crypto/rand"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"

	"Provability/internal/address"
)

const (
	// PublicKeySize is the size of a compressed attester public key (G1).
	PublicKeySize = 48

	// SignatureSize is the size of a compressed attestation signature (G2).
	SignatureSize = 96
)

// blsDST is the domain separation tag for attestation signatures.
var blsDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// attesterTag prefixes the hash that turns an attester key into a 32-byte identity.
var attesterTag = []byte("provability/attester/v1")

// Key is an enclave's attestation signing key.
type Key struct {
	secret *blst.SecretKey // secret is the private scalar
	public *blst.P1Affine  // public is the G1 public key
}

// GenerateKey creates a key from a random seed.
func GenerateKey() (*Key, error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("generate random seed:\n%w", err)
	}

	return KeyFromSeed(ikm[:])
}

// KeyFromSeed derives a key deterministically. The seed must be at least 32 bytes.
func KeyFromSeed(seed []byte) (*Key, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes")
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("failed to generate BLS key")
	}

	return &Key{
		secret: secret,
		public: new(blst.P1Affine).From(secret),
	}, nil
}

// Sign returns the compressed signature over msg.
func (k *Key) Sign(msg []byte) []byte {
	return new(blst.P2Affine).Sign(k.secret, msg, blsDST).Compress()
}

// PublicKey returns the compressed public key.
func (k *Key) PublicKey() []byte {
	return k.public.Compress()
}

// Identity returns the attester address bounties commit to for this key.
func (k *Key) Identity() address.Address {
	return AttesterIdentity(k.PublicKey())
}

// AttesterIdentity hashes a compressed public key into the 32-byte attester identity
// stored on a bounty as allowedAttester.
func AttesterIdentity(publicKey []byte) address.Address {
	h := blake3.New()
	h.Write(attesterTag)
	h.Write(publicKey)

	var id address.Address
	h.Sum(id[:0])

	return id
}

// verifySignature checks a compressed signature against msg and a compressed public key.
func verifySignature(signature, msg, publicKey []byte) bool {
	if len(signature) != SignatureSize || len(publicKey) != PublicKeySize {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(publicKey)
	if pk == nil {
		return false
	}

	return sig.Verify(true, pk, true, msg, blsDST)
}
