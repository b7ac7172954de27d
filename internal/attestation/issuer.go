package attestation

import (
	"crypto/rand"
	"fmt"

	"Provability/internal/protocol"
)

// Issuer signs attestation documents for one enclave measurement.
type Issuer struct {
	key         *Key          // key signs every document
	measurement protocol.Hash // measurement is stamped into every document
	ttl         int64         // ttl is the validity window in seconds
}

// NewIssuer creates an issuer. A ttl of zero or above MaxTTL is clamped to MaxTTL.
func NewIssuer(key *Key, measurement protocol.Hash, ttl int64) *Issuer {
	if ttl <= 0 || ttl > MaxTTL {
		ttl = MaxTTL
	}

	return &Issuer{key: key, measurement: measurement, ttl: ttl}
}

// Measurement returns the measurement the issuer attests to.
func (i *Issuer) Measurement() protocol.Hash {
	return i.measurement
}

// Key returns the signing key.
func (i *Issuer) Key() *Key {
	return i.key
}

// Issue produces an encoded document over payload valid from now for the issuer's ttl.
func (i *Issuer) Issue(payload []byte, now int64) ([]byte, error) {
	doc := &Document{
		Version:     Version,
		Measurement: i.measurement,
		IssuedAt:    now,
		ExpiresAt:   now + i.ttl,
		Payload:     append([]byte(nil), payload...),
	}

	if _, err := rand.Read(doc.Nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce:\n%w", err)
	}

	copy(doc.AttesterKey[:], i.key.PublicKey())

	digest := doc.SigningDigest()
	copy(doc.Signature[:], i.key.Sign(digest[:]))

	return doc.Encode(), nil
}
