// Package attestation verifies and issues the enclave attestations that gate escrow payouts.
//
// A verifier is a pure function of the raw document, the bounty's committed measurement and
// attester, and the caller-supplied time. It never consults storage, so a finalize attempt
// can be re-simulated freely; single use is enforced by the ledger consuming the nonce.
package attestation

import (
	errorsmod "cosmossdk.io/errors"

	"Provability/internal/address"
	"Provability/internal/protocol"
)

// MaxTTL is the longest validity window accepted for a document, in seconds.
const MaxTTL = 24 * 60 * 60

// Trusted is what a successful verification yields.
type Trusted struct {
	Payload []byte          // Payload is the attested result bytes
	Nonce   [NonceSize]byte // Nonce identifies the document for replay protection
}

// Verifier checks an attestation against a bounty's committed enclave identity.
type Verifier interface {
	Verify(raw []byte, measurement protocol.Hash, attester address.Address, now int64) (*Trusted, error)
}

// BLSVerifier accepts version-1 documents signed by a BLS12-381 attester key.
type BLSVerifier struct {
	maxTTL int64 // maxTTL bounds ExpiresAt-IssuedAt
}

// NewBLSVerifier creates a verifier with the default validity bound.
func NewBLSVerifier() *BLSVerifier {
	return &BLSVerifier{maxTTL: MaxTTL}
}

// Verify decodes raw and runs the checks in a fixed order: structure, measurement,
// attester identity, validity window, signature.
func (v *BLSVerifier) Verify(raw []byte, measurement protocol.Hash, attester address.Address, now int64) (*Trusted, error) {
	doc, err := DecodeDocument(raw)
	if err != nil {
		return nil, errorsmod.Wrap(protocol.ErrAttestationInvalid, err.Error())
	}

	if doc.Measurement != measurement {
		return nil, errorsmod.Wrapf(protocol.ErrMeasurementMismatch, "got %s, want %s", doc.Measurement, measurement)
	}

	if id := AttesterIdentity(doc.AttesterKey[:]); id != attester {
		return nil, errorsmod.Wrapf(protocol.ErrAttesterMismatch, "got %s, want %s", id.Short(), attester.Short())
	}

	// ExpiresAt > IssuedAt, so the unsigned difference cannot wrap.
	if doc.ExpiresAt <= doc.IssuedAt || uint64(doc.ExpiresAt)-uint64(doc.IssuedAt) > uint64(v.maxTTL) {
		return nil, errorsmod.Wrapf(protocol.ErrAttestationInvalid, "validity window [%d, %d) rejected", doc.IssuedAt, doc.ExpiresAt)
	}

	if now < doc.IssuedAt || now >= doc.ExpiresAt {
		return nil, errorsmod.Wrapf(protocol.ErrAttestationInvalid, "time %d outside [%d, %d)", now, doc.IssuedAt, doc.ExpiresAt)
	}

	digest := doc.SigningDigest()
	if !verifySignature(doc.Signature[:], digest[:], doc.AttesterKey[:]) {
		return nil, errorsmod.Wrap(protocol.ErrAttestationInvalid, "signature does not verify")
	}

	return &Trusted{Payload: doc.Payload, Nonce: doc.Nonce}, nil
}
