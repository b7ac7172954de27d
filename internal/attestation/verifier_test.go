package attestation

import (
	"bytes"
	"errors"
	"math"
	"testing"

	errorsmod "cosmossdk.io/errors"
	flatbuffers "github.com/google/flatbuffers/go"

	"Provability/internal/protocol"
	"Provability/internal/types"
)

const testNow = int64(1_700_000_000)

// newTestIssuer creates an issuer with a deterministic key.
func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()

	key, err := KeyFromSeed(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("KeyFromSeed: %v", err)
	}

	return NewIssuer(key, protocol.Hash{0xaa}, 3600)
}

// issue signs payload at testNow.
func issue(t *testing.T, iss *Issuer, payload []byte) []byte {
	t.Helper()

	raw, err := iss.Issue(payload, testNow)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	return raw
}

// resign mutates a decoded document and signs it again with key.
func resign(t *testing.T, raw []byte, key *Key, mutate func(d *Document)) []byte {
	t.Helper()

	doc, err := DecodeDocument(raw)
	if err != nil {
		t.Fatalf("DecodeDocument: %v", err)
	}

	mutate(doc)

	digest := doc.SigningDigest()
	copy(doc.Signature[:], key.Sign(digest[:]))

	return doc.Encode()
}

func TestVerifyValid(t *testing.T) {
	iss := newTestIssuer(t)
	raw := issue(t, iss, []byte("result"))

	trusted, err := NewBLSVerifier().Verify(raw, iss.Measurement(), iss.Key().Identity(), testNow+10)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if !bytes.Equal(trusted.Payload, []byte("result")) {
		t.Errorf("payload = %q, want result", trusted.Payload)
	}

	doc, _ := DecodeDocument(raw)
	if trusted.Nonce != doc.Nonce {
		t.Error("trusted nonce should be the document nonce")
	}
}

// TestVerifyIsPure verifies repeated verification gives the same answer.
func TestVerifyIsPure(t *testing.T) {
	iss := newTestIssuer(t)
	raw := issue(t, iss, []byte("result"))
	v := NewBLSVerifier()

	for i := 0; i < 3; i++ {
		if _, err := v.Verify(raw, iss.Measurement(), iss.Key().Identity(), testNow); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
}

func TestVerifyRejects(t *testing.T) {
	iss := newTestIssuer(t)
	raw := issue(t, iss, []byte("result"))

	other, err := KeyFromSeed(bytes.Repeat([]byte{9}, 32))
	if err != nil {
		t.Fatalf("KeyFromSeed: %v", err)
	}

	cases := []struct {
		name string
		raw  []byte
		now  int64
		want *errorsmod.Error
	}{
		{"garbage", []byte{1, 2, 3}, testNow, protocol.ErrAttestationInvalid},
		{"empty", nil, testNow, protocol.ErrAttestationInvalid},
		{"wrong measurement", resign(t, raw, iss.Key(), func(d *Document) { d.Measurement[0] = 0xbb }), testNow, protocol.ErrMeasurementMismatch},
		{"foreign attester", issue(t, NewIssuer(other, iss.Measurement(), 3600), []byte("result")), testNow, protocol.ErrAttesterMismatch},
		{"before issue", raw, testNow - 1, protocol.ErrAttestationInvalid},
		{"at expiry", raw, testNow + 3600, protocol.ErrAttestationInvalid},
		{"ttl too long", resign(t, raw, iss.Key(), func(d *Document) { d.ExpiresAt = d.IssuedAt + MaxTTL + 1 }), testNow, protocol.ErrAttestationInvalid},
		{"window spanning int64", resign(t, raw, iss.Key(), func(d *Document) {
			d.IssuedAt, d.ExpiresAt = math.MinInt64, math.MaxInt64-1
		}), testNow + 10*365*24*3600, protocol.ErrAttestationInvalid},
		{"inverted window", resign(t, raw, iss.Key(), func(d *Document) { d.ExpiresAt = d.IssuedAt }), testNow, protocol.ErrAttestationInvalid},
		{"payload swapped", swapPayload(t, raw, []byte("forged")), testNow, protocol.ErrAttestationInvalid},
		{"signed by stranger", stealKey(t, raw, iss.Key().PublicKey(), other), testNow, protocol.ErrAttestationInvalid},
		{"bad version", resign(t, raw, iss.Key(), func(d *Document) { d.Version = 2 }), testNow, protocol.ErrAttestationInvalid},
	}

	v := NewBLSVerifier()
	for _, c := range cases {
		_, err := v.Verify(c.raw, iss.Measurement(), iss.Key().Identity(), c.now)
		if !errors.Is(err, c.want) {
			t.Errorf("%s: got %v, want %v", c.name, err, c.want)
		}
	}
}

// swapPayload replaces the payload but keeps the original signature.
func swapPayload(t *testing.T, raw, payload []byte) []byte {
	t.Helper()

	doc, err := DecodeDocument(raw)
	if err != nil {
		t.Fatalf("DecodeDocument: %v", err)
	}

	doc.Payload = payload

	return doc.Encode()
}

// stealKey claims the honest attester key but signs with another key.
func stealKey(t *testing.T, raw, honestKey []byte, signer *Key) []byte {
	t.Helper()

	return resign(t, raw, signer, func(d *Document) {
		copy(d.AttesterKey[:], honestKey)
	})
}

func TestDecodeDocumentFieldSizes(t *testing.T) {
	builder := flatbuffers.NewBuilder(128)
	measurement := builder.CreateByteVector(make([]byte, 31))

	types.AttestationStart(builder)
	types.AttestationAddVersion(builder, Version)
	types.AttestationAddMeasurement(builder, measurement)
	builder.Finish(types.AttestationEnd(builder))

	if _, err := DecodeDocument(builder.FinishedBytes()); err == nil {
		t.Error("expected error for short measurement")
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	iss := newTestIssuer(t)
	raw := issue(t, iss, []byte("payload"))

	doc, err := DecodeDocument(raw)
	if err != nil {
		t.Fatalf("DecodeDocument: %v", err)
	}

	if !bytes.Equal(doc.Encode(), raw) {
		t.Error("re-encoding should be byte-identical")
	}

	if doc.ExpiresAt-doc.IssuedAt != 3600 {
		t.Errorf("window = %d, want 3600", doc.ExpiresAt-doc.IssuedAt)
	}
}

func TestIssuerClampsTTL(t *testing.T) {
	key, _ := KeyFromSeed(bytes.Repeat([]byte{1}, 32))

	if NewIssuer(key, protocol.Hash{}, 0).ttl != MaxTTL {
		t.Error("zero ttl should clamp to MaxTTL")
	}

	if NewIssuer(key, protocol.Hash{}, MaxTTL*2).ttl != MaxTTL {
		t.Error("oversized ttl should clamp to MaxTTL")
	}
}

func TestIssuerNoncesDiffer(t *testing.T) {
	iss := newTestIssuer(t)

	a, _ := DecodeDocument(issue(t, iss, []byte("x")))
	b, _ := DecodeDocument(issue(t, iss, []byte("x")))

	if a.Nonce == b.Nonce {
		t.Error("two issued documents share a nonce")
	}
}

func TestMock(t *testing.T) {
	m := NewMock()

	trusted, err := m.Verify([]byte("doc"), protocol.Hash{}, [32]byte{}, 0)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if !bytes.Equal(trusted.Payload, []byte("doc")) {
		t.Errorf("payload = %q, want doc", trusted.Payload)
	}

	m.Fail(protocol.ErrMeasurementMismatch)
	if _, err := m.Verify([]byte("doc"), protocol.Hash{}, [32]byte{}, 0); !errors.Is(err, protocol.ErrMeasurementMismatch) {
		t.Errorf("primed error not returned: %v", err)
	}

	m.Fail(nil)
	if _, err := m.Verify(nil, protocol.Hash{}, [32]byte{}, 0); !errors.Is(err, protocol.ErrAttestationInvalid) {
		t.Errorf("empty document accepted: %v", err)
	}

	if m.Calls() != 3 {
		t.Errorf("Calls = %d, want 3", m.Calls())
	}
}
