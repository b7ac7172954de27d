package attestation

import (
	"encoding/binary"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/zeebo/blake3"

	"Provability/internal/protocol"
	"Provability/internal/types"
)

const (
	// Version is the only attestation document version accepted.
	Version = 1

	// NonceSize is the size of the per-document nonce.
	NonceSize = 32
)

// digestTag prefixes every signing digest.
var digestTag = []byte("provability/attestation/v1")

// Document is a decoded attestation: an enclave of a given measurement, holding a given
// attester key, vouches for payload within [IssuedAt, ExpiresAt).
type Document struct {
	Version     uint8               // Version must be 1
	Measurement protocol.Hash       // Measurement identifies the code that ran
	AttesterKey [PublicKeySize]byte // AttesterKey is the compressed G1 signing key
	Nonce       [NonceSize]byte     // Nonce makes each document single-use
	IssuedAt    int64               // IssuedAt is the first valid unix second
	ExpiresAt   int64               // ExpiresAt is the first invalid unix second
	Payload     []byte              // Payload is the attested result
	Signature   [SignatureSize]byte // Signature is the BLS signature over SigningDigest
}

// SigningDigest returns the 32-byte message the attester signs.
// The payload enters through its own blake3 hash so the digest is fixed-size.
func (d *Document) SigningDigest() [32]byte {
	payloadHash := blake3.Sum256(d.Payload)

	var ts [16]byte
	binary.LittleEndian.PutUint64(ts[0:8], uint64(d.IssuedAt))
	binary.LittleEndian.PutUint64(ts[8:16], uint64(d.ExpiresAt))

	h := blake3.New()
	h.Write(digestTag)
	h.Write([]byte{d.Version})
	h.Write(d.Measurement[:])
	h.Write(d.AttesterKey[:])
	h.Write(d.Nonce[:])
	h.Write(ts[:])
	h.Write(payloadHash[:])

	var out [32]byte
	h.Sum(out[:0])

	return out
}

// Encode serializes the document as a flatbuffers Attestation table.
func (d *Document) Encode() []byte {
	builder := flatbuffers.NewBuilder(256 + len(d.Payload))

	measurementOff := builder.CreateByteVector(d.Measurement[:])
	keyOff := builder.CreateByteVector(d.AttesterKey[:])
	nonceOff := builder.CreateByteVector(d.Nonce[:])
	payloadOff := builder.CreateByteVector(d.Payload)
	sigOff := builder.CreateByteVector(d.Signature[:])

	types.AttestationStart(builder)
	types.AttestationAddVersion(builder, d.Version)
	types.AttestationAddMeasurement(builder, measurementOff)
	types.AttestationAddAttesterKey(builder, keyOff)
	types.AttestationAddNonce(builder, nonceOff)
	types.AttestationAddIssuedAt(builder, d.IssuedAt)
	types.AttestationAddExpiresAt(builder, d.ExpiresAt)
	types.AttestationAddPayload(builder, payloadOff)
	types.AttestationAddSignature(builder, sigOff)
	builder.Finish(types.AttestationEnd(builder))

	return builder.FinishedBytes()
}

// DecodeDocument parses raw bytes into a Document, checking every fixed-size field.
func DecodeDocument(raw []byte) (*Document, error) {
	if len(raw) < flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("attestation too short: %d bytes", len(raw))
	}

	d := &Document{}

	var measurement, key, nonce, payload, sig []byte

	err := types.Read(func() {
		att := types.GetRootAsAttestation(raw, 0)

		d.Version = att.Version()
		d.IssuedAt = att.IssuedAt()
		d.ExpiresAt = att.ExpiresAt()
		measurement = att.MeasurementBytes()
		key = att.AttesterKeyBytes()
		nonce = att.NonceBytes()
		payload = att.PayloadBytes()
		sig = att.SignatureBytes()
	})
	if err != nil {
		return nil, err
	}

	if d.Version != Version {
		return nil, fmt.Errorf("unsupported attestation version %d", d.Version)
	}

	fields := []struct {
		name string
		dst  []byte
		src  []byte
	}{
		{"measurement", d.Measurement[:], measurement},
		{"attester key", d.AttesterKey[:], key},
		{"nonce", d.Nonce[:], nonce},
		{"signature", d.Signature[:], sig},
	}

	for _, f := range fields {
		if len(f.src) != len(f.dst) {
			return nil, fmt.Errorf("%s is %d bytes, want %d", f.name, len(f.src), len(f.dst))
		}
		copy(f.dst, f.src)
	}

	d.Payload = append([]byte(nil), payload...)

	return d, nil
}
