package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"Provability/internal/address"
)

// ResultSize is the exact encoded size of an AttestedResult.
const ResultSize = 32 + 32 + 32 + 32 + 1 + 32 + 32 + 4 + 4 + 16

// AttestedResult is the payload an enclave attests to.
//
// Wire layout, little-endian, no padding:
//
//	bounty[32] | submission[32] | solver[32] | predsHash[32] | pass[1] |
//	testsetCommitment[32] | evalSpecHash[32] | n:u32 | scale:u32 | thresholdT2:u128
type AttestedResult struct {
	Bounty            address.Address
	Submission        address.Address
	Solver            address.Address
	PredsHash         Hash
	Pass              bool
	TestsetCommitment Hash
	EvalSpecHash      Hash
	N                 uint32
	Scale             uint32
	ThresholdT2       Uint128
}

// Encode returns the ResultSize-byte wire form.
func (r *AttestedResult) Encode() []byte {
	buf := make([]byte, ResultSize)
	off := 0

	off += copy(buf[off:], r.Bounty[:])
	off += copy(buf[off:], r.Submission[:])
	off += copy(buf[off:], r.Solver[:])
	off += copy(buf[off:], r.PredsHash[:])

	if r.Pass {
		buf[off] = 1
	}
	off++

	off += copy(buf[off:], r.TestsetCommitment[:])
	off += copy(buf[off:], r.EvalSpecHash[:])

	binary.LittleEndian.PutUint32(buf[off:], r.N)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], r.Scale)
	off += 4
	r.ThresholdT2.PutLE(buf[off:])

	return buf
}

// DecodeResult parses the wire form. The input must be exactly ResultSize bytes and the
// pass byte must be 0 or 1.
func DecodeResult(data []byte) (*AttestedResult, error) {
	if len(data) != ResultSize {
		return nil, fmt.Errorf("attested result is %d bytes, want %d", len(data), ResultSize)
	}

	r := &AttestedResult{}
	off := 0

	off += copy(r.Bounty[:], data[off:])
	off += copy(r.Submission[:], data[off:])
	off += copy(r.Solver[:], data[off:])
	off += copy(r.PredsHash[:], data[off:])

	switch data[off] {
	case 0:
	case 1:
		r.Pass = true
	default:
		return nil, fmt.Errorf("invalid pass byte 0x%02x", data[off])
	}
	off++

	off += copy(r.TestsetCommitment[:], data[off:])
	off += copy(r.EvalSpecHash[:], data[off:])

	r.N = binary.LittleEndian.Uint32(data[off:])
	off += 4
	r.Scale = binary.LittleEndian.Uint32(data[off:])
	off += 4
	r.ThresholdT2 = Uint128FromLE(data[off:])

	return r, nil
}

// ExpectedResult builds the result an honest enclave would attest for sub on b.
func ExpectedResult(b *Bounty, sub *Submission, pass bool) *AttestedResult {
	return &AttestedResult{
		Bounty:            b.Address,
		Submission:        sub.Address,
		Solver:            sub.Solver,
		PredsHash:         sub.PredsHash,
		Pass:              pass,
		TestsetCommitment: b.TestsetCommitment,
		EvalSpecHash:      b.EvalSpecHash,
		N:                 b.N,
		Scale:             b.Scale,
		ThresholdT2:       b.ThresholdT2,
	}
}

// MismatchedField returns the name of the first field of r that does not match the
// stored bounty and submission, or "" when every commitment matches.
func (r *AttestedResult) MismatchedField(b *Bounty, sub *Submission) string {
	switch {
	case r.Bounty != b.Address:
		return "bounty"
	case r.Submission != sub.Address:
		return "submission"
	case r.Solver != sub.Solver:
		return "solver"
	case r.PredsHash != sub.PredsHash:
		return "predsHash"
	case r.EvalSpecHash != b.EvalSpecHash:
		return "evalSpecHash"
	case r.TestsetCommitment != b.TestsetCommitment:
		return "testsetCommitment"
	case r.N != b.N:
		return "n"
	case r.Scale != b.Scale:
		return "scale"
	case r.ThresholdT2 != b.ThresholdT2:
		return "thresholdT2"
	default:
		return ""
	}
}

// String returns the hex form of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decode hash: %w", err)
	}
	if len(b) != len(h) {
		return fmt.Errorf("hash must be %d bytes, got %d", len(h), len(b))
	}

	copy(h[:], b)

	return nil
}
