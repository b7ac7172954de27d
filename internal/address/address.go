// Package address derives stable 32-byte account addresses from a namespace tag and inputs.
//
// A derived address is never chosen by a party: it is blake3 over a domain separator,
// the tag and every input, each length-prefixed so that distinct input tuples can never
// encode to the same preimage.
package address

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Size is the byte length of an address.
const Size = 32

// SeedSize is the byte length of a creator-supplied bounty seed.
const SeedSize = 16

// Namespace tags.
const (
	TagBounty     = "bounty"
	TagVault      = "vault"
	TagSubmission = "submission"
)

// domain separates address preimages from every other blake3 use in the system.
var domain = []byte("provability/address/v1")

// Address is a 32-byte account identifier. Principals are opaque public keys of the same size.
type Address [Size]byte

// Zero is the all-zero address.
var Zero Address

// Derive computes the address for tag over inputs. Identical arguments always yield the
// same address.
func Derive(tag string, inputs ...[]byte) Address {
	h := blake3.New()
	h.Write(domain)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(tag)))
	h.Write(lenBuf[:])
	h.Write([]byte(tag))

	for _, in := range inputs {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(in)))
		h.Write(lenBuf[:])
		h.Write(in)
	}

	var out Address
	h.Sum(out[:0])

	return out
}

// Bounty returns the bounty address for a creator and its random seed.
func Bounty(creator Address, seed [SeedSize]byte) Address {
	return Derive(TagBounty, creator[:], seed[:])
}

// Vault returns the custody account of a bounty.
func Vault(bounty Address) Address {
	return Derive(TagVault, bounty[:])
}

// Submission returns the unique submission address for a solver on a bounty.
func Submission(bounty, solver Address) Address {
	return Derive(TagSubmission, bounty[:], solver[:])
}

// FromBytes copies b into an address. b must be exactly Size bytes.
func FromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != Size {
		return a, fmt.Errorf("address must be %d bytes, got %d", Size, len(b))
	}

	copy(a[:], b)

	return a, nil
}

// Parse decodes a hex address.
func Parse(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("decode address: %w", err)
	}

	return FromBytes(b)
}

// String returns the lowercase hex encoding.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Short returns the first 8 hex characters, for logs.
func (a Address) Short() string {
	return hex.EncodeToString(a[:4])
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == Zero
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*a = parsed

	return nil
}
