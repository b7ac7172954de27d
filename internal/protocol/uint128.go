package protocol

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"math/bits"
)

// Uint128 is an unsigned 128-bit fixed-point numerator.
type Uint128 struct {
	Hi uint64 // Hi is the upper 64 bits
	Lo uint64 // Lo is the lower 64 bits
}

// U128 builds a Uint128 from a uint64.
func U128(v uint64) Uint128 {
	return Uint128{Lo: v}
}

// PutLE writes the value as 16 little-endian bytes into b.
func (u Uint128) PutLE(b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], u.Lo)
	binary.LittleEndian.PutUint64(b[8:16], u.Hi)
}

// Uint128FromLE reads 16 little-endian bytes.
func Uint128FromLE(b []byte) Uint128 {
	return Uint128{
		Lo: binary.LittleEndian.Uint64(b[0:8]),
		Hi: binary.LittleEndian.Uint64(b[8:16]),
	}
}

// Bytes returns the 16-byte little-endian encoding.
func (u Uint128) Bytes() []byte {
	b := make([]byte, 16)
	u.PutLE(b)
	return b
}

// Cmp returns -1, 0 or 1.
func (u Uint128) Cmp(v Uint128) int {
	switch {
	case u.Hi < v.Hi:
		return -1
	case u.Hi > v.Hi:
		return 1
	case u.Lo < v.Lo:
		return -1
	case u.Lo > v.Lo:
		return 1
	default:
		return 0
	}
}

// MulUint64 returns u*v and whether the product overflowed 128 bits.
func (u Uint128) MulUint64(v uint64) (Uint128, bool) {
	hiLo, lo := bits.Mul64(u.Lo, v)
	hiHi, hi := bits.Mul64(u.Hi, v)
	hi, carry := bits.Add64(hi, hiLo, 0)

	return Uint128{Hi: hi, Lo: lo}, hiHi != 0 || carry != 0
}

// Big returns the value as a big.Int.
func (u Uint128) Big() *big.Int {
	b := new(big.Int).SetUint64(u.Hi)
	b.Lsh(b, 64)

	return b.Or(b, new(big.Int).SetUint64(u.Lo))
}

// String returns the decimal representation.
func (u Uint128) String() string {
	if u.Hi == 0 {
		return fmt.Sprintf("%d", u.Lo)
	}

	return u.Big().String()
}

// ParseUint128 parses a decimal string.
func ParseUint128(s string) (Uint128, error) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok || b.Sign() < 0 || b.BitLen() > 128 {
		return Uint128{}, fmt.Errorf("invalid u128 %q", s)
	}

	lo := new(big.Int).And(b, new(big.Int).SetUint64(^uint64(0)))

	return Uint128{
		Hi: new(big.Int).Rsh(b, 64).Uint64(),
		Lo: lo.Uint64(),
	}, nil
}

// MarshalText implements encoding.TextMarshaler using decimal.
func (u Uint128) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *Uint128) UnmarshalText(text []byte) error {
	v, err := ParseUint128(string(text))
	if err != nil {
		return err
	}

	*u = v

	return nil
}
