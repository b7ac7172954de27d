package address

import (
	"testing"

	"pgregory.net/rapid"
)

func drawAddress(t *rapid.T, label string) Address {
	var a Address
	copy(a[:], rapid.SliceOfN(rapid.Byte(), Size, Size).Draw(t, label))
	return a
}

// TestDeriveDeterministic checks identical inputs always produce the same address.
func TestDeriveDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		creator := drawAddress(t, "creator")

		var seed [SeedSize]byte
		copy(seed[:], rapid.SliceOfN(rapid.Byte(), SeedSize, SeedSize).Draw(t, "seed"))

		if Bounty(creator, seed) != Bounty(creator, seed) {
			t.Fatal("bounty derivation is not deterministic")
		}
	})
}

// TestSubmissionDistinctPairs checks distinct (bounty, solver) pairs never collide.
func TestSubmissionDistinctPairs(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b1 := drawAddress(t, "b1")
		s1 := drawAddress(t, "s1")
		b2 := drawAddress(t, "b2")
		s2 := drawAddress(t, "s2")

		if b1 == b2 && s1 == s2 {
			t.Skip("identical pair")
		}

		if Submission(b1, s1) == Submission(b2, s2) {
			t.Fatalf("collision for (%s,%s) and (%s,%s)", b1, s1, b2, s2)
		}
	})
}

// TestDeriveTagSeparation verifies the same inputs under different tags differ.
func TestDeriveTagSeparation(t *testing.T) {
	b := Address{0x01}

	if Vault(b) == Derive(TagBounty, b[:]) {
		t.Error("vault and bounty tags must not collide")
	}
}

// TestDeriveLengthPrefix verifies input boundaries are part of the preimage.
func TestDeriveLengthPrefix(t *testing.T) {
	a := Derive("t", []byte("ab"), []byte("c"))
	b := Derive("t", []byte("a"), []byte("bc"))

	if a == b {
		t.Error("shifting bytes between inputs must change the address")
	}
}

func TestParseRoundTrip(t *testing.T) {
	a := Submission(Address{0xAA}, Address{0xBB})

	got, err := Parse(a.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got != a {
		t.Errorf("Parse(String()) = %s, want %s", got, a)
	}

	if _, err := Parse("abcd"); err == nil {
		t.Error("short hex should fail")
	}

	if _, err := Parse("zz"); err == nil {
		t.Error("invalid hex should fail")
	}
}
