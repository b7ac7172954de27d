// Package genesis bootstraps ledger balances from configuration.
package genesis

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/zeebo/blake3"

	"Provability/internal/address"
	"Provability/internal/escrow"
)

// Allocation is one configured initial balance.
type Allocation struct {
	// Address is the hex-encoded 32-byte account.
	Address string `mapstructure:"address" json:"address"`

	// Balance is credited to Address at bootstrap.
	Balance uint64 `mapstructure:"balance" json:"balance"`
}

// Parse validates configured allocations and returns them sorted by account.
// Duplicate accounts and zero balances are rejected.
func Parse(cfg []Allocation) ([]escrow.Allocation, error) {
	out := make([]escrow.Allocation, 0, len(cfg))
	seen := make(map[address.Address]bool, len(cfg))

	for i, c := range cfg {
		a, err := address.Parse(c.Address)
		if err != nil {
			return nil, fmt.Errorf("allocation %d:\n%w", i, err)
		}

		if c.Balance == 0 {
			return nil, fmt.Errorf("allocation %d: zero balance for %s", i, a.Short())
		}

		if seen[a] {
			return nil, fmt.Errorf("allocation %d: duplicate account %s", i, a.Short())
		}
		seen[a] = true

		out = append(out, escrow.Allocation{Account: a, Balance: c.Balance})
	}

	slices.SortFunc(out, func(x, y escrow.Allocation) int {
		return bytes.Compare(x.Account[:], y.Account[:])
	})

	return out, nil
}

// Hash identifies an allocation set. Allocations must be sorted as Parse returns them.
func Hash(allocs []escrow.Allocation) [32]byte {
	return blake3.Sum256(encodeAllocations(allocs))
}

// Apply credits the configured allocations if the ledger has not been bootstrapped.
// It reports whether balances were written.
func Apply(eng *escrow.Engine, cfg []Allocation) (bool, error) {
	allocs, err := Parse(cfg)
	if err != nil {
		return false, fmt.Errorf("parse genesis:\n%w", err)
	}

	return eng.ApplyGenesis(Hash(allocs), allocs)
}
