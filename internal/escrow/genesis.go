package escrow

import (
	"bytes"
	"fmt"

	"Provability/internal/address"
)

// genesisKey holds the hash of the allocation set applied at bootstrap.
var genesisKey = []byte("g:genesis")

// Allocation is an initial account balance.
type Allocation struct {
	Account address.Address
	Balance uint64
}

// ApplyGenesis credits allocs exactly once per ledger. The first call stores hash
// alongside the balances; later calls with the same hash are no-ops and report false,
// and a different hash is an error since the ledger was bootstrapped from other terms.
func (e *Engine) ApplyGenesis(hash [32]byte, allocs []Allocation) (bool, error) {
	accounts := make([]address.Address, len(allocs))
	for i, a := range allocs {
		accounts[i] = a.Account
	}

	unlock := e.locks.lock(accounts...)
	defer unlock()

	stored, err := e.store.db.Get(genesisKey)
	if err != nil {
		return false, err
	}

	if stored != nil {
		if !bytes.Equal(stored, hash[:]) {
			return false, fmt.Errorf("ledger bootstrapped with genesis %x, config has %x", stored, hash)
		}
		return false, nil
	}

	t := e.store.begin()

	for _, a := range allocs {
		if err := t.mint(a.Account, a.Balance); err != nil {
			return false, err
		}
	}

	t.setRaw(genesisKey, hash[:])

	if err := t.commit(); err != nil {
		return false, fmt.Errorf("commit genesis:\n%w", err)
	}

	e.log.Info("genesis applied", "accounts", len(allocs))

	return true, nil
}
