package escrow

import (
	"encoding/binary"
	"math"

	errorsmod "cosmossdk.io/errors"

	"Provability/internal/address"
	"Provability/internal/protocol"
	"Provability/internal/storage"
)

// txn stages one operation's writes. Balances are read through and cached so a debit
// followed by a credit within the same operation sees its own writes. Nothing reaches
// storage until commit.
type txn struct {
	st       *store
	batch    *storage.WriteBatch
	balances map[address.Address]uint64 // balances holds read or staged balances
	touched  map[address.Address]bool   // touched marks balances to write back
	order    []address.Address          // order keeps write-back deterministic
}

// begin starts a transaction against the store.
func (s *store) begin() *txn {
	return &txn{
		st:       s,
		batch:    storage.NewWriteBatch(),
		balances: make(map[address.Address]uint64),
		touched:  make(map[address.Address]bool),
	}
}

// balance returns the staged balance of a.
func (t *txn) balance(a address.Address) (uint64, error) {
	if v, ok := t.balances[a]; ok {
		return v, nil
	}

	v, err := t.st.balance(a)
	if err != nil {
		return 0, err
	}

	t.balances[a] = v

	return v, nil
}

// set stages a new balance for a.
func (t *txn) set(a address.Address, v uint64) {
	t.balances[a] = v
	if !t.touched[a] {
		t.touched[a] = true
		t.order = append(t.order, a)
	}
}

// transfer moves amount from one account to another.
// Fails with InsufficientFunds when from cannot cover it.
func (t *txn) transfer(from, to address.Address, amount uint64) error {
	fromBal, err := t.balance(from)
	if err != nil {
		return err
	}

	if fromBal < amount {
		return errorsmod.Wrapf(protocol.ErrInsufficientFunds, "%s holds %d, needs %d", from.Short(), fromBal, amount)
	}

	toBal, err := t.balance(to)
	if err != nil {
		return err
	}

	if from != to && toBal > math.MaxUint64-amount {
		return errorsmod.Wrapf(protocol.ErrInvalidAmount, "credit to %s overflows", to.Short())
	}

	t.set(from, fromBal-amount)
	t.set(to, t.balances[to]+amount)

	return nil
}

// drain moves the whole balance of from to to and returns the amount moved.
func (t *txn) drain(from, to address.Address) (uint64, error) {
	amount, err := t.balance(from)
	if err != nil {
		return 0, err
	}

	return amount, t.transfer(from, to, amount)
}

// mint credits a without a source account. Used by genesis only.
func (t *txn) mint(a address.Address, amount uint64) error {
	bal, err := t.balance(a)
	if err != nil {
		return err
	}

	if bal > math.MaxUint64-amount {
		return errorsmod.Wrapf(protocol.ErrInvalidAmount, "mint to %s overflows", a.Short())
	}

	t.set(a, bal+amount)

	return nil
}

func (t *txn) putBounty(b *protocol.Bounty) {
	t.batch.Set(bountyKey(b.Address), encodeBounty(b))
}

func (t *txn) putSubmission(sub *protocol.Submission) {
	t.batch.Set(submissionKey(sub.Address), encodeSubmission(sub))
}

// consumeNonce marks an attestation nonce as used by bounty.
func (t *txn) consumeNonce(n [32]byte, bounty address.Address) {
	t.batch.Set(nonceKey(n), bounty[:])
}

func (t *txn) indexExpiry(b *protocol.Bounty) {
	t.batch.Set(expiryKey(b.DeadlineTs, b.Address), nil)
}

func (t *txn) unindexExpiry(b *protocol.Bounty) {
	t.batch.Delete(expiryKey(b.DeadlineTs, b.Address))
}

// setRaw stages an arbitrary key, for records outside the escrow tables.
func (t *txn) setRaw(key, value []byte) {
	t.batch.Set(key, value)
}

// commit writes staged balances and records in one atomic batch.
// Zero balances are deleted rather than stored.
func (t *txn) commit() error {
	for _, a := range t.order {
		v := t.balances[a]
		if v == 0 {
			t.batch.Delete(accountKey(a))
			continue
		}

		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], v)
		t.batch.Set(accountKey(a), buf[:])
	}

	return t.st.db.Apply(t.batch)
}
