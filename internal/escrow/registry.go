package escrow

import (
	"context"
	"time"

	errorsmod "cosmossdk.io/errors"

	"Provability/internal/address"
	"Provability/internal/protocol"
)

// CreateBountyParams are the creator-chosen terms of a bounty.
type CreateBountyParams struct {
	Seed               [address.SeedSize]byte // Seed distinguishes bounties of one creator
	Amount             uint64                 // Amount is locked in the vault
	DeadlineTs         int64                  // DeadlineTs is the first second submissions close
	N                  uint32                 // N is the evaluation sample count
	Scale              uint32                 // Scale is the fixed-point scale of ThresholdT2
	ThresholdT2        protocol.Uint128       // ThresholdT2 bounds mean squared error as T2/Scale
	EvalSpecHash       protocol.Hash          // EvalSpecHash commits to the evaluation procedure
	TestsetCommitment  protocol.Hash          // TestsetCommitment is the merkle root of the test split
	AllowedMeasurement protocol.Hash          // AllowedMeasurement is the accepted enclave code
	AllowedAttester    address.Address        // AllowedAttester is the accepted attester identity
}

// validate checks the parameters that do not depend on ledger state.
func (p *CreateBountyParams) validate(now int64) error {
	if p.Amount == 0 {
		return errorsmod.Wrap(protocol.ErrInvalidAmount, "amount must be positive")
	}

	if p.DeadlineTs <= now {
		return errorsmod.Wrapf(protocol.ErrInvalidDeadline, "deadline %d not after %d", p.DeadlineTs, now)
	}

	if p.N == 0 || p.Scale == 0 {
		return errorsmod.Wrapf(protocol.ErrInvalidParams, "n=%d scale=%d must be positive", p.N, p.Scale)
	}

	return nil
}

// CreateBounty locks Amount from creator into a new bounty's vault.
// The bounty address is derived from (creator, seed); reusing a seed fails BountyExists.
func (e *Engine) CreateBounty(ctx context.Context, creator address.Address, p CreateBountyParams) (*protocol.Bounty, error) {
	start := time.Now()

	b, err := e.createBounty(ctx, creator, p)
	e.observe(KindCreateBounty, start, err)

	return b, err
}

func (e *Engine) createBounty(ctx context.Context, creator address.Address, p CreateBountyParams) (*protocol.Bounty, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	now := e.now()
	if err := p.validate(now); err != nil {
		return nil, err
	}

	addr := address.Bounty(creator, p.Seed)

	unlock := e.locks.lock(addr, creator)
	defer unlock()

	existing, err := e.store.bounty(addr)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return nil, errorsmod.Wrapf(protocol.ErrBountyExists, "bounty %s", addr.Short())
	}

	b := &protocol.Bounty{
		Address:            addr,
		Creator:            creator,
		Vault:              address.Vault(addr),
		Seed:               p.Seed,
		Amount:             p.Amount,
		DeadlineTs:         p.DeadlineTs,
		CreatedTs:          now,
		N:                  p.N,
		Scale:              p.Scale,
		ThresholdT2:        p.ThresholdT2,
		EvalSpecHash:       p.EvalSpecHash,
		TestsetCommitment:  p.TestsetCommitment,
		AllowedMeasurement: p.AllowedMeasurement,
		AllowedAttester:    p.AllowedAttester,
		State:              protocol.BountyOpen,
	}

	t := e.store.begin()

	if err := t.transfer(creator, b.Vault, p.Amount); err != nil {
		return nil, err
	}

	t.putBounty(b)
	t.indexExpiry(b)

	if err := t.commit(); err != nil {
		return nil, err
	}

	e.metrics.AddVaultLocked(float64(p.Amount))
	e.log.Info("bounty created", "bounty", addr.Short(), "creator", creator.Short(), "amount", p.Amount, "deadline", p.DeadlineTs)
	e.emit(EventBountyCreated, b, nil, now)

	return b, nil
}
