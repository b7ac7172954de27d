package escrow

import (
	"context"
	"time"

	errorsmod "cosmossdk.io/errors"

	"Provability/internal/address"
	"Provability/internal/protocol"
)

// Reclaim returns the vault to the creator once the deadline has passed without a payout.
// The checks run in order: caller is the creator, bounty is Open, deadline reached.
func (e *Engine) Reclaim(ctx context.Context, bounty, caller address.Address) (*protocol.Bounty, error) {
	start := time.Now()

	b, err := e.reclaim(ctx, bounty, caller)
	e.observe(KindReclaim, start, err)

	return b, err
}

func (e *Engine) reclaim(ctx context.Context, bounty, caller address.Address) (*protocol.Bounty, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	// Only the creator can succeed, and the creator is the account credited.
	unlock := e.locks.lock(bounty, caller)
	defer unlock()

	now := e.now()

	b, err := e.store.bounty(bounty)
	if err != nil {
		return nil, err
	}

	if b == nil {
		return nil, errorsmod.Wrapf(protocol.ErrBountyNotFound, "bounty %s", bounty.Short())
	}

	if caller != b.Creator {
		return nil, errorsmod.Wrapf(protocol.ErrNotCreator, "caller %s, creator %s", caller.Short(), b.Creator.Short())
	}

	switch b.State {
	case protocol.BountyOpen:
	case protocol.BountyFinalized:
		return nil, errorsmod.Wrapf(protocol.ErrBountyAlreadyFinalized, "bounty %s", bounty.Short())
	default:
		return nil, errorsmod.Wrapf(protocol.ErrBountyClosed, "bounty %s is %s", bounty.Short(), b.State)
	}

	if now < b.DeadlineTs {
		return nil, errorsmod.Wrapf(protocol.ErrNotExpired, "deadline %d not reached at %d", b.DeadlineTs, now)
	}

	expired := *b
	expired.State = protocol.BountyExpired
	expired.ClosedTs = now

	t := e.store.begin()

	refunded, err := t.drain(b.Vault, b.Creator)
	if err != nil {
		return nil, err
	}

	t.putBounty(&expired)
	t.unindexExpiry(b)

	if err := t.commit(); err != nil {
		return nil, err
	}

	e.metrics.AddVaultLocked(-float64(refunded))
	e.log.Info("bounty reclaimed", "bounty", bounty.Short(), "refunded", refunded)
	e.emit(EventBountyReclaimed, &expired, nil, now)

	return &expired, nil
}

// ExpiredBounties lists up to limit Open bounties whose deadline has passed, earliest
// first. These are the bounties a creator may reclaim. A limit of zero lists all.
func (e *Engine) ExpiredBounties(limit int) ([]*protocol.Bounty, error) {
	addrs, err := e.store.expired(e.now(), limit)
	if err != nil {
		return nil, err
	}

	out := make([]*protocol.Bounty, 0, len(addrs))
	for _, a := range addrs {
		b, err := e.store.bounty(a)
		if err != nil {
			return nil, err
		}

		if b != nil && b.State == protocol.BountyOpen {
			out = append(out, b)
		}
	}

	return out, nil
}
