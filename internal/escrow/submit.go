package escrow

import (
	"context"
	"time"

	errorsmod "cosmossdk.io/errors"

	"Provability/internal/address"
	"Provability/internal/protocol"
)

// Submit records solver's predictions for bounty. Each solver holds one submission per
// bounty and it is never rewritten; a Rejected one may be finalized again.
func (e *Engine) Submit(ctx context.Context, bounty, solver address.Address, predsHash protocol.Hash, dataURI string) (*protocol.Submission, error) {
	start := time.Now()

	sub, err := e.submit(ctx, bounty, solver, predsHash, dataURI)
	e.observe(KindSubmit, start, err)

	return sub, err
}

func (e *Engine) submit(ctx context.Context, bounty, solver address.Address, predsHash protocol.Hash, dataURI string) (*protocol.Submission, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	if len(dataURI) > protocol.MaxDataURILen {
		return nil, errorsmod.Wrapf(protocol.ErrInvalidParams, "data uri is %d bytes, max %d", len(dataURI), protocol.MaxDataURILen)
	}

	addr := address.Submission(bounty, solver)

	unlock := e.locks.lock(bounty, addr)
	defer unlock()

	now := e.now()

	b, err := e.store.bounty(bounty)
	if err != nil {
		return nil, err
	}

	if b == nil {
		return nil, errorsmod.Wrapf(protocol.ErrBountyNotFound, "bounty %s", bounty.Short())
	}

	if b.State != protocol.BountyOpen {
		return nil, errorsmod.Wrapf(protocol.ErrBountyClosed, "bounty %s is %s", bounty.Short(), b.State)
	}

	if now >= b.DeadlineTs {
		return nil, errorsmod.Wrapf(protocol.ErrDeadlinePassed, "deadline %d reached at %d", b.DeadlineTs, now)
	}

	existing, err := e.store.submission(addr)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return nil, errorsmod.Wrapf(protocol.ErrAlreadySubmitted, "submission %s is %s", addr.Short(), existing.State)
	}

	sub := &protocol.Submission{
		Address:   addr,
		Bounty:    bounty,
		Solver:    solver,
		PredsHash: predsHash,
		DataURI:   dataURI,
		CreatedTs: now,
		State:     protocol.SubmissionPending,
	}

	t := e.store.begin()
	t.putSubmission(sub)

	if err := t.commit(); err != nil {
		return nil, err
	}

	e.log.Info("submission recorded", "bounty", bounty.Short(), "solver", solver.Short())
	e.emit(EventSubmitted, b, sub, now)

	return sub, nil
}
