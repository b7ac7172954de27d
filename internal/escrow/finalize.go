package escrow

import (
	"bytes"
	"context"
	"time"

	errorsmod "cosmossdk.io/errors"

	"Provability/internal/address"
	"Provability/internal/protocol"
)

// FinalizeParams identify the submission being judged and carry the enclave's evidence.
type FinalizeParams struct {
	Bounty      address.Address // Bounty is the bounty to settle
	Submission  address.Address // Submission is the submission the payload is about
	Payload     []byte          // Payload is the encoded AttestedResult
	Attestation []byte          // Attestation vouches for Payload
	Caller      address.Address // Caller submitted the finalize; anyone may
}

// Outcome is the result of a finalize that passed every integrity check.
type Outcome uint8

const (
	// OutcomePaid means the vault paid the solver and the bounty is Finalized.
	OutcomePaid Outcome = iota + 1

	// OutcomeThresholdNotMet means the submission was Rejected and the bounty stays Open.
	OutcomeThresholdNotMet
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomePaid:
		return "paid"
	case OutcomeThresholdNotMet:
		return "threshold_not_met"
	default:
		return "unknown"
	}
}

// FinalizeResult reports a committed finalize.
type FinalizeResult struct {
	Outcome    Outcome
	Bounty     *protocol.Bounty
	Submission *protocol.Submission
	Paid       uint64 // Paid is the amount moved to the solver
}

// Err returns ThresholdNotMet for a negative outcome and nil otherwise. Callers that
// treat the negative outcome as a failure can use it; the ledger does not.
func (r *FinalizeResult) Err() error {
	if r.Outcome == OutcomeThresholdNotMet {
		return errorsmod.Wrapf(protocol.ErrThresholdNotMet, "submission %s", r.Submission.Address.Short())
	}

	return nil
}

// Finalize judges a submission by its attested result. A passing result pays the vault
// to the solver; a failing one rejects the submission and leaves the bounty Open. A
// Rejected submission may be judged again with a fresh attestation. Both outcomes
// consume the attestation nonce. Any integrity failure writes nothing.
func (e *Engine) Finalize(ctx context.Context, p FinalizeParams) (*FinalizeResult, error) {
	start := time.Now()

	res, err := e.finalize(ctx, p)
	e.observe(KindFinalize, start, err)

	switch {
	case err != nil:
		e.metrics.ObserveFinalize(protocol.ClassOf(err).String())
	default:
		e.metrics.ObserveFinalize(res.Outcome.String())
	}

	return res, err
}

func (e *Engine) finalize(ctx context.Context, p FinalizeParams) (*FinalizeResult, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	// The solver account is credited on payout, so it joins the lock set. Solvers never
	// change once a submission exists, so a peek outside the lock is stable; the loop
	// only repeats if the submission appeared in between.
	for {
		peek, err := e.store.submission(p.Submission)
		if err != nil {
			return nil, err
		}

		keys := []address.Address{p.Bounty}
		if peek != nil {
			keys = append(keys, peek.Solver)
		}

		unlock := e.locks.lock(keys...)
		res, retry, err := e.finalizeLocked(p, peek != nil)
		unlock()

		if !retry {
			return res, err
		}
	}
}

// finalizeLocked runs the checks and the commit. It asks for a retry when the
// submission exists but its solver was not locked.
func (e *Engine) finalizeLocked(p FinalizeParams, solverLocked bool) (*FinalizeResult, bool, error) {
	now := e.now()

	b, err := e.store.bounty(p.Bounty)
	if err != nil {
		return nil, false, err
	}

	if err := checkFinalizable(b, p.Bounty, now); err != nil {
		return nil, false, err
	}

	sub, err := e.store.submission(p.Submission)
	if err != nil {
		return nil, false, err
	}

	if sub == nil || sub.Bounty != b.Address {
		return nil, false, errorsmod.Wrapf(protocol.ErrSubmissionNotFound, "submission %s for bounty %s", p.Submission.Short(), b.Address.Short())
	}

	if !solverLocked {
		return nil, true, nil
	}

	if sub.State == protocol.SubmissionAccepted {
		return nil, false, errorsmod.Wrapf(protocol.ErrSubmissionNotPending, "submission %s is %s", sub.Address.Short(), sub.State)
	}

	trusted, err := e.verifier.Verify(p.Attestation, b.AllowedMeasurement, b.AllowedAttester, now)
	if err != nil {
		return nil, false, err
	}

	if !bytes.Equal(trusted.Payload, p.Payload) {
		return nil, false, errorsmod.Wrap(protocol.ErrPayloadDigestMismatch, "payload differs from the attested payload")
	}

	result, err := protocol.DecodeResult(p.Payload)
	if err != nil {
		return nil, false, errorsmod.Wrap(protocol.ErrPayloadMalformed, err.Error())
	}

	if field := result.MismatchedField(b, sub); field != "" {
		return nil, false, errorsmod.Wrapf(protocol.ErrCommitmentMismatch, "%s differs from the stored commitment", field)
	}

	consumed, err := e.store.nonceConsumed(trusted.Nonce)
	if err != nil {
		return nil, false, err
	}

	if consumed {
		return nil, false, errorsmod.Wrapf(protocol.ErrAttestationReplayed, "nonce %x", trusted.Nonce[:8])
	}

	if !result.Pass {
		res, err := e.reject(b, sub, trusted.Nonce, now)
		return res, false, err
	}

	res, err := e.pay(b, sub, trusted.Nonce, now)

	return res, false, err
}

// checkFinalizable applies the bounty-level guards shared by finalize attempts.
func checkFinalizable(b *protocol.Bounty, addr address.Address, now int64) error {
	if b == nil {
		return errorsmod.Wrapf(protocol.ErrBountyNotFound, "bounty %s", addr.Short())
	}

	switch b.State {
	case protocol.BountyOpen:
	case protocol.BountyFinalized:
		return errorsmod.Wrapf(protocol.ErrBountyAlreadyFinalized, "bounty %s", addr.Short())
	default:
		return errorsmod.Wrapf(protocol.ErrBountyClosed, "bounty %s is %s", addr.Short(), b.State)
	}

	if now >= b.DeadlineTs {
		return errorsmod.Wrapf(protocol.ErrDeadlinePassed, "deadline %d reached at %d", b.DeadlineTs, now)
	}

	return nil
}

// reject commits a failing result: the submission becomes Rejected, funds stay put.
func (e *Engine) reject(b *protocol.Bounty, sub *protocol.Submission, nonce [32]byte, now int64) (*FinalizeResult, error) {
	rejected := *sub
	rejected.State = protocol.SubmissionRejected

	t := e.store.begin()
	t.putSubmission(&rejected)
	t.consumeNonce(nonce, b.Address)

	if err := t.commit(); err != nil {
		return nil, err
	}

	e.log.Info("threshold not met", "bounty", b.Address.Short(), "solver", sub.Solver.Short())
	e.emit(EventSubmissionRejected, b, &rejected, now)

	return &FinalizeResult{Outcome: OutcomeThresholdNotMet, Bounty: b, Submission: &rejected}, nil
}

// pay commits a passing result: the vault pays the solver and the bounty closes.
func (e *Engine) pay(b *protocol.Bounty, sub *protocol.Submission, nonce [32]byte, now int64) (*FinalizeResult, error) {
	finalized := *b
	finalized.State = protocol.BountyFinalized
	finalized.ClosedTs = now

	accepted := *sub
	accepted.State = protocol.SubmissionAccepted

	t := e.store.begin()

	paid, err := t.drain(b.Vault, sub.Solver)
	if err != nil {
		return nil, err
	}

	t.putBounty(&finalized)
	t.putSubmission(&accepted)
	t.unindexExpiry(b)
	t.consumeNonce(nonce, b.Address)

	if err := t.commit(); err != nil {
		return nil, err
	}

	e.metrics.AddVaultLocked(-float64(paid))
	e.log.Info("bounty finalized", "bounty", b.Address.Short(), "solver", sub.Solver.Short(), "paid", paid)
	e.emit(EventBountyFinalized, &finalized, &accepted, now)

	return &FinalizeResult{Outcome: OutcomePaid, Bounty: &finalized, Submission: &accepted, Paid: paid}, nil
}
