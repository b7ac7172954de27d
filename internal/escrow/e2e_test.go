package escrow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"Provability/internal/protocol"
)

// TestEndToEndPayout follows the happy path: 50_000_000 locked for an hour with
// n=100, scale=10, T2=50; a passing attestation pays the solver once.
func TestEndToEndPayout(t *testing.T) {
	env := newTestEnv(t)

	b, err := env.engine.CreateBounty(testCtx, testCreator, env.params(1))
	require.NoError(t, err)
	require.Equal(t, protocol.BountyOpen, b.State)
	require.Equal(t, uint64(50_000_000), env.balance(t, b.Vault))

	sub, err := env.engine.Submit(testCtx, b.Address, testSolver, protocol.Hash{0x48}, "ipfs://preds")
	require.NoError(t, err)

	env.clock.Advance(60)
	payload, att := env.attest(t, b, sub, true)

	res, err := env.finalize(b, sub, payload, att)
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, res.Outcome)
	require.Equal(t, uint64(50_000_000), res.Paid)

	require.Zero(t, env.balance(t, b.Vault))
	require.Equal(t, testFunds+50_000_000, env.balance(t, testSolver))
	require.Equal(t, testFunds-50_000_000, env.balance(t, testCreator))

	stored, err := env.engine.Bounty(b.Address)
	require.NoError(t, err)
	require.Equal(t, protocol.BountyFinalized, stored.State)

	_, err = env.finalize(b, sub, payload, att)
	require.ErrorIs(t, err, protocol.ErrBountyAlreadyFinalized)
	require.Equal(t, testFunds+50_000_000, env.balance(t, testSolver))
}

// TestEndToEndReclaim lets the deadline pass without a payout; the creator recovers the
// vault and later finalize attempts see a closed bounty.
func TestEndToEndReclaim(t *testing.T) {
	env := newTestEnv(t)

	b, err := env.engine.CreateBounty(testCtx, testCreator, env.params(1))
	require.NoError(t, err)

	sub, err := env.engine.Submit(testCtx, b.Address, testSolver, protocol.Hash{0x48}, "ipfs://preds")
	require.NoError(t, err)

	payload, att := env.attest(t, b, sub, true)

	env.clock.Set(b.DeadlineTs)

	reclaimed, err := env.engine.Reclaim(testCtx, b.Address, testCreator)
	require.NoError(t, err)
	require.Equal(t, protocol.BountyExpired, reclaimed.State)
	require.Zero(t, env.balance(t, b.Vault))
	require.Equal(t, testFunds, env.balance(t, testCreator))

	env.clock.Set(testStart + 1)

	_, err = env.finalize(b, sub, payload, att)
	require.ErrorIs(t, err, protocol.ErrBountyClosed)
	require.Equal(t, testFunds, env.balance(t, testSolver))
}
