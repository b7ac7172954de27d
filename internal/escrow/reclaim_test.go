package escrow

import (
	"errors"
	"testing"

	"Provability/internal/address"
	"Provability/internal/protocol"
)

func TestReclaimBeforeDeadline(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBounty(t, 1)

	env.clock.Set(b.DeadlineTs - 1)
	before := env.ledgerDump(t)

	if _, err := env.engine.Reclaim(testCtx, b.Address, testCreator); !errors.Is(err, protocol.ErrNotExpired) {
		t.Fatalf("got %v, want NotExpired", err)
	}

	assertUnchanged(t, env, before)
}

func TestReclaimAtDeadline(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBounty(t, 1)

	env.clock.Set(b.DeadlineTs)

	got, err := env.engine.Reclaim(testCtx, b.Address, testCreator)
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}

	if got.State != protocol.BountyExpired || got.ClosedTs != b.DeadlineTs {
		t.Errorf("bounty = %s closed at %d", got.State, got.ClosedTs)
	}

	if v := env.balance(t, b.Vault); v != 0 {
		t.Errorf("vault = %d, want 0", v)
	}

	if v := env.balance(t, testCreator); v != testFunds {
		t.Errorf("creator = %d, want %d", v, testFunds)
	}
}

func TestReclaimGuards(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBounty(t, 1)
	env.clock.Set(b.DeadlineTs + 1)

	if _, err := env.engine.Reclaim(testCtx, address.Address{0xff}, testCreator); !errors.Is(err, protocol.ErrBountyNotFound) {
		t.Errorf("unknown bounty: got %v", err)
	}

	_, err := env.engine.Reclaim(testCtx, b.Address, testSolver)
	if !errors.Is(err, protocol.ErrNotCreator) || protocol.ClassOf(err) != protocol.ClassAuth {
		t.Errorf("stranger: got %v", err)
	}

	if _, err := env.engine.Reclaim(testCtx, b.Address, testCreator); err != nil {
		t.Fatalf("Reclaim: %v", err)
	}

	if _, err := env.engine.Reclaim(testCtx, b.Address, testCreator); !errors.Is(err, protocol.ErrBountyClosed) {
		t.Errorf("repeat: got %v", err)
	}
}

// TestReclaimCheckOrder verifies the creator check runs before the state and time checks.
func TestReclaimCheckOrder(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBounty(t, 1)

	if _, err := env.engine.Reclaim(testCtx, b.Address, testSolver); !errors.Is(err, protocol.ErrNotCreator) {
		t.Errorf("stranger before deadline: got %v", err)
	}
}

func TestReclaimFinalized(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBounty(t, 1)
	sub := env.submit(t, b, testSolver)
	payload, att := env.attest(t, b, sub, true)

	if _, err := env.finalize(b, sub, payload, att); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	env.clock.Set(b.DeadlineTs)
	if _, err := env.engine.Reclaim(testCtx, b.Address, testCreator); !errors.Is(err, protocol.ErrBountyAlreadyFinalized) {
		t.Errorf("got %v, want BountyAlreadyFinalized", err)
	}
}

func TestExpiredBounties(t *testing.T) {
	env := newTestEnv(t)

	early := env.createBounty(t, 1)

	p := env.params(2)
	p.DeadlineTs = testStart + 7200
	late, err := env.engine.CreateBounty(testCtx, testCreator, p)
	if err != nil {
		t.Fatalf("CreateBounty: %v", err)
	}

	paid := env.createBounty(t, 3)
	sub := env.submit(t, paid, testSolver)
	payload, att := env.attest(t, paid, sub, true)
	if _, err := env.finalize(paid, sub, payload, att); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	env.clock.Set(early.DeadlineTs - 1)
	if got, _ := env.engine.ExpiredBounties(0); len(got) != 0 {
		t.Errorf("before any deadline: %d expired", len(got))
	}

	env.clock.Set(early.DeadlineTs)
	got, err := env.engine.ExpiredBounties(0)
	if err != nil {
		t.Fatalf("ExpiredBounties: %v", err)
	}

	if len(got) != 1 || got[0].Address != early.Address {
		t.Fatalf("expired = %v, want only the early bounty", got)
	}

	env.clock.Set(late.DeadlineTs)
	if got, _ := env.engine.ExpiredBounties(1); len(got) != 1 || got[0].Address != early.Address {
		t.Errorf("limit 1 should return the earliest deadline first")
	}

	if _, err := env.engine.Reclaim(testCtx, early.Address, testCreator); err != nil {
		t.Fatalf("Reclaim: %v", err)
	}

	if got, _ := env.engine.ExpiredBounties(0); len(got) != 1 || got[0].Address != late.Address {
		t.Errorf("after reclaim expired = %v", got)
	}
}
