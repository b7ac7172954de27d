package escrow

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"Provability/internal/address"
	"Provability/internal/protocol"
)

func TestCommandArgs(t *testing.T) {
	env := newTestEnv(t)

	create := CreateBountyCmd{Params: env.params(3)}
	create.Params.ThresholdT2 = protocol.Uint128{Hi: 1, Lo: 2}

	cmds := []Command{
		create,
		SubmitCmd{Bounty: address.Address{1}, PredsHash: protocol.Hash{2}, DataURI: "ipfs://x"},
		FinalizeCmd{Bounty: address.Address{1}, Submission: address.Address{2}, Payload: []byte{3}, Attestation: []byte{4, 5}},
		ReclaimCmd{Bounty: address.Address{9}},
	}

	for _, cmd := range cmds {
		got, err := DecodeCommand(cmd.Kind(), EncodeArgs(cmd))
		if err != nil {
			t.Fatalf("%s: %v", cmd.Kind(), err)
		}

		if diff := cmp.Diff(cmd, got); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", cmd.Kind(), diff)
		}
	}
}

// TestCreateArgsSize pins the fixed create_bounty layout.
func TestCreateArgsSize(t *testing.T) {
	if n := len(EncodeArgs(CreateBountyCmd{})); n != 16+8+8+4+4+16+4*32 {
		t.Errorf("create args = %d bytes", n)
	}
}

func TestDecodeCommandRejects(t *testing.T) {
	valid := EncodeArgs(SubmitCmd{DataURI: "abc"})

	cases := map[string]struct {
		kind Kind
		args []byte
	}{
		"unknown kind": {Kind(99), nil},
		"truncated":    {KindSubmit, valid[:len(valid)-1]},
		"trailing":     {KindReclaim, make([]byte, 33)},
		"empty":        {KindCreateBounty, nil},
		"huge length":  {KindFinalize, append(make([]byte, 64), 0xff, 0xff, 0xff, 0xff)},
	}

	for name, c := range cases {
		if _, err := DecodeCommand(c.kind, c.args); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

// TestExecuteRoutes drives a bounty through its life using only commands.
func TestExecuteRoutes(t *testing.T) {
	env := newTestEnv(t)

	rc, err := env.engine.Execute(testCtx, testCreator, CreateBountyCmd{Params: env.params(1)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	b := rc.Bounty
	if rc.Kind != KindCreateBounty || b == nil || b.Creator != testCreator {
		t.Fatalf("create receipt = %+v", rc)
	}

	rc, err = env.engine.Execute(testCtx, testSolver, SubmitCmd{Bounty: b.Address, PredsHash: protocol.Hash{1}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	sub := rc.Submission
	if sub == nil || sub.Solver != testSolver {
		t.Fatalf("submit receipt = %+v", rc)
	}

	payload, att := env.attest(t, b, sub, true)

	rc, err = env.engine.Execute(testCtx, testOther, FinalizeCmd{Bounty: b.Address, Submission: sub.Address, Payload: payload, Attestation: att})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if rc.Outcome != OutcomePaid.String() || rc.Paid != testAmount {
		t.Errorf("finalize receipt = %+v", rc)
	}

	env.clock.Set(b.DeadlineTs)
	if _, err := env.engine.Execute(testCtx, testCreator, ReclaimCmd{Bounty: b.Address}); err == nil {
		t.Error("reclaim of a finalized bounty should fail")
	}
}

func TestEventsFollowCommits(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBounty(t, 1)
	sub := env.submit(t, b, testSolver)

	payload, att := env.attest(t, b, sub, false)
	if _, err := env.finalize(b, sub, payload, att); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	// Failures publish nothing.
	_, _ = env.engine.Submit(testCtx, b.Address, testOther, protocol.Hash{}, string(make([]byte, 500)))

	want := []EventKind{EventBountyCreated, EventSubmitted, EventSubmissionRejected}
	if diff := cmp.Diff(want, env.sink.kinds()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}

	last := env.sink.events[2]
	if last.Submission.State != protocol.SubmissionRejected || last.Bounty.State != protocol.BountyOpen {
		t.Errorf("rejected event carries %s/%s", last.Bounty.State, last.Submission.State)
	}
}

func TestApplyGenesisOnce(t *testing.T) {
	env := newTestEnv(t)

	applied, err := env.engine.ApplyGenesis([32]byte{1}, []Allocation{{Account: testCreator, Balance: 5}})
	if err != nil || applied {
		t.Fatalf("repeat genesis = %v, %v; want false, nil", applied, err)
	}

	if got := env.balance(t, testCreator); got != testFunds {
		t.Errorf("creator = %d, want unchanged %d", got, testFunds)
	}

	if _, err := env.engine.ApplyGenesis([32]byte{2}, nil); err == nil {
		t.Error("a different genesis hash should be refused")
	}
}

func TestKindText(t *testing.T) {
	for k := KindCreateBounty; k <= KindReclaim; k++ {
		text, _ := k.MarshalText()

		var got Kind
		if err := got.UnmarshalText(text); err != nil || got != k {
			t.Errorf("%s: got %v, %v", text, got, err)
		}
	}

	var k Kind
	if err := k.UnmarshalText([]byte("withdraw")); err == nil {
		t.Error("expected error for unknown kind")
	}
}
