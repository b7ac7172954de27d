package escrow

import (
	"errors"
	"slices"
	"testing"

	"pgregory.net/rapid"

	"Provability/internal/address"
	"Provability/internal/attestation"
	"Provability/internal/protocol"
)

func TestFinalizePays(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBounty(t, 1)
	sub := env.submit(t, b, testSolver)
	payload, att := env.attest(t, b, sub, true)

	res, err := env.finalize(b, sub, payload, att)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if res.Outcome != OutcomePaid || res.Paid != testAmount || res.Err() != nil {
		t.Fatalf("result = %+v", res)
	}

	if res.Bounty.State != protocol.BountyFinalized || res.Submission.State != protocol.SubmissionAccepted {
		t.Errorf("states = %s/%s", res.Bounty.State, res.Submission.State)
	}

	if got := env.balance(t, b.Vault); got != 0 {
		t.Errorf("vault = %d, want 0", got)
	}

	if got := env.balance(t, testSolver); got != testFunds+testAmount {
		t.Errorf("solver = %d, want %d", got, testFunds+testAmount)
	}

	stored, _ := env.engine.Bounty(b.Address)
	if stored.State != protocol.BountyFinalized || stored.ClosedTs != testStart {
		t.Errorf("stored bounty = %s closed at %d", stored.State, stored.ClosedTs)
	}
}

// TestFinalizeFailingResult verifies pass=false rejects the submission without moving funds.
func TestFinalizeFailingResult(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBounty(t, 1)
	sub := env.submit(t, b, testSolver)
	payload, att := env.attest(t, b, sub, false)

	res, err := env.finalize(b, sub, payload, att)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if res.Outcome != OutcomeThresholdNotMet || res.Paid != 0 {
		t.Fatalf("result = %+v", res)
	}

	if !errors.Is(res.Err(), protocol.ErrThresholdNotMet) || protocol.ClassOf(res.Err()) != protocol.ClassOutcome {
		t.Errorf("Err() = %v", res.Err())
	}

	if got := env.balance(t, b.Vault); got != testAmount {
		t.Errorf("vault = %d, want %d", got, testAmount)
	}

	if got := env.balance(t, testSolver); got != testFunds {
		t.Errorf("solver = %d, want %d", got, testFunds)
	}

	stored, _ := env.engine.Bounty(b.Address)
	if stored.State != protocol.BountyOpen {
		t.Errorf("bounty = %s, want open", stored.State)
	}

	storedSub, _ := env.engine.Submission(sub.Address)
	if storedSub.State != protocol.SubmissionRejected {
		t.Errorf("submission = %s, want rejected", storedSub.State)
	}

	// Another solver remains eligible.
	other := env.submit(t, b, testOther)
	payload, att = env.attest(t, b, other, true)
	if _, err := env.finalize(b, other, payload, att); err != nil {
		t.Errorf("second solver: %v", err)
	}
}

// TestFinalizeCommitmentBitFlip flips one bit of one committed field and expects
// CommitmentMismatch with the ledger untouched.
func TestFinalizeCommitmentBitFlip(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBounty(t, 1)
	sub := env.submit(t, b, testSolver)

	flips := map[string]func(r *protocol.AttestedResult, bit uint){
		"evalSpecHash":      func(r *protocol.AttestedResult, bit uint) { r.EvalSpecHash[bit/8%32] ^= 1 << (bit % 8) },
		"testsetCommitment": func(r *protocol.AttestedResult, bit uint) { r.TestsetCommitment[bit/8%32] ^= 1 << (bit % 8) },
		"n":                 func(r *protocol.AttestedResult, bit uint) { r.N ^= 1 << (bit % 32) },
		"scale":             func(r *protocol.AttestedResult, bit uint) { r.Scale ^= 1 << (bit % 32) },
		"thresholdT2lo":     func(r *protocol.AttestedResult, bit uint) { r.ThresholdT2.Lo ^= 1 << (bit % 64) },
		"thresholdT2hi":     func(r *protocol.AttestedResult, bit uint) { r.ThresholdT2.Hi ^= 1 << (bit % 64) },
		"predsHash":         func(r *protocol.AttestedResult, bit uint) { r.PredsHash[bit/8%32] ^= 1 << (bit % 8) },
		"solver":            func(r *protocol.AttestedResult, bit uint) { r.Solver[bit/8%32] ^= 1 << (bit % 8) },
	}

	names := make([]string, 0, len(flips))
	for name := range flips {
		names = append(names, name)
	}
	slices.Sort(names)

	before := env.ledgerDump(t)

	rapid.Check(t, func(rt *rapid.T) {
		name := rapid.SampledFrom(names).Draw(rt, "field")
		bit := rapid.UintRange(0, 255).Draw(rt, "bit")
		pass := rapid.Bool().Draw(rt, "pass")

		r := protocol.ExpectedResult(b, sub, pass)
		flips[name](r, bit)

		payload := r.Encode()
		att := env.attestPayload(t, payload)

		_, err := env.finalize(b, sub, payload, att)
		if !errors.Is(err, protocol.ErrCommitmentMismatch) {
			rt.Fatalf("%s bit %d: got %v, want CommitmentMismatch", name, bit, err)
		}
	})

	assertUnchanged(t, env, before)
}

func TestFinalizeIntegrityFailures(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBounty(t, 1)
	sub := env.submit(t, b, testSolver)
	payload, att := env.attest(t, b, sub, true)

	foreignKey, err := attestation.KeyFromSeed(make([]byte, 32))
	if err != nil {
		t.Fatalf("KeyFromSeed: %v", err)
	}

	foreign, err := attestation.NewIssuer(foreignKey, env.issuer.Measurement(), 3600).Issue(payload, testStart)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	otherMeasurement, err := attestation.NewIssuer(env.issuer.Key(), protocol.Hash{0x01}, 3600).Issue(payload, testStart)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	altered := append([]byte(nil), payload...)
	altered[0] ^= 1

	cases := []struct {
		name    string
		payload []byte
		att     []byte
		want    error
		class   protocol.Class
	}{
		{"garbage attestation", payload, []byte("not an attestation"), protocol.ErrAttestationInvalid, protocol.ClassIntegrity},
		{"foreign attester", payload, foreign, protocol.ErrAttesterMismatch, protocol.ClassAuth},
		{"wrong measurement", payload, otherMeasurement, protocol.ErrMeasurementMismatch, protocol.ClassIntegrity},
		{"payload differs", altered, att, protocol.ErrPayloadDigestMismatch, protocol.ClassIntegrity},
		{"payload truncated", payload[:10], env.attestPayload(t, payload[:10]), protocol.ErrPayloadMalformed, protocol.ClassIntegrity},
	}

	before := env.ledgerDump(t)

	for _, c := range cases {
		_, err := env.finalize(b, sub, c.payload, c.att)
		if !errors.Is(err, c.want) {
			t.Errorf("%s: got %v, want %v", c.name, err, c.want)
		}

		if protocol.ClassOf(err) != c.class {
			t.Errorf("%s: class %s, want %s", c.name, protocol.ClassOf(err), c.class)
		}
	}

	assertUnchanged(t, env, before)

	// The honest evidence still works afterwards.
	if _, err := env.finalize(b, sub, payload, att); err != nil {
		t.Errorf("honest finalize after failures: %v", err)
	}
}

func TestFinalizeExpiredAttestation(t *testing.T) {
	env := newTestEnv(t)

	p := env.params(1)
	p.DeadlineTs = testStart + 3*3600
	b, err := env.engine.CreateBounty(testCtx, testCreator, p)
	if err != nil {
		t.Fatalf("CreateBounty: %v", err)
	}

	sub := env.submit(t, b, testSolver)
	payload, att := env.attest(t, b, sub, true)

	env.clock.Advance(3600)

	if _, err := env.finalize(b, sub, payload, att); !errors.Is(err, protocol.ErrAttestationInvalid) {
		t.Errorf("expired attestation: got %v", err)
	}
}

// TestFinalizeReplay verifies an attestation works once even though its payload still
// matches the rejected submission.
func TestFinalizeReplay(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBounty(t, 1)
	sub := env.submit(t, b, testSolver)
	payload, att := env.attest(t, b, sub, false)

	if _, err := env.finalize(b, sub, payload, att); err != nil {
		t.Fatalf("first finalize: %v", err)
	}

	before := env.ledgerDump(t)

	_, err := env.finalize(b, sub, payload, att)
	if !errors.Is(err, protocol.ErrAttestationReplayed) {
		t.Fatalf("replay: got %v, want AttestationReplayed", err)
	}

	assertUnchanged(t, env, before)
}

func TestFinalizeStateGuards(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBounty(t, 1)
	sub := env.submit(t, b, testSolver)
	payload, att := env.attest(t, b, sub, true)

	if _, err := env.engine.Finalize(testCtx, FinalizeParams{Bounty: address.Address{0xff}, Submission: sub.Address}); !errors.Is(err, protocol.ErrBountyNotFound) {
		t.Errorf("unknown bounty: got %v", err)
	}

	if _, err := env.engine.Finalize(testCtx, FinalizeParams{Bounty: b.Address, Submission: address.Address{0xff}}); !errors.Is(err, protocol.ErrSubmissionNotFound) {
		t.Errorf("unknown submission: got %v", err)
	}

	// A submission of another bounty is not found under this one.
	b2 := env.createBounty(t, 2)
	sub2 := env.submit(t, b2, testSolver)
	if _, err := env.finalize(b, sub2, payload, att); !errors.Is(err, protocol.ErrSubmissionNotFound) {
		t.Errorf("foreign submission: got %v", err)
	}

	env.clock.Set(b.DeadlineTs)
	if _, err := env.finalize(b, sub, payload, att); !errors.Is(err, protocol.ErrDeadlinePassed) {
		t.Errorf("at deadline: got %v", err)
	}

	env.clock.Set(testStart)
	if _, err := env.finalize(b, sub, payload, att); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if _, err := env.finalize(b, sub, payload, att); !errors.Is(err, protocol.ErrBountyAlreadyFinalized) {
		t.Errorf("repeat: got %v", err)
	}
}

// TestFinalizeRejectedSubmission verifies a rejected submission can be judged again and
// only its state changes.
func TestFinalizeRejectedSubmission(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBounty(t, 1)
	sub := env.submit(t, b, testSolver)

	payload, att := env.attest(t, b, sub, false)
	if _, err := env.finalize(b, sub, payload, att); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	payload, att = env.attest(t, b, sub, false)
	res, err := env.finalize(b, sub, payload, att)
	if err != nil {
		t.Fatalf("second rejection: %v", err)
	}

	if res.Outcome != OutcomeThresholdNotMet {
		t.Errorf("outcome = %s, want threshold_not_met", res.Outcome)
	}

	payload, att = env.attest(t, b, sub, true)
	res, err = env.finalize(b, sub, payload, att)
	if err != nil {
		t.Fatalf("passing finalize: %v", err)
	}

	want := *sub
	want.State = protocol.SubmissionAccepted
	if *res.Submission != want {
		t.Errorf("submission = %+v, want %+v", res.Submission, want)
	}
}

// TestFinalizeWithMock verifies the mock path: payload and attestation are the same bytes.
func TestFinalizeWithMock(t *testing.T) {
	env := newTestEnv(t)
	mock := attestation.NewMock()
	env.engine.verifier = mock

	b := env.createBounty(t, 1)
	sub := env.submit(t, b, testSolver)
	payload := protocol.ExpectedResult(b, sub, true).Encode()

	mock.Fail(protocol.ErrAttestationInvalid)
	if _, err := env.finalize(b, sub, payload, payload); !errors.Is(err, protocol.ErrAttestationInvalid) {
		t.Fatalf("primed failure: got %v", err)
	}

	mock.Fail(nil)
	res, err := env.finalize(b, sub, payload, payload)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if res.Outcome != OutcomePaid {
		t.Errorf("outcome = %s", res.Outcome)
	}
}
