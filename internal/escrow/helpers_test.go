package escrow

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"Provability/internal/address"
	"Provability/internal/attestation"
	"Provability/internal/protocol"
	"Provability/internal/storage"
)

const (
	testStart  = int64(1_700_000_000)
	testAmount = uint64(50_000_000)
	testFunds  = uint64(1_000_000_000)
)

var (
	testCreator = address.Address{0xc0}
	testSolver  = address.Address{0x50}
	testOther   = address.Address{0x0e}
	testCtx     = context.Background()
)

// testClock is a settable ledger clock.
type testClock struct {
	now atomic.Int64
}

func (c *testClock) Now() int64      { return c.now.Load() }
func (c *testClock) Set(t int64)     { c.now.Store(t) }
func (c *testClock) Advance(d int64) { c.now.Add(d) }

// recordingSink collects published events.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, ev)
}

func (s *recordingSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]EventKind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

// testEnv bundles an engine with its collaborators.
type testEnv struct {
	engine *Engine
	db     *storage.Storage
	clock  *testClock
	sink   *recordingSink
	issuer *attestation.Issuer
}

// newTestEnv creates an engine on a temporary pebble store with a real BLS verifier.
// The creator, solver and other principals start with testFunds each.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("create storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	key, err := attestation.KeyFromSeed(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("attestation key: %v", err)
	}

	env := &testEnv{
		db:     db,
		clock:  &testClock{},
		sink:   &recordingSink{},
		issuer: attestation.NewIssuer(key, protocol.Hash{0x3e}, 3600),
	}
	env.clock.Set(testStart)

	env.engine = New(db, attestation.NewBLSVerifier(), WithClock(env.clock.Now), WithEventSink(env.sink))

	allocs := []Allocation{
		{Account: testCreator, Balance: testFunds},
		{Account: testSolver, Balance: testFunds},
		{Account: testOther, Balance: testFunds},
	}
	if _, err := env.engine.ApplyGenesis([32]byte{1}, allocs); err != nil {
		t.Fatalf("genesis: %v", err)
	}

	return env
}

// params returns bounty terms matching the reference client: 100 samples, scale 10,
// threshold 50, one hour deadline, committed to the env's enclave.
func (env *testEnv) params(seed byte) CreateBountyParams {
	return CreateBountyParams{
		Seed:               [address.SeedSize]byte{seed},
		Amount:             testAmount,
		DeadlineTs:         env.clock.Now() + 3600,
		N:                  100,
		Scale:              10,
		ThresholdT2:        protocol.U128(50),
		EvalSpecHash:       protocol.Hash{0xe5},
		TestsetCommitment:  protocol.Hash{0x7e},
		AllowedMeasurement: env.issuer.Measurement(),
		AllowedAttester:    env.issuer.Key().Identity(),
	}
}

// createBounty creates a bounty from testCreator or fails the test.
func (env *testEnv) createBounty(t *testing.T, seed byte) *protocol.Bounty {
	t.Helper()

	b, err := env.engine.CreateBounty(testCtx, testCreator, env.params(seed))
	if err != nil {
		t.Fatalf("CreateBounty: %v", err)
	}

	return b
}

// submit records a submission from solver or fails the test.
func (env *testEnv) submit(t *testing.T, b *protocol.Bounty, solver address.Address) *protocol.Submission {
	t.Helper()

	sub, err := env.engine.Submit(testCtx, b.Address, solver, protocol.Hash{0x9d, solver[0]}, "ipfs://preds")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	return sub
}

// attest builds the honest payload for (b, sub) and a fresh attestation over it.
func (env *testEnv) attest(t *testing.T, b *protocol.Bounty, sub *protocol.Submission, pass bool) ([]byte, []byte) {
	t.Helper()

	payload := protocol.ExpectedResult(b, sub, pass).Encode()

	return payload, env.attestPayload(t, payload)
}

// attestPayload signs an arbitrary payload with the env's issuer.
func (env *testEnv) attestPayload(t *testing.T, payload []byte) []byte {
	t.Helper()

	raw, err := env.issuer.Issue(payload, env.clock.Now())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	return raw
}

// finalize runs Finalize with the given evidence.
func (env *testEnv) finalize(b *protocol.Bounty, sub *protocol.Submission, payload, att []byte) (*FinalizeResult, error) {
	return env.engine.Finalize(testCtx, FinalizeParams{
		Bounty:      b.Address,
		Submission:  sub.Address,
		Payload:     payload,
		Attestation: att,
		Caller:      testOther,
	})
}

// balance reads an account balance or fails the test.
func (env *testEnv) balance(t *testing.T, a address.Address) uint64 {
	t.Helper()

	v, err := env.engine.Balance(a)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}

	return v
}

// ledgerDump returns every ledger key and value, for asserting that failures write nothing.
func (env *testEnv) ledgerDump(t *testing.T) map[string]string {
	t.Helper()

	out := make(map[string]string)
	err := env.db.Iterate(func(key, value []byte) error {
		out[string(key)] = string(value)
		return nil
	})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}

	return out
}

// assertUnchanged fails when the ledger differs from before.
func assertUnchanged(t *testing.T, env *testEnv, before map[string]string) {
	t.Helper()

	after := env.ledgerDump(t)
	if len(after) != len(before) {
		t.Fatalf("ledger has %d keys, had %d", len(after), len(before))
	}

	for k, v := range before {
		if after[k] != v {
			t.Fatalf("key %q changed", k)
		}
	}
}
