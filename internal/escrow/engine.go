// Package escrow implements the attested bounty escrow ledger.
//
// A creator locks funds in a per-bounty vault, solvers record one submission each, and
// a finalize carrying a valid enclave attestation pays the vault to exactly one solver.
// After the deadline the creator may reclaim the vault instead.
//
// Every operation locks the addresses it mutates, re-reads them, validates, and commits
// one storage batch. A failed operation writes nothing.
package escrow

import (
	"context"
	"log/slog"
	"time"

	"Provability/internal/address"
	"Provability/internal/attestation"
	"Provability/internal/logger"
	"Provability/internal/protocol"
	"Provability/internal/storage"
)

// Clock returns the ledger time in unix seconds.
type Clock func() int64

// SystemClock reads the wall clock.
func SystemClock() int64 {
	return time.Now().Unix()
}

// Recorder receives operation metrics.
type Recorder interface {
	ObserveCommand(kind, result string, elapsed time.Duration)
	ObserveFinalize(outcome string)
	AddVaultLocked(delta float64)
}

// noopRecorder discards metrics.
type noopRecorder struct{}

func (noopRecorder) ObserveCommand(string, string, time.Duration) {}
func (noopRecorder) ObserveFinalize(string)                       {}
func (noopRecorder) AddVaultLocked(float64)                       {}

// Engine executes escrow operations against storage.
type Engine struct {
	store    *store
	verifier attestation.Verifier
	locks    *keyLocks
	now      Clock
	sink     EventSink
	metrics  Recorder
	log      *slog.Logger
}

// Option configures the Engine during creation.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.now = c
	}
}

// WithEventSink publishes committed mutations to sink.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithRecorder reports metrics to r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.metrics = r
	}
}

// New creates an Engine that verifies attestations with verifier.
func New(db *storage.Storage, verifier attestation.Verifier, opts ...Option) *Engine {
	e := &Engine{
		store:    newStore(db),
		verifier: verifier,
		locks:    newKeyLocks(),
		now:      SystemClock,
		metrics:  noopRecorder{},
		log:      logger.Component("escrow"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Now returns the engine's current ledger time.
func (e *Engine) Now() int64 {
	return e.now()
}

// Bounty returns the bounty at a, or BountyNotFound.
func (e *Engine) Bounty(a address.Address) (*protocol.Bounty, error) {
	b, err := e.store.bounty(a)
	if err != nil {
		return nil, err
	}

	if b == nil {
		return nil, protocol.ErrBountyNotFound.Wrapf("bounty %s", a.Short())
	}

	return b, nil
}

// Submission returns the submission at a, or SubmissionNotFound.
func (e *Engine) Submission(a address.Address) (*protocol.Submission, error) {
	sub, err := e.store.submission(a)
	if err != nil {
		return nil, err
	}

	if sub == nil {
		return nil, protocol.ErrSubmissionNotFound.Wrapf("submission %s", a.Short())
	}

	return sub, nil
}

// Balance returns the balance of any account, vaults included.
func (e *Engine) Balance(a address.Address) (uint64, error) {
	return e.store.balance(a)
}

// Bounties calls fn for every bounty in address order until fn returns an error.
func (e *Engine) Bounties(fn func(*protocol.Bounty) error) error {
	return e.store.forEachBounty(fn)
}

// observe records the result of one operation.
func (e *Engine) observe(kind Kind, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = protocol.ClassOf(err).String()
	}

	e.metrics.ObserveCommand(kind.String(), result, time.Since(start))

	if err != nil {
		e.log.Debug("operation rejected", "kind", kind, "error", err)
	}
}

// checkContext fails fast when the caller has already given up.
func checkContext(ctx context.Context) error {
	if ctx == nil {
		return nil
	}

	return ctx.Err()
}
