package escrow

import (
	"encoding/binary"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"Provability/internal/address"
	"Provability/internal/protocol"
	"Provability/internal/storage"
	"Provability/internal/types"
)

// Key prefixes for ledger storage.
var (
	prefixBounty     = []byte("b:") // b:<bounty> -> Bounty table
	prefixSubmission = []byte("s:") // s:<submission> -> Submission table
	prefixAccount    = []byte("a:") // a:<account> -> u64 LE balance
	prefixNonce      = []byte("n:") // n:<nonce> -> bounty that consumed it
	prefixExpiry     = []byte("x:") // x:<deadline BE><bounty> -> empty, open bounties only
)

// Prefixes returns every key prefix the ledger writes, for snapshotting.
// The genesis marker is a full key and matches only itself.
func Prefixes() [][]byte {
	return [][]byte{prefixBounty, prefixSubmission, prefixAccount, prefixNonce, prefixExpiry, genesisKey}
}

// store reads ledger records from storage. All writes go through a txn.
type store struct {
	db *storage.Storage
}

// newStore creates a record store backed by db.
func newStore(db *storage.Storage) *store {
	return &store{db: db}
}

func bountyKey(a address.Address) []byte     { return append(append([]byte{}, prefixBounty...), a[:]...) }
func submissionKey(a address.Address) []byte { return append(append([]byte{}, prefixSubmission...), a[:]...) }
func accountKey(a address.Address) []byte    { return append(append([]byte{}, prefixAccount...), a[:]...) }
func nonceKey(n [32]byte) []byte             { return append(append([]byte{}, prefixNonce...), n[:]...) }

// expiryKey orders open bounties by deadline so expired ones form a key prefix range.
func expiryKey(deadline int64, bounty address.Address) []byte {
	key := make([]byte, 0, len(prefixExpiry)+8+address.Size)
	key = append(key, prefixExpiry...)
	key = binary.BigEndian.AppendUint64(key, uint64(deadline))

	return append(key, bounty[:]...)
}

// bounty loads a bounty. Returns nil, nil when absent.
func (s *store) bounty(a address.Address) (*protocol.Bounty, error) {
	data, err := s.db.Get(bountyKey(a))
	if err != nil || data == nil {
		return nil, err
	}

	return decodeBounty(data)
}

// submission loads a submission. Returns nil, nil when absent.
func (s *store) submission(a address.Address) (*protocol.Submission, error) {
	data, err := s.db.Get(submissionKey(a))
	if err != nil || data == nil {
		return nil, err
	}

	return decodeSubmission(data)
}

// balance returns an account balance, zero when the account was never funded.
func (s *store) balance(a address.Address) (uint64, error) {
	data, err := s.db.Get(accountKey(a))
	if err != nil {
		return 0, err
	}

	if data == nil {
		return 0, nil
	}

	if len(data) != 8 {
		return 0, fmt.Errorf("account %s: corrupt balance of %d bytes", a.Short(), len(data))
	}

	return binary.LittleEndian.Uint64(data), nil
}

// nonceConsumed reports whether an attestation nonce was already used by a finalize.
func (s *store) nonceConsumed(n [32]byte) (bool, error) {
	return s.db.Has(nonceKey(n))
}

// expired returns up to limit open bounties whose deadline is at or before now,
// earliest deadline first. A limit of zero means no limit.
func (s *store) expired(now int64, limit int) ([]address.Address, error) {
	upper := make([]byte, 0, len(prefixExpiry)+8)
	upper = append(upper, prefixExpiry...)
	upper = binary.BigEndian.AppendUint64(upper, uint64(now)+1)

	var out []address.Address

	err := s.db.IterateRange(prefixExpiry, upper, func(key, _ []byte) error {
		var a address.Address
		copy(a[:], key[len(prefixExpiry)+8:])
		out = append(out, a)

		if limit > 0 && len(out) >= limit {
			return storage.ErrStopIteration
		}
		return nil
	})

	return out, err
}

// forEachBounty calls fn with every stored bounty in address order.
func (s *store) forEachBounty(fn func(*protocol.Bounty) error) error {
	return s.db.IteratePrefix(prefixBounty, func(_, value []byte) error {
		b, err := decodeBounty(value)
		if err != nil {
			return err
		}
		return fn(b)
	})
}

// encodeBounty serializes a bounty as a flatbuffers table.
func encodeBounty(b *protocol.Bounty) []byte {
	builder := flatbuffers.NewBuilder(512)

	addrOff := builder.CreateByteVector(b.Address[:])
	creatorOff := builder.CreateByteVector(b.Creator[:])
	vaultOff := builder.CreateByteVector(b.Vault[:])
	seedOff := builder.CreateByteVector(b.Seed[:])
	t2Off := builder.CreateByteVector(b.ThresholdT2.Bytes())
	evalOff := builder.CreateByteVector(b.EvalSpecHash[:])
	testsetOff := builder.CreateByteVector(b.TestsetCommitment[:])
	measurementOff := builder.CreateByteVector(b.AllowedMeasurement[:])
	attesterOff := builder.CreateByteVector(b.AllowedAttester[:])

	types.BountyStart(builder)
	types.BountyAddAddress(builder, addrOff)
	types.BountyAddCreator(builder, creatorOff)
	types.BountyAddVault(builder, vaultOff)
	types.BountyAddSeed(builder, seedOff)
	types.BountyAddAmount(builder, b.Amount)
	types.BountyAddDeadlineTs(builder, b.DeadlineTs)
	types.BountyAddCreatedTs(builder, b.CreatedTs)
	types.BountyAddClosedTs(builder, b.ClosedTs)
	types.BountyAddN(builder, b.N)
	types.BountyAddScale(builder, b.Scale)
	types.BountyAddThresholdT2(builder, t2Off)
	types.BountyAddEvalSpecHash(builder, evalOff)
	types.BountyAddTestsetCommitment(builder, testsetOff)
	types.BountyAddAllowedMeasurement(builder, measurementOff)
	types.BountyAddAllowedAttester(builder, attesterOff)
	types.BountyAddState(builder, uint8(b.State))
	builder.Finish(types.BountyEnd(builder))

	return builder.FinishedBytes()
}

// decodeBounty parses a stored bounty, rejecting fields of the wrong size.
func decodeBounty(data []byte) (*protocol.Bounty, error) {
	b := &protocol.Bounty{}
	var bad string

	err := types.Read(func() {
		t := types.GetRootAsBounty(data, 0)

		fixed := []struct {
			name string
			dst  []byte
			src  []byte
		}{
			{"address", b.Address[:], t.AddressBytes()},
			{"creator", b.Creator[:], t.CreatorBytes()},
			{"vault", b.Vault[:], t.VaultBytes()},
			{"seed", b.Seed[:], t.SeedBytes()},
			{"evalSpecHash", b.EvalSpecHash[:], t.EvalSpecHashBytes()},
			{"testsetCommitment", b.TestsetCommitment[:], t.TestsetCommitmentBytes()},
			{"allowedMeasurement", b.AllowedMeasurement[:], t.AllowedMeasurementBytes()},
			{"allowedAttester", b.AllowedAttester[:], t.AllowedAttesterBytes()},
		}
		for _, f := range fixed {
			if len(f.src) != len(f.dst) {
				bad = f.name
				return
			}
			copy(f.dst, f.src)
		}

		t2 := t.ThresholdT2Bytes()
		if len(t2) != 16 {
			bad = "thresholdT2"
			return
		}

		b.ThresholdT2 = protocol.Uint128FromLE(t2)
		b.Amount = t.Amount()
		b.DeadlineTs = t.DeadlineTs()
		b.CreatedTs = t.CreatedTs()
		b.ClosedTs = t.ClosedTs()
		b.N = t.N()
		b.Scale = t.Scale()
		b.State = protocol.BountyState(t.State())
	})
	if err != nil {
		return nil, fmt.Errorf("decode bounty:\n%w", err)
	}

	if bad != "" {
		return nil, fmt.Errorf("decode bounty: malformed %s", bad)
	}

	return b, nil
}

// encodeSubmission serializes a submission as a flatbuffers table.
func encodeSubmission(sub *protocol.Submission) []byte {
	builder := flatbuffers.NewBuilder(256)

	addrOff := builder.CreateByteVector(sub.Address[:])
	bountyOff := builder.CreateByteVector(sub.Bounty[:])
	solverOff := builder.CreateByteVector(sub.Solver[:])
	predsOff := builder.CreateByteVector(sub.PredsHash[:])
	uriOff := builder.CreateString(sub.DataURI)

	types.SubmissionStart(builder)
	types.SubmissionAddAddress(builder, addrOff)
	types.SubmissionAddBounty(builder, bountyOff)
	types.SubmissionAddSolver(builder, solverOff)
	types.SubmissionAddPredsHash(builder, predsOff)
	types.SubmissionAddDataUri(builder, uriOff)
	types.SubmissionAddCreatedTs(builder, sub.CreatedTs)
	types.SubmissionAddState(builder, uint8(sub.State))
	builder.Finish(types.SubmissionEnd(builder))

	return builder.FinishedBytes()
}

// decodeSubmission parses a stored submission.
func decodeSubmission(data []byte) (*protocol.Submission, error) {
	sub := &protocol.Submission{}
	var bad string

	err := types.Read(func() {
		t := types.GetRootAsSubmission(data, 0)

		fixed := []struct {
			name string
			dst  []byte
			src  []byte
		}{
			{"address", sub.Address[:], t.AddressBytes()},
			{"bounty", sub.Bounty[:], t.BountyBytes()},
			{"solver", sub.Solver[:], t.SolverBytes()},
			{"predsHash", sub.PredsHash[:], t.PredsHashBytes()},
		}
		for _, f := range fixed {
			if len(f.src) != len(f.dst) {
				bad = f.name
				return
			}
			copy(f.dst, f.src)
		}

		sub.DataURI = string(t.DataUri())
		sub.CreatedTs = t.CreatedTs()
		sub.State = protocol.SubmissionState(t.State())
	})
	if err != nil {
		return nil, fmt.Errorf("decode submission:\n%w", err)
	}

	if bad != "" {
		return nil, fmt.Errorf("decode submission: malformed %s", bad)
	}

	return sub, nil
}
