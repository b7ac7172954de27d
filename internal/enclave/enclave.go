// Package enclave runs the reference evaluation program and attests to its verdict.
//
// The program is a WASM module executed with wazero; its blake3 hash is the measurement a
// bounty pins in allowedMeasurement. The enclave checks every input against the bounty's
// commitments before scoring, so an attestation it issues always carries a result the
// escrow will accept field by field.
package enclave

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/zeebo/blake3"

	"Provability/internal/address"
	"Provability/internal/attestation"
	"Provability/internal/commitment"
	"Provability/internal/logger"
	"Provability/internal/protocol"
)

// Job is one scoring request.
type Job struct {
	Bounty     *protocol.Bounty     // Bounty carries the committed evaluation parameters
	Submission *protocol.Submission // Submission carries the committed predsHash
	Preds      []int64              // Preds are the solver's fixed-point predictions
	Labels     []int64              // Labels are the test-split labels, in committed order
}

// Evaluation is the enclave's output for one job.
type Evaluation struct {
	Result      *protocol.AttestedResult // Result is the decoded payload
	Payload     []byte                   // Payload is Result in wire form
	Attestation []byte                   // Attestation is the signed document over Payload
	SSE         uint64                   // SSE is the sum of squared errors
}

// Enclave holds a compiled program and the issuer that signs its verdicts.
type Enclave struct {
	runtime  wazero.Runtime        // runtime is the wazero runtime instance
	compiled wazero.CompiledModule // compiled is the evaluation program
	issuer   *attestation.Issuer   // issuer signs results under the program measurement
}

// New compiles program and binds an issuer for key. The measurement is blake3(program).
func New(ctx context.Context, program []byte, key *attestation.Key, ttl int64) (*Enclave, error) {
	runtime := wazero.NewRuntime(ctx)

	compiled, err := runtime.CompileModule(ctx, program)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("compile program:\n%w", err)
	}

	if _, ok := compiled.ExportedFunctions()[passExport]; !ok {
		runtime.Close(ctx)
		return nil, fmt.Errorf("program does not export %q", passExport)
	}

	return &Enclave{
		runtime:  runtime,
		compiled: compiled,
		issuer:   attestation.NewIssuer(key, Measure(program), ttl),
	}, nil
}

// Measure returns the measurement of a program.
func Measure(program []byte) protocol.Hash {
	return blake3.Sum256(program)
}

// Measurement returns the measurement this enclave attests under.
func (e *Enclave) Measurement() protocol.Hash {
	return e.issuer.Measurement()
}

// Attester returns the attester identity a bounty must pin to accept this enclave.
func (e *Enclave) Attester() address.Address {
	return e.issuer.Key().Identity()
}

// Evaluate checks job against the bounty commitments, scores it and issues an attestation
// valid from now. A failing score still yields an attestation with pass=false.
func (e *Enclave) Evaluate(ctx context.Context, job Job, now int64) (*Evaluation, error) {
	if err := e.checkJob(job); err != nil {
		return nil, err
	}

	sse, err := SumSquaredErrors(job.Preds, job.Labels)
	if err != nil {
		return nil, err
	}

	pass, err := e.run(ctx, sse, job.Bounty.N, job.Bounty.Scale, job.Bounty.ThresholdT2)
	if err != nil {
		return nil, err
	}

	result := protocol.ExpectedResult(job.Bounty, job.Submission, pass)
	payload := result.Encode()

	doc, err := e.issuer.Issue(payload, now)
	if err != nil {
		return nil, fmt.Errorf("issue attestation:\n%w", err)
	}

	logger.Debug("evaluated submission",
		"bounty", job.Bounty.Address.Short(),
		"submission", job.Submission.Address.Short(),
		"sse", sse,
		"pass", pass,
	)

	return &Evaluation{Result: result, Payload: payload, Attestation: doc, SSE: sse}, nil
}

// checkJob refuses to score anything the escrow would reject on commitments.
func (e *Enclave) checkJob(job Job) error {
	b, sub := job.Bounty, job.Submission

	switch {
	case b == nil || sub == nil:
		return fmt.Errorf("job needs a bounty and a submission")
	case sub.Bounty != b.Address:
		return fmt.Errorf("submission %s is not for bounty %s", sub.Address.Short(), b.Address.Short())
	case b.AllowedMeasurement != e.Measurement():
		return fmt.Errorf("bounty pins measurement %s, enclave runs %s", b.AllowedMeasurement, e.Measurement())
	case b.AllowedAttester != e.Attester():
		return fmt.Errorf("bounty pins a different attester")
	case len(job.Preds) != int(b.N) || len(job.Labels) != int(b.N):
		return fmt.Errorf("want %d samples, got %d predictions and %d labels", b.N, len(job.Preds), len(job.Labels))
	case b.Scale == 0:
		return fmt.Errorf("bounty scale is zero")
	}

	if got := commitment.PredsHash(job.Preds); got != sub.PredsHash {
		return fmt.Errorf("predictions hash %s does not match submission %s", got, sub.PredsHash)
	}

	spec := commitment.EvalSpec{
		Metric:      commitment.MetricMSE,
		N:           b.N,
		Scale:       b.Scale,
		ThresholdT2: b.ThresholdT2,
		TestsetRoot: b.TestsetCommitment,
	}
	if commitment.EvalSpecHash(spec) != b.EvalSpecHash {
		return fmt.Errorf("bounty evalSpecHash does not describe an mse evaluation")
	}

	if root := commitment.MerkleRoot(commitment.RowHashes(LabelRows(job.Labels))); root != b.TestsetCommitment {
		return fmt.Errorf("labels root %s does not match testset commitment %s", root, b.TestsetCommitment)
	}

	return nil
}

// run instantiates the program and calls pass. Both products must fit in 64 bits.
func (e *Enclave) run(ctx context.Context, sse uint64, n, scale uint32, t2 protocol.Uint128) (bool, error) {
	if hi, _ := bits.Mul64(sse, uint64(scale)); hi != 0 {
		return false, fmt.Errorf("sse*scale overflows 64 bits")
	}

	bound, overflow := t2.MulUint64(uint64(n))
	if overflow || bound.Hi != 0 {
		return false, fmt.Errorf("thresholdT2*n overflows 64 bits")
	}

	instance, err := e.runtime.InstantiateModule(ctx, e.compiled, wazero.NewModuleConfig())
	if err != nil {
		return false, fmt.Errorf("instantiate program:\n%w", err)
	}
	defer instance.Close(ctx)

	fn := instance.ExportedFunction(passExport)

	out, err := fn.Call(ctx, sse, uint64(n), uint64(scale), t2.Lo)
	if err != nil {
		return false, fmt.Errorf("call %s:\n%w", passExport, err)
	}

	return api.DecodeI32(out[0]) != 0, nil
}

// Close releases the runtime and compiled program.
func (e *Enclave) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// SumSquaredErrors returns sum((p-l)^2), failing if any step overflows 64 bits.
func SumSquaredErrors(preds, labels []int64) (uint64, error) {
	if len(preds) != len(labels) {
		return 0, fmt.Errorf("%d predictions for %d labels", len(preds), len(labels))
	}

	var sum uint64

	for i := range preds {
		// The magnitude of any int64 difference fits in a uint64.
		var d uint64
		if preds[i] >= labels[i] {
			d = uint64(preds[i]) - uint64(labels[i])
		} else {
			d = uint64(labels[i]) - uint64(preds[i])
		}

		hi, sq := bits.Mul64(d, d)
		if hi != 0 {
			return 0, fmt.Errorf("squared error at sample %d overflows", i)
		}

		var carry uint64
		sum, carry = bits.Add64(sum, sq, 0)
		if carry != 0 {
			return 0, fmt.Errorf("sse overflows at sample %d", i)
		}
	}

	return sum, nil
}

// LabelRows encodes labels as dataset rows, one 8-byte little-endian value per row.
func LabelRows(labels []int64) [][]byte {
	rows := make([][]byte, len(labels))
	for i, l := range labels {
		rows[i] = binary.LittleEndian.AppendUint64(nil, uint64(l))
	}

	return rows
}

// Commitments returns the testset commitment and evalSpecHash a creator publishes for an
// mse bounty over labels.
func Commitments(labels []int64, scale uint32, t2 protocol.Uint128) (testset, evalSpec protocol.Hash) {
	testset = commitment.MerkleRoot(commitment.RowHashes(LabelRows(labels)))
	evalSpec = commitment.EvalSpecHash(commitment.EvalSpec{
		Metric:      commitment.MetricMSE,
		N:           uint32(len(labels)),
		Scale:       scale,
		ThresholdT2: t2,
		TestsetRoot: testset,
	})

	return testset, evalSpec
}
