package commitment

import (
	"encoding/binary"

	"github.com/zeebo/blake3"

	"Provability/internal/protocol"
)

var (
	predsTag    = []byte("provability/preds/v1")
	evalSpecTag = []byte("provability/eval-spec/v1")
)

// PredsHash commits to a solver's fixed-point predictions, in test-row order.
func PredsHash(preds []int64) protocol.Hash {
	h := blake3.New()
	h.Write(predsTag)

	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(preds)))
	h.Write(buf[:4])

	for _, p := range preds {
		binary.LittleEndian.PutUint64(buf[:], uint64(p))
		h.Write(buf[:])
	}

	var out protocol.Hash
	h.Sum(out[:0])

	return out
}

// EvalSpec describes how a submission is scored. The enclave only runs evaluations whose
// spec hashes to the bounty's evalSpecHash.
type EvalSpec struct {
	Metric      string           `json:"metric"`      // Metric names the loss, "mse"
	N           uint32           `json:"n"`           // N is the number of scored samples
	Scale       uint32           `json:"scale"`       // Scale is the fixed-point scale of ThresholdT2
	ThresholdT2 protocol.Uint128 `json:"thresholdT2"` // ThresholdT2 bounds the metric as T2/Scale
	TestsetRoot protocol.Hash    `json:"testsetRoot"` // TestsetRoot is the committed test split
}

// MetricMSE is the only metric the reference enclave evaluates.
const MetricMSE = "mse"

// EvalSpecHash commits to spec.
//
// Format: tag + u32 len + metric + n:u32 + scale:u32 + t2:u128 + testsetRoot[32], little-endian.
func EvalSpecHash(spec EvalSpec) protocol.Hash {
	buf := make([]byte, 0, len(evalSpecTag)+4+len(spec.Metric)+8+16+32)
	buf = append(buf, evalSpecTag...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(spec.Metric)))
	buf = append(buf, spec.Metric...)
	buf = binary.LittleEndian.AppendUint32(buf, spec.N)
	buf = binary.LittleEndian.AppendUint32(buf, spec.Scale)
	buf = append(buf, spec.ThresholdT2.Bytes()...)
	buf = append(buf, spec.TestsetRoot[:]...)

	return blake3.Sum256(buf)
}
