// Package protocol holds the escrow records, the attested result wire format and the
// protocol error taxonomy shared by the escrow engine, the verifier and the enclave.
package protocol

import (
	"fmt"

	"Provability/internal/address"
)

// Hash is a 32-byte commitment or digest.
type Hash [32]byte

// MaxDataURILen bounds the opaque data URI stored with a submission.
const MaxDataURILen = 200

// BountyState is the lifecycle state of a bounty. Open is the only non-terminal state.
type BountyState uint8

const (
	BountyOpen BountyState = iota
	BountyFinalized
	BountyExpired
)

// String returns the state name.
func (s BountyState) String() string {
	switch s {
	case BountyOpen:
		return "open"
	case BountyFinalized:
		return "finalized"
	case BountyExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is allowed.
func (s BountyState) Terminal() bool {
	return s != BountyOpen
}

// SubmissionState is the lifecycle state of a submission.
type SubmissionState uint8

const (
	SubmissionPending SubmissionState = iota
	SubmissionAccepted
	SubmissionRejected
)

// String returns the state name.
func (s SubmissionState) String() string {
	switch s {
	case SubmissionPending:
		return "pending"
	case SubmissionAccepted:
		return "accepted"
	case SubmissionRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Bounty is the escrowed bounty record.
type Bounty struct {
	Address            address.Address        `json:"address"`
	Creator            address.Address        `json:"creator"`
	Vault              address.Address        `json:"vault"`
	Seed               [address.SeedSize]byte `json:"-"`
	Amount             uint64                 `json:"amount"`
	DeadlineTs         int64                  `json:"deadlineTs"`
	CreatedTs          int64                  `json:"createdTs"`
	ClosedTs           int64                  `json:"closedTs,omitempty"`
	N                  uint32                 `json:"n"`
	Scale              uint32                 `json:"scale"`
	ThresholdT2        Uint128                `json:"thresholdT2"`
	EvalSpecHash       Hash                   `json:"evalSpecHash"`
	TestsetCommitment  Hash                   `json:"testsetCommitment"`
	AllowedMeasurement Hash                   `json:"allowedMeasurement"`
	AllowedAttester    address.Address        `json:"allowedAttester"`
	State              BountyState            `json:"state"`
}

// Submission is a solver's recorded result for a bounty.
type Submission struct {
	Address   address.Address `json:"address"`
	Bounty    address.Address `json:"bounty"`
	Solver    address.Address `json:"solver"`
	PredsHash Hash            `json:"predsHash"`
	DataURI   string          `json:"dataUri"`
	CreatedTs int64           `json:"createdTs"`
	State     SubmissionState `json:"state"`
}

// MarshalText implements encoding.TextMarshaler.
func (s BountyState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *BountyState) UnmarshalText(text []byte) error {
	for _, candidate := range []BountyState{BountyOpen, BountyFinalized, BountyExpired} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}

	return fmt.Errorf("unknown bounty state %q", text)
}

// MarshalText implements encoding.TextMarshaler.
func (s SubmissionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SubmissionState) UnmarshalText(text []byte) error {
	for _, candidate := range []SubmissionState{SubmissionPending, SubmissionAccepted, SubmissionRejected} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}

	return fmt.Errorf("unknown submission state %q", text)
}
