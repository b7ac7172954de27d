package escrow

import (
	"context"
	"encoding/binary"
	"fmt"

	"Provability/internal/address"
	"Provability/internal/protocol"
)

// Kind tags the command variant carried by a transaction.
type Kind uint8

const (
	KindCreateBounty Kind = iota + 1
	KindSubmit
	KindFinalize
	KindReclaim
)

// String returns the command name.
func (k Kind) String() string {
	switch k {
	case KindCreateBounty:
		return "create_bounty"
	case KindSubmit:
		return "submit"
	case KindFinalize:
		return "finalize_with_attestation"
	case KindReclaim:
		return "reclaim"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	for candidate := KindCreateBounty; candidate <= KindReclaim; candidate++ {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}

	return fmt.Errorf("unknown command kind %q", text)
}

// maxArgBytes bounds a single length-prefixed argument.
const maxArgBytes = 1 << 20

// Command is one of CreateBountyCmd, SubmitCmd, FinalizeCmd or ReclaimCmd.
// The sender of the enclosing transaction supplies the acting principal.
type Command interface {
	Kind() Kind
	appendArgs(buf []byte) []byte
}

// CreateBountyCmd creates a bounty owned by the sender.
type CreateBountyCmd struct {
	Params CreateBountyParams
}

// SubmitCmd records the sender's submission to Bounty.
type SubmitCmd struct {
	Bounty    address.Address
	PredsHash protocol.Hash
	DataURI   string
}

// FinalizeCmd settles Bounty using an attested result about Submission.
type FinalizeCmd struct {
	Bounty      address.Address
	Submission  address.Address
	Payload     []byte
	Attestation []byte
}

// ReclaimCmd returns an expired bounty's vault to the sender, who must be its creator.
type ReclaimCmd struct {
	Bounty address.Address
}

func (CreateBountyCmd) Kind() Kind { return KindCreateBounty }
func (SubmitCmd) Kind() Kind       { return KindSubmit }
func (FinalizeCmd) Kind() Kind     { return KindFinalize }
func (ReclaimCmd) Kind() Kind      { return KindReclaim }

// EncodeArgs returns the little-endian argument bytes of cmd.
//
// Formats:
//
//	create_bounty: seed[16] amount:u64 deadline:i64 n:u32 scale:u32 t2:u128
//	               evalSpecHash[32] testsetCommitment[32] measurement[32] attester[32]
//	submit:        bounty[32] predsHash[32] uri:(u32 len + bytes)
//	finalize:      bounty[32] submission[32] payload:(u32 len + bytes) attestation:(u32 len + bytes)
//	reclaim:       bounty[32]
func EncodeArgs(cmd Command) []byte {
	return cmd.appendArgs(nil)
}

func (c CreateBountyCmd) appendArgs(buf []byte) []byte {
	p := &c.Params

	buf = append(buf, p.Seed[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, p.Amount)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.DeadlineTs))
	buf = binary.LittleEndian.AppendUint32(buf, p.N)
	buf = binary.LittleEndian.AppendUint32(buf, p.Scale)
	buf = append(buf, p.ThresholdT2.Bytes()...)
	buf = append(buf, p.EvalSpecHash[:]...)
	buf = append(buf, p.TestsetCommitment[:]...)
	buf = append(buf, p.AllowedMeasurement[:]...)

	return append(buf, p.AllowedAttester[:]...)
}

func (c SubmitCmd) appendArgs(buf []byte) []byte {
	buf = append(buf, c.Bounty[:]...)
	buf = append(buf, c.PredsHash[:]...)

	return appendBytes(buf, []byte(c.DataURI))
}

func (c FinalizeCmd) appendArgs(buf []byte) []byte {
	buf = append(buf, c.Bounty[:]...)
	buf = append(buf, c.Submission[:]...)
	buf = appendBytes(buf, c.Payload)

	return appendBytes(buf, c.Attestation)
}

func (c ReclaimCmd) appendArgs(buf []byte) []byte {
	return append(buf, c.Bounty[:]...)
}

// appendBytes writes a u32 length prefix followed by b.
func appendBytes(buf, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// DecodeCommand parses argument bytes for kind. Trailing bytes are rejected.
func DecodeCommand(kind Kind, args []byte) (Command, error) {
	r := &argReader{data: args}

	var cmd Command

	switch kind {
	case KindCreateBounty:
		var c CreateBountyCmd
		p := &c.Params
		r.fixed(p.Seed[:])
		p.Amount = r.u64()
		p.DeadlineTs = int64(r.u64())
		p.N = r.u32()
		p.Scale = r.u32()
		p.ThresholdT2 = r.u128()
		r.fixed(p.EvalSpecHash[:])
		r.fixed(p.TestsetCommitment[:])
		r.fixed(p.AllowedMeasurement[:])
		r.fixed(p.AllowedAttester[:])
		cmd = c

	case KindSubmit:
		var c SubmitCmd
		r.fixed(c.Bounty[:])
		r.fixed(c.PredsHash[:])
		c.DataURI = string(r.bytes())
		cmd = c

	case KindFinalize:
		var c FinalizeCmd
		r.fixed(c.Bounty[:])
		r.fixed(c.Submission[:])
		c.Payload = r.bytes()
		c.Attestation = r.bytes()
		cmd = c

	case KindReclaim:
		var c ReclaimCmd
		r.fixed(c.Bounty[:])
		cmd = c

	default:
		return nil, fmt.Errorf("unknown command kind %d", uint8(kind))
	}

	if r.err != nil {
		return nil, fmt.Errorf("decode %s args: %w", kind, r.err)
	}

	if len(r.data) != 0 {
		return nil, fmt.Errorf("decode %s args: %d trailing bytes", kind, len(r.data))
	}

	return cmd, nil
}

// argReader consumes little-endian fields, latching the first error.
type argReader struct {
	data []byte
	err  error
}

// take returns the next n bytes, or nil once the input is exhausted.
func (r *argReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}

	if len(r.data) < n {
		r.err = fmt.Errorf("need %d bytes, have %d", n, len(r.data))
		return nil
	}

	out := r.data[:n]
	r.data = r.data[n:]

	return out
}

func (r *argReader) fixed(dst []byte) {
	if b := r.take(len(dst)); b != nil {
		copy(dst, b)
	}
}

func (r *argReader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *argReader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *argReader) u128() protocol.Uint128 {
	if b := r.take(16); b != nil {
		return protocol.Uint128FromLE(b)
	}
	return protocol.Uint128{}
}

// bytes reads a u32 length prefix and that many bytes, copied.
func (r *argReader) bytes() []byte {
	n := r.u32()
	if r.err != nil {
		return nil
	}

	if n > maxArgBytes {
		r.err = fmt.Errorf("argument of %d bytes exceeds %d", n, maxArgBytes)
		return nil
	}

	return append([]byte{}, r.take(int(n))...)
}

// Receipt reports what a command changed.
type Receipt struct {
	Kind       Kind                 `json:"kind"`
	Bounty     *protocol.Bounty     `json:"bounty,omitempty"`
	Submission *protocol.Submission `json:"submission,omitempty"`
	Outcome    string               `json:"outcome,omitempty"`
	Paid       uint64               `json:"paid,omitempty"`
}

// Execute routes cmd to its handler with sender as the acting principal.
func (e *Engine) Execute(ctx context.Context, sender address.Address, cmd Command) (*Receipt, error) {
	switch c := cmd.(type) {
	case CreateBountyCmd:
		b, err := e.CreateBounty(ctx, sender, c.Params)
		if err != nil {
			return nil, err
		}
		return &Receipt{Kind: KindCreateBounty, Bounty: b}, nil

	case SubmitCmd:
		sub, err := e.Submit(ctx, c.Bounty, sender, c.PredsHash, c.DataURI)
		if err != nil {
			return nil, err
		}
		return &Receipt{Kind: KindSubmit, Submission: sub}, nil

	case FinalizeCmd:
		res, err := e.Finalize(ctx, FinalizeParams{
			Bounty:      c.Bounty,
			Submission:  c.Submission,
			Payload:     c.Payload,
			Attestation: c.Attestation,
			Caller:      sender,
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:       KindFinalize,
			Bounty:     res.Bounty,
			Submission: res.Submission,
			Outcome:    res.Outcome.String(),
			Paid:       res.Paid,
		}, nil

	case ReclaimCmd:
		b, err := e.Reclaim(ctx, c.Bounty, sender)
		if err != nil {
			return nil, err
		}
		return &Receipt{Kind: KindReclaim, Bounty: b}, nil

	default:
		return nil, fmt.Errorf("unsupported command %T", cmd)
	}
}
