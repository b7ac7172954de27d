// Package tx builds and validates the signed envelope that carries escrow commands.
//
// The envelope hash is blake3 of the unsigned transaction: a Transaction table holding
// only sender, kind and args, built in that field order. The signature is ed25519 by
// the sender over the hash. Client and server build the unsigned form with the same
// function, so the encoding never drifts between them.
package tx

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	errorsmod "cosmossdk.io/errors"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/zeebo/blake3"

	"Provability/internal/address"
	"Provability/internal/protocol"
	"Provability/internal/types"
)

const (
	// hashSize is the expected size of a transaction hash.
	hashSize = 32

	// signatureSize is the expected size of an Ed25519 signature.
	signatureSize = ed25519.SignatureSize

	// MaxSize is the largest accepted encoded envelope.
	MaxSize = 1 << 20
)

// ErrMalformed is returned for envelopes that cannot be decoded.
var ErrMalformed = errors.New("malformed transaction")

// Envelope is a validated transaction.
type Envelope struct {
	Hash   [32]byte        // Hash is blake3 of the unsigned transaction
	Sender address.Address // Sender is the signer's ed25519 public key
	Kind   uint8           // Kind selects the command
	Args   []byte          // Args are the command's little-endian arguments
}

// Build returns a signed envelope and its hash.
func Build(priv ed25519.PrivateKey, kind uint8, args []byte) ([]byte, [32]byte) {
	sender := priv.Public().(ed25519.PublicKey)

	hash := blake3.Sum256(unsignedBytes(sender, kind, args))
	sig := ed25519.Sign(priv, hash[:])

	builder := flatbuffers.NewBuilder(256 + len(args))

	argsVec := builder.CreateByteVector(args)
	senderVec := builder.CreateByteVector(sender)
	hashVec := builder.CreateByteVector(hash[:])
	sigVec := builder.CreateByteVector(sig)

	types.TransactionStart(builder)
	types.TransactionAddHash(builder, hashVec)
	types.TransactionAddSender(builder, senderVec)
	types.TransactionAddSignature(builder, sigVec)
	types.TransactionAddKind(builder, kind)
	types.TransactionAddArgs(builder, argsVec)
	builder.Finish(types.TransactionEnd(builder))

	return builder.FinishedBytes(), hash
}

// unsignedBytes builds the hashed form. The construction order is part of the format.
func unsignedBytes(sender []byte, kind uint8, args []byte) []byte {
	builder := flatbuffers.NewBuilder(128 + len(args))

	argsVec := builder.CreateByteVector(args)
	senderVec := builder.CreateByteVector(sender)

	types.TransactionStart(builder)
	types.TransactionAddSender(builder, senderVec)
	types.TransactionAddKind(builder, kind)
	types.TransactionAddArgs(builder, argsVec)
	builder.Finish(types.TransactionEnd(builder))

	return builder.FinishedBytes()
}

// Decode checks structure, recomputes the hash and verifies the signature.
// Structural failures wrap ErrMalformed; hash or signature failures are BadSignature.
func Decode(data []byte) (*Envelope, error) {
	if len(data) < 8 || len(data) > MaxSize {
		return nil, fmt.Errorf("%w: size %d", ErrMalformed, len(data))
	}

	var (
		env       Envelope
		hash, sig []byte
		senderRaw []byte
	)

	err := types.Read(func() {
		t := types.GetRootAsTransaction(data, 0)

		hash = bytes.Clone(t.HashBytes())
		senderRaw = bytes.Clone(t.SenderBytes())
		sig = bytes.Clone(t.SignatureBytes())
		env.Kind = t.Kind()
		env.Args = bytes.Clone(t.ArgsBytes())
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if err := validateFieldSizes(hash, senderRaw, sig); err != nil {
		return nil, err
	}

	copy(env.Hash[:], hash)
	copy(env.Sender[:], senderRaw)

	expected := blake3.Sum256(unsignedBytes(senderRaw, env.Kind, env.Args))
	if expected != env.Hash {
		return nil, errorsmod.Wrap(protocol.ErrBadSignature, "hash does not match content")
	}

	if !ed25519.Verify(senderRaw, hash, sig) {
		return nil, errorsmod.Wrapf(protocol.ErrBadSignature, "sender %s", env.Sender.Short())
	}

	return &env, nil
}

// validateFieldSizes checks that all fixed-size fields have the correct length.
func validateFieldSizes(hash, sender, sig []byte) error {
	if len(hash) != hashSize {
		return fmt.Errorf("%w: hash size %d, want %d", ErrMalformed, len(hash), hashSize)
	}

	if len(sender) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: sender size %d, want %d", ErrMalformed, len(sender), ed25519.PublicKeySize)
	}

	if len(sig) != signatureSize {
		return fmt.Errorf("%w: signature size %d, want %d", ErrMalformed, len(sig), signatureSize)
	}

	return nil
}
