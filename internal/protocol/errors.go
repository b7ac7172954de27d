package protocol

import (
	"errors"

	errorsmod "cosmossdk.io/errors"
)

// Codespace is the error codespace of the escrow protocol.
const Codespace = "escrow"

// Validation errors reject malformed requests.
var (
	ErrInvalidAmount     = errorsmod.Register(Codespace, 2, "invalid amount")
	ErrInvalidDeadline   = errorsmod.Register(Codespace, 3, "invalid deadline")
	ErrInvalidParams     = errorsmod.Register(Codespace, 4, "invalid parameters")
	ErrInsufficientFunds = errorsmod.Register(Codespace, 5, "insufficient funds")
)

// State errors reject operations the current bounty or submission state does not allow.
var (
	ErrBountyAlreadyFinalized = errorsmod.Register(Codespace, 10, "bounty already finalized")
	ErrBountyClosed           = errorsmod.Register(Codespace, 11, "bounty closed")
	ErrDeadlinePassed         = errorsmod.Register(Codespace, 12, "deadline passed")
	ErrNotExpired             = errorsmod.Register(Codespace, 13, "bounty not expired")
	ErrAlreadySubmitted       = errorsmod.Register(Codespace, 14, "already submitted")
	ErrBountyExists           = errorsmod.Register(Codespace, 15, "bounty already exists")
	ErrBountyNotFound         = errorsmod.Register(Codespace, 16, "bounty not found")
	ErrSubmissionNotFound     = errorsmod.Register(Codespace, 17, "submission not found")
	ErrSubmissionNotPending   = errorsmod.Register(Codespace, 18, "submission not pending")
)

// Auth errors reject callers or issuers that lack authority.
var (
	ErrNotCreator       = errorsmod.Register(Codespace, 20, "caller is not the bounty creator")
	ErrAttesterMismatch = errorsmod.Register(Codespace, 21, "attester mismatch")
	ErrBadSignature     = errorsmod.Register(Codespace, 22, "bad transaction signature")
)

// Integrity errors always abort the transaction; they are never downgraded.
var (
	ErrAttestationInvalid    = errorsmod.Register(Codespace, 30, "attestation invalid")
	ErrMeasurementMismatch   = errorsmod.Register(Codespace, 31, "measurement mismatch")
	ErrCommitmentMismatch    = errorsmod.Register(Codespace, 32, "commitment mismatch")
	ErrPayloadDigestMismatch = errorsmod.Register(Codespace, 33, "payload digest mismatch")
	ErrAttestationReplayed   = errorsmod.Register(Codespace, 34, "attestation already consumed")
	ErrPayloadMalformed      = errorsmod.Register(Codespace, 35, "attested payload malformed")
)

// ErrThresholdNotMet is the negative finalize outcome. It is a result, not a fault.
var ErrThresholdNotMet = errorsmod.Register(Codespace, 40, "threshold not met")

// Class groups protocol errors by how callers should react to them.
type Class int

const (
	ClassUnknown Class = iota
	ClassValidation
	ClassState
	ClassAuth
	ClassIntegrity
	ClassOutcome
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "ValidationError"
	case ClassState:
		return "StateError"
	case ClassAuth:
		return "AuthError"
	case ClassIntegrity:
		return "IntegrityError"
	case ClassOutcome:
		return "OutcomeError"
	default:
		return "Unknown"
	}
}

var classes = map[*errorsmod.Error]Class{
	ErrInvalidAmount:          ClassValidation,
	ErrInvalidDeadline:        ClassValidation,
	ErrInvalidParams:          ClassValidation,
	ErrInsufficientFunds:      ClassValidation,
	ErrBountyAlreadyFinalized: ClassState,
	ErrBountyClosed:           ClassState,
	ErrDeadlinePassed:         ClassState,
	ErrNotExpired:             ClassState,
	ErrAlreadySubmitted:       ClassState,
	ErrBountyExists:           ClassState,
	ErrBountyNotFound:         ClassState,
	ErrSubmissionNotFound:     ClassState,
	ErrSubmissionNotPending:   ClassState,
	ErrNotCreator:             ClassAuth,
	ErrAttesterMismatch:       ClassAuth,
	ErrBadSignature:           ClassAuth,
	ErrAttestationInvalid:     ClassIntegrity,
	ErrMeasurementMismatch:    ClassIntegrity,
	ErrCommitmentMismatch:     ClassIntegrity,
	ErrPayloadDigestMismatch:  ClassIntegrity,
	ErrAttestationReplayed:    ClassIntegrity,
	ErrPayloadMalformed:       ClassIntegrity,
	ErrThresholdNotMet:        ClassOutcome,
}

// ClassOf returns the class of err, unwrapping as needed.
func ClassOf(err error) Class {
	for sentinel, class := range classes {
		if errors.Is(err, sentinel) {
			return class
		}
	}

	return ClassUnknown
}

// CodeOf returns the registered (codespace, code) of err, or ("", 1) for unregistered errors.
func CodeOf(err error) (string, uint32) {
	var coded *errorsmod.Error
	if errors.As(err, &coded) {
		return coded.Codespace(), coded.ABCICode()
	}

	for sentinel := range classes {
		if errors.Is(err, sentinel) {
			return sentinel.Codespace(), sentinel.ABCICode()
		}
	}

	return "", 1
}
