package arbitration

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrAlreadyResolved = errors.New("arbitration: arbitration is already resolved")
	ErrInvalidVerdict  = errors.New("arbitration: verdict must be release, refund, or void")
	ErrWrongArbiter    = errors.New("arbitration: caller is not the contract's arbiter")
	ErrNoArbitration   = errors.New("arbitration: no arbitration is tracked for this contract")
	ErrNotResolved     = errors.New("arbitration: arbitration has not been resolved yet")
	ErrVerdictMismatch = errors.New("arbitration: action or caller does not match the resolved verdict")
)

// AlreadyResolvedError is returned by Resolve against a non-pending
// Arbitration.
type AlreadyResolvedError struct {
	ArbitrationID uuid.UUID
	Status        string
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("arbitration: %s is already %s", e.ArbitrationID, e.Status)
}

func (e *AlreadyResolvedError) Unwrap() error { return ErrAlreadyResolved }

// WrongArbiterError is returned when the caller resolving an arbitration is
// not the contract's registered arbiter.
type WrongArbiterError struct {
	PubKey [32]byte
}

func (e *WrongArbiterError) Error() string { return "arbitration: caller is not the contract's arbiter" }

func (e *WrongArbiterError) Unwrap() error { return ErrWrongArbiter }

// VerdictMismatchError is returned by Authorize when the requested action
// or caller does not match what the resolved verdict permits.
type VerdictMismatchError struct {
	ContractID uuid.UUID
	Action     string
}

func (e *VerdictMismatchError) Error() string {
	return fmt.Sprintf("arbitration: verdict for contract %s does not authorize action %q for this caller", e.ContractID, e.Action)
}

func (e *VerdictMismatchError) Unwrap() error { return ErrVerdictMismatch }
