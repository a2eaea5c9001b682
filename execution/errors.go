package execution

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrConflictingExecution  = errors.New("execution: contract already has a non-terminal execution")
	ErrInsufficientFunding   = errors.New("execution: funded amount is below the contract amount")
	ErrUnknownExecution      = errors.New("execution: no in-flight coordinator for this execution")
	ErrExecutionTerminal     = errors.New("execution: execution already reached a terminal status")
	ErrUnauthorized          = errors.New("execution: caller is not authorized to perform this action")
)

// ConflictingExecutionError is returned by Initiate when the contract
// already has an execution in flight (the double-spend guard in
// spec.md §8 scenario 4).
type ConflictingExecutionError struct {
	ContractID  uuid.UUID
	ExecutionID uuid.UUID
}

func (e *ConflictingExecutionError) Error() string {
	return fmt.Sprintf("execution: contract %s already has execution %s in flight", e.ContractID, e.ExecutionID)
}

func (e *ConflictingExecutionError) Unwrap() error { return ErrConflictingExecution }

// InsufficientFundingError is returned when a contract's funded_amount has
// not yet reached its required amount.
type InsufficientFundingError struct {
	Funded, Required uint64
}

func (e *InsufficientFundingError) Error() string {
	return fmt.Sprintf("execution: funded amount %d is below required %d", e.Funded, e.Required)
}

func (e *InsufficientFundingError) Unwrap() error { return ErrInsufficientFunding }

// UnknownExecutionError reports an execution id that has no live signing
// coordinator. Approve does not return it: when no coordinator is held in
// memory, Approve rebuilds one from the Execution's persisted state.
type UnknownExecutionError struct {
	ExecutionID uuid.UUID
}

func (e *UnknownExecutionError) Error() string {
	return fmt.Sprintf("execution: no coordinator for execution %s", e.ExecutionID)
}

func (e *UnknownExecutionError) Unwrap() error { return ErrUnknownExecution }

// ExecutionTerminalError is returned when an operation is attempted
// against an execution that already reached a terminal status.
type ExecutionTerminalError struct {
	ExecutionID uuid.UUID
	Status      string
}

func (e *ExecutionTerminalError) Error() string {
	return fmt.Sprintf("execution: execution %s is already %s", e.ExecutionID, e.Status)
}

func (e *ExecutionTerminalError) Unwrap() error { return ErrExecutionTerminal }

// UnauthorizedError is returned when a caller attempts to reject/cancel an
// execution it does not have the role to terminate.
type UnauthorizedError struct {
	PubKey [32]byte
}

func (e *UnauthorizedError) Error() string {
	return "execution: caller is not authorized to perform this action"
}

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }
