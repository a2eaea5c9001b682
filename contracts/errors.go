package contracts

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized   = errors.New("contracts: caller is not authorized to perform this action")
	ErrInvalidSide    = errors.New("contracts: side must be sender or receiver")
	ErrWrongState     = errors.New("contracts: contract is not in a state that permits this command")
	ErrAlreadyWatched = errors.New("contracts: contract already has an active funding watcher")
)

// UnauthorizedError is returned when callerPubKey does not hold the role a
// command requires (e.g. accept by the drafting party, update-release-address
// by anyone but the receiver).
type UnauthorizedError struct {
	PubKey [32]byte
}

func (e *UnauthorizedError) Error() string {
	return "contracts: caller is not authorized to perform this action"
}

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

// WrongStateError is returned when a command is only valid from specific
// states and the contract is not currently in one of them.
type WrongStateError struct {
	State   string
	Command string
}

func (e *WrongStateError) Error() string {
	return fmt.Sprintf("contracts: command %q is not valid from state %q", e.Command, e.State)
}

func (e *WrongStateError) Unwrap() error { return ErrWrongState }
