package signing

import (
	"errors"
	"fmt"

	"github.com/arkade-os/escrow-engine/escrow"
)

var (
	ErrInvalidSigner        = errors.New("signing: role is not a required signer")
	ErrDuplicateSignature   = errors.New("signing: role has already signed")
	ErrSignatureNotFound    = errors.New("signing: role has not signed")
	ErrIncompleteSignatures = errors.New("signing: not every required signer has contributed")
)

// InvalidSignerError is returned when a signature is offered for a role
// outside the execution's required-signer set.
type InvalidSignerError struct {
	Role escrow.Role
}

func (e *InvalidSignerError) Error() string {
	return fmt.Sprintf("signing: %q is not a required signer", e.Role)
}

func (e *InvalidSignerError) Unwrap() error { return ErrInvalidSigner }

// DuplicateSignatureError is returned when a role that has already signed
// attempts to contribute again.
type DuplicateSignatureError struct {
	Role escrow.Role
}

func (e *DuplicateSignatureError) Error() string {
	return fmt.Sprintf("signing: %q has already signed", e.Role)
}

func (e *DuplicateSignatureError) Unwrap() error { return ErrDuplicateSignature }

// SignatureNotFoundError is returned by RemoveSignature when role never
// signed in the first place.
type SignatureNotFoundError struct {
	Role escrow.Role
}

func (e *SignatureNotFoundError) Error() string {
	return fmt.Sprintf("signing: %q has not signed", e.Role)
}

func (e *SignatureNotFoundError) Unwrap() error { return ErrSignatureNotFound }
