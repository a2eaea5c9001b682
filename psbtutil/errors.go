package psbtutil

import (
	"errors"
	"fmt"
)

var (
	ErrInputCountMismatch    = errors.New("psbtutil: input count mismatch")
	ErrMissingSignature      = errors.New("psbtutil: input has no tap_script_sig to merge")
	ErrCheckpointNotFound    = errors.New("psbtutil: no checkpoint matches signed txid")
	ErrCheckpointLenMismatch = errors.New("psbtutil: checkpoint slice length mismatch")
)

// InputCountMismatchError is returned when two packets being merged (or an
// out-of-range input index) don't agree on input count.
type InputCountMismatchError struct {
	Got, Want int
}

func (e *InputCountMismatchError) Error() string {
	return fmt.Sprintf("psbtutil: input count mismatch: got %d, want %d", e.Got, e.Want)
}

func (e *InputCountMismatchError) Unwrap() error { return ErrInputCountMismatch }

// MissingSignatureError is returned when the incoming PSBT's input carries
// no tap_script_sig entries to contribute.
type MissingSignatureError struct {
	InputIndex int
}

func (e *MissingSignatureError) Error() string {
	return fmt.Sprintf("psbtutil: input %d has no tap_script_sig", e.InputIndex)
}

func (e *MissingSignatureError) Unwrap() error { return ErrMissingSignature }

// CheckpointNotFoundError is returned when a signed checkpoint's txid
// matches none of the original checkpoints.
type CheckpointNotFoundError struct {
	Txid string
}

func (e *CheckpointNotFoundError) Error() string {
	return fmt.Sprintf("psbtutil: no original checkpoint matches txid %s", e.Txid)
}

func (e *CheckpointNotFoundError) Unwrap() error { return ErrCheckpointNotFound }

// CheckpointLengthMismatchError is returned when the signed and original
// checkpoint slices have different lengths.
type CheckpointLengthMismatchError struct {
	Got, Want int
}

func (e *CheckpointLengthMismatchError) Error() string {
	return fmt.Sprintf("psbtutil: checkpoint length mismatch: got %d, want %d", e.Got, e.Want)
}

func (e *CheckpointLengthMismatchError) Unwrap() error { return ErrCheckpointLenMismatch }
