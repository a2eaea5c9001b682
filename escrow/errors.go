package escrow

import "fmt"

// ScriptConfigError reports a structurally invalid ScriptConfig: a path
// referencing an unknown role, a threshold exceeding the role count, or a
// csv-multisig path missing its timelock.
type ScriptConfigError struct {
	Reason string
}

func (e *ScriptConfigError) Error() string {
	return fmt.Sprintf("invalid script config: %s", e.Reason)
}

func configErrorf(format string, args ...any) error {
	return &ScriptConfigError{Reason: fmt.Sprintf(format, args...)}
}
