package contract

import "github.com/arkade-os/escrow-engine/fsm"

// escrowStates and escrowFinalStates describe the complete state set for
// the Escrow contract type.
var escrowStates = []string{
	StateDraft, StateCreated, StateFunded, StatePendingExecution,
	StateDisputed, StateCompleted, StateCanceled, StateVoided,
}

var escrowFinalStates = map[string]bool{
	StateCompleted: true,
	StateCanceled:  true,
	StateVoided:    true,
}

// releaseAddressSet guards release/settle from the funded state: per the
// funding invariant, release_address must be set before either path may be
// initiated; its absence leaves dispute as the only available action.
func releaseAddressSet(c *Contract) bool { return c.ReleaseAddress != "" }

// refundAddressSet mirrors releaseAddressSet for the refund path.
func refundAddressSet(c *Contract) bool { return c.RefundAddress != "" }

// EscrowConfig returns the static fsm.Config for the Escrow contract type,
// implementing the transition table from the component design: draft
// through accept/reject/cancel, created through fund/cancel, funded through
// release/refund/settle and dispute, pending-execution through the six
// execute actions and dispute, and disputed through release/refund/void.
func EscrowConfig() fsm.Config[*Contract] {
	return fsm.Config[*Contract]{
		States:      escrowStates,
		FinalStates: escrowFinalStates,
		Transitions: []fsm.Transition[*Contract]{
			{From: StateDraft, Action: ActionAccept, To: StateCreated},
			{From: StateDraft, Action: ActionReject, To: StateCanceled},
			{From: StateDraft, Action: ActionCancel, To: StateCanceled},

			{From: StateCreated, Action: ActionFund, To: StateFunded},
			{From: StateCreated, Action: ActionCancel, To: StateCanceled},

			{From: StateFunded, Action: ActionRelease, To: StatePendingExecution, Guard: releaseAddressSet},
			{From: StateFunded, Action: ActionRefund, To: StatePendingExecution, Guard: refundAddressSet},
			{From: StateFunded, Action: ActionSettle, To: StatePendingExecution, Guard: releaseAddressSet},
			{From: StateFunded, Action: ActionDispute, To: StateDisputed},

			{From: StatePendingExecution, Action: ActionRelease, To: StateCompleted, Guard: releaseAddressSet},
			{From: StatePendingExecution, Action: ActionRefund, To: StateCompleted, Guard: refundAddressSet},
			{From: StatePendingExecution, Action: ActionSettle, To: StateCompleted, Guard: releaseAddressSet},
			{From: StatePendingExecution, Action: ActionUnilateralRelease, To: StateCompleted},
			{From: StatePendingExecution, Action: ActionUnilateralRefund, To: StateCompleted},
			{From: StatePendingExecution, Action: ActionUnilateralSettle, To: StateCompleted},
			{From: StatePendingExecution, Action: ActionDispute, To: StateDisputed},

			{From: StateDisputed, Action: ActionRelease, To: StateCompleted},
			{From: StateDisputed, Action: ActionRefund, To: StateCompleted},
			{From: StateDisputed, Action: ActionVoid, To: StateVoided},
		},
	}
}

// NewMachine compiles the Escrow config and binds it to c, starting at
// c.State. It panics if c.State is not a declared Escrow state, which
// indicates the record was corrupted or belongs to a different Type.
func NewMachine(c *Contract) *fsm.Machine[*Contract] {
	return fsm.New(EscrowConfig(), c.State)
}

// IsFinalState reports whether state is one of the Escrow type's terminal
// states (completed, canceled, voided).
func IsFinalState(state string) bool { return escrowFinalStates[state] }
