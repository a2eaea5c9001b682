// Package contract holds the data model the Contract Orchestrator owns and
// the Escrow instantiation of the fsm kernel that governs it.
package contract

import (
	"time"

	"github.com/google/uuid"

	"github.com/arkade-os/escrow-engine/escrow"
)

// Type tags which static fsm.Config and field semantics a Contract uses.
// Only TypeEscrow is implemented; the field exists so a second contract
// type (e.g. the spec's "lending sibling") can be added without reshaping
// Contract itself.
type Type string

const TypeEscrow Type = "escrow"

// Escrow states.
const (
	StateDraft            = "draft"
	StateCreated          = "created"
	StateFunded           = "funded"
	StatePendingExecution = "pending-execution"
	StateDisputed         = "disputed"
	StateCompleted        = "completed"
	StateCanceled         = "canceled"
	StateVoided           = "voided"
)

// Escrow actions.
const (
	ActionAccept            = "accept"
	ActionReject            = "reject"
	ActionCancel            = "cancel"
	ActionFund              = "fund"
	ActionRelease           = "release"
	ActionRefund            = "refund"
	ActionSettle            = "settle"
	ActionDispute           = "dispute"
	ActionVoid              = "void"
	ActionUnilateralRelease = "unilateral-release"
	ActionUnilateralRefund  = "unilateral-refund"
	ActionUnilateralSettle  = "unilateral-settle"
)

// VtxoRef is a spendable reference inside the ARK overlay.
type VtxoRef struct {
	Txid  string
	Vout  uint32
	Value uint64
}

// Metadata carries bookkeeping fields independent of escrow semantics.
type Metadata struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   uint64
	Type      Type
}

// Contract is the Contract Orchestrator's owned record. The fsm.Machine
// governing it holds a pointer to the same Contract as its context, so
// guards and hooks read and write these fields directly.
type Contract struct {
	ID              uuid.UUID
	Metadata        Metadata
	State           string
	ScriptConfig    escrow.ScriptConfig
	Parties         []escrow.Party
	InitiatorPubKey [32]byte
	Amount          uint64
	Description     string
	FundedAmount    uint64
	Vtxos           []VtxoRef
	EscrowAddress   string
	ReleaseAddress  string
	RefundAddress   string
	Nonce           []byte

	CancelReason string
	RejectReason string
}

// PartyPubKey returns the pubkey registered for role, if any.
func (c *Contract) PartyPubKey(role escrow.Role) ([32]byte, bool) {
	for _, p := range c.Parties {
		if p.Role == role {
			return p.PubKey, true
		}
	}
	return [32]byte{}, false
}

// IsParty reports whether pubkey belongs to one of the contract's parties.
func (c *Contract) IsParty(pubkey [32]byte) bool {
	for _, p := range c.Parties {
		if p.PubKey == pubkey {
			return true
		}
	}
	return false
}

// ExecutionStatus values.
const (
	ExecStatusPendingServerConfirmation = "pending-server-confirmation"
	ExecStatusPendingCounterparty       = "pending-counterparty"
	ExecStatusExecuted                  = "executed"
	ExecStatusRejected                  = "rejected"
	ExecStatusCanceled                  = "canceled"
)

// ExecutionTransaction bundles the ARK transaction under construction and
// the set of parties that have approved it so far.
type ExecutionTransaction struct {
	ArkTxPSBT   []byte
	Checkpoints [][]byte
	ApprovedBy  map[[32]byte]bool

	// CoordinatorState is the signing.Coordinator's own serialized form,
	// updated on every approval so a non-terminal Execution survives a
	// process restart: the Execution Orchestrator rehydrates a Coordinator
	// from this field when its in-memory copy is gone.
	CoordinatorState []byte
}

// Execution tracks one in-flight spend of a Contract's funds along a
// chosen path. At most one non-terminal Execution may exist per contract.
type Execution struct {
	ExternalID         uuid.UUID
	ContractID         uuid.UUID
	Action             string
	InitiatedByPubKey  [32]byte
	Status             string
	Transaction        ExecutionTransaction
	DestinationAddress string
	CancelationReason  string
	RejectionReason    string
}

// IsTerminal reports whether the execution can no longer accept signatures
// or be resolved further.
func (e *Execution) IsTerminal() bool {
	switch e.Status {
	case ExecStatusExecuted, ExecStatusRejected, ExecStatusCanceled:
		return true
	default:
		return false
	}
}

// Arbitration statuses and verdicts.
const (
	ArbitrationPending  = "pending"
	ArbitrationResolved = "resolved"
	ArbitrationExecuted = "executed"

	VerdictRelease = "release"
	VerdictRefund  = "refund"
	VerdictVoid    = "void"
)

// Arbitration is opened against a disputed Contract and, once resolved,
// authorizes exactly one party to drive the verdict's execution.
type Arbitration struct {
	ExternalID     uuid.UUID
	ContractID     uuid.UUID
	Status         string
	ClaimantPubKey [32]byte
	Reason         string
	Verdict        string
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}

// PartySignature is the transient unit the Signing Coordinator collects:
// one role's contribution to a PSBT, held only until the full required set
// has arrived.
type PartySignature struct {
	Role       escrow.Role
	PubKey     [32]byte
	SignedPSBT []byte
}
