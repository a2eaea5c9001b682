// Package events implements the typed domain event bus called for by the
// "replace name-string emitter with a tagged union of event kinds"
// redesign: each event is its own Go type, and subscribers register per
// variant instead of by pattern-matching a topic string.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies an event's concrete type for dispatch and logging.
type Kind string

const (
	KindContractDrafted     Kind = "contract_drafted"
	KindContractCreated     Kind = "contract_created"
	KindContractFunded      Kind = "contract_funded"
	KindExecutionCreated    Kind = "execution_created"
	KindContractExecuted    Kind = "contract_executed"
	KindContractVoided      Kind = "contract_voided"
	KindContractDisputed    Kind = "contract_disputed"
	KindContractUpdated     Kind = "contract_updated"
	KindArbitrationResolved Kind = "arbitration_resolved"
	KindRequestCreated      Kind = "request_created"
)

// Event is implemented by every concrete event type below.
type Event interface {
	Kind() Kind
}

type ContractDrafted struct {
	ContractID uuid.UUID
	At         time.Time
}

func (ContractDrafted) Kind() Kind { return KindContractDrafted }

type ContractCreated struct {
	ContractID uuid.UUID
	At         time.Time
}

func (ContractCreated) Kind() Kind { return KindContractCreated }

type ContractFunded struct {
	ContractID   uuid.UUID
	FundedAmount uint64
	At           time.Time
}

func (ContractFunded) Kind() Kind { return KindContractFunded }

type ExecutionCreated struct {
	ContractID  uuid.UUID
	ExecutionID uuid.UUID
	Action      string
	At          time.Time
}

func (ExecutionCreated) Kind() Kind { return KindExecutionCreated }

type ContractExecuted struct {
	ContractID  uuid.UUID
	ExecutionID uuid.UUID
	Action      string
	Txid        string
	At          time.Time
}

func (ContractExecuted) Kind() Kind { return KindContractExecuted }

type ContractVoided struct {
	ContractID uuid.UUID
	At         time.Time
}

func (ContractVoided) Kind() Kind { return KindContractVoided }

type ContractDisputed struct {
	ContractID    uuid.UUID
	ArbitrationID uuid.UUID
	Reason        string
	At            time.Time
}

func (ContractDisputed) Kind() Kind { return KindContractDisputed }

// ContractUpdated is published after every persisted mutation, in addition
// to whatever more specific event that mutation also produced.
type ContractUpdated struct {
	ContractID uuid.UUID
	Version    uint64
	At         time.Time
}

func (ContractUpdated) Kind() Kind { return KindContractUpdated }

type ArbitrationResolved struct {
	ArbitrationID uuid.UUID
	ContractID    uuid.UUID
	Verdict       string
	At            time.Time
}

func (ArbitrationResolved) Kind() Kind { return KindArbitrationResolved }

type RequestCreated struct {
	RequestID string
	At        time.Time
}

func (RequestCreated) Kind() Kind { return KindRequestCreated }
