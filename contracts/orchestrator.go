// Package contracts implements the Contract Orchestrator (C7): the lifecycle
// commands that create and mutate an Escrow Contract, the invariants guarding
// them, and the funding watcher that turns protocol-provider coin-set
// deliveries into fund transitions.
package contracts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arkade-os/escrow-engine/contract"
	"github.com/arkade-os/escrow-engine/escrow"
	"github.com/arkade-os/escrow-engine/events"
	"github.com/arkade-os/escrow-engine/metrics"
	"github.com/arkade-os/escrow-engine/provider"
	"github.com/arkade-os/escrow-engine/repository"
)

// Orchestrator owns Contract records end to end: drafting, lifecycle
// commands, and the funding watcher that observes an escrow address until
// the contract leaves a non-terminal state.
type Orchestrator struct {
	builder   *escrow.Builder
	provider  provider.Provider
	contracts repository.Repository[*contract.Contract]
	bus       *events.Bus
	metrics   *metrics.Recorder
	log       *logrus.Entry

	serverPubKey    [32]byte
	arbiterPubKey   [32]byte
	unilateralDelay escrow.Timelock

	actorsMu sync.Mutex
	actors   map[uuid.UUID]*contractActor

	watchersMu sync.Mutex
	watchers   map[uuid.UUID]context.CancelFunc
}

// NewOrchestrator wires a Contract Orchestrator. serverPubKey and
// arbiterPubKey are the protocol-wide co-signer and arbiter keys every
// drafted Escrow contract is built with; unilateralDelay gates every
// unilateral-* spending path.
func NewOrchestrator(
	builder *escrow.Builder,
	prov provider.Provider,
	contracts repository.Repository[*contract.Contract],
	bus *events.Bus,
	rec *metrics.Recorder,
	log *logrus.Entry,
	serverPubKey, arbiterPubKey [32]byte,
	unilateralDelay escrow.Timelock,
) *Orchestrator {
	return &Orchestrator{
		builder:         builder,
		provider:        prov,
		contracts:       contracts,
		bus:             bus,
		metrics:         rec,
		log:             log,
		serverPubKey:    serverPubKey,
		arbiterPubKey:   arbiterPubKey,
		unilateralDelay: unilateralDelay,
		actors:          make(map[uuid.UUID]*contractActor),
		watchers:        make(map[uuid.UUID]context.CancelFunc),
	}
}

func (o *Orchestrator) publish(e events.Event) {
	if o.bus != nil {
		o.bus.Publish(e)
	}
}

func (o *Orchestrator) recordTransition(action string) {
	if o.metrics != nil {
		o.metrics.RecordTransition(action)
	}
}

// buildScriptConfig assembles the standard four-party escrow ScriptConfig.
// release and refund are each a 3-of-3 over the moving party, the server,
// and the arbiter — not over both counterparties — so that an arbiter
// verdict against an uncooperative counterparty is still satisfiable:
// release pays the receiver and is signed by {receiver, server, arbiter};
// refund pays the sender back and is signed by {sender, server, arbiter}.
// settle is the only path requiring both original counterparties, since it
// is strictly voluntary. The three unilateral-* paths are each the
// corresponding path's moving party plus the arbiter, gated by
// unilateralDelay, with no server signature at all.
func (o *Orchestrator) buildScriptConfig(senderKey, receiverKey [32]byte, nonce []byte) escrow.ScriptConfig {
	parties := []escrow.Party{
		{Role: escrow.RoleSender, PubKey: senderKey},
		{Role: escrow.RoleReceiver, PubKey: receiverKey},
		{Role: escrow.RoleServer, PubKey: o.serverPubKey},
		{Role: escrow.RoleArbiter, PubKey: o.arbiterPubKey},
	}
	tl := o.unilateralDelay

	return escrow.ScriptConfig{
		Parties: parties,
		SpendingPaths: []escrow.SpendingPath{
			{
				Name: "release", Kind: escrow.PathMultisig,
				RequiredRoles: []escrow.Role{escrow.RoleReceiver, escrow.RoleServer, escrow.RoleArbiter}, Threshold: 3,
			},
			{
				Name: "refund", Kind: escrow.PathMultisig,
				RequiredRoles: []escrow.Role{escrow.RoleSender, escrow.RoleServer, escrow.RoleArbiter}, Threshold: 3,
			},
			{
				Name: "settle", Kind: escrow.PathMultisig,
				RequiredRoles: []escrow.Role{escrow.RoleSender, escrow.RoleReceiver, escrow.RoleServer}, Threshold: 3,
			},
			{
				Name: "release-unilateral", Kind: escrow.PathCSVMultisig,
				RequiredRoles: []escrow.Role{escrow.RoleReceiver, escrow.RoleArbiter}, Threshold: 2, Timelock: &tl,
			},
			{
				Name: "refund-unilateral", Kind: escrow.PathCSVMultisig,
				RequiredRoles: []escrow.Role{escrow.RoleSender, escrow.RoleArbiter}, Threshold: 2, Timelock: &tl,
			},
			{
				Name: "settle-unilateral", Kind: escrow.PathCSVMultisig,
				RequiredRoles: []escrow.Role{escrow.RoleReceiver, escrow.RoleArbiter}, Threshold: 2, Timelock: &tl,
			},
		},
		Nonce:             nonce,
		ProtocolServerKey: o.serverPubKey,
	}
}

// Draft creates a new Escrow contract in the draft state and derives its
// funding address. side names the role initiatorPubKey takes on
// (RoleSender or RoleReceiver); counterpartyPubKey takes the other.
func (o *Orchestrator) Draft(
	ctx context.Context,
	requestID string,
	initiatorPubKey, counterpartyPubKey [32]byte,
	side escrow.Role,
	amount uint64,
	description string,
	nonce []byte,
) (*contract.Contract, error) {
	var senderKey, receiverKey [32]byte
	switch side {
	case escrow.RoleSender:
		senderKey, receiverKey = initiatorPubKey, counterpartyPubKey
	case escrow.RoleReceiver:
		senderKey, receiverKey = counterpartyPubKey, initiatorPubKey
	default:
		return nil, ErrInvalidSide
	}

	cfg := o.buildScriptConfig(senderKey, receiverKey, nonce)
	built, err := o.builder.Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("contracts: build escrow script: %w", err)
	}

	now := time.Now()
	c := &contract.Contract{
		ID:              uuid.New(),
		Metadata:        contract.Metadata{CreatedAt: now, UpdatedAt: now, Version: 1, Type: contract.TypeEscrow},
		State:           contract.StateDraft,
		ScriptConfig:    cfg,
		Parties:         cfg.Parties,
		InitiatorPubKey: initiatorPubKey,
		Amount:          amount,
		Description:     description,
		EscrowAddress:   built.Address,
		Nonce:           nonce,
	}
	if err := o.contracts.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("contracts: persist draft: %w", err)
	}

	o.publish(events.RequestCreated{RequestID: requestID, At: now})
	o.publish(events.ContractDrafted{ContractID: c.ID, At: now})
	return c, nil
}

// Accept drives draft -> created. callerPubKey must be a registered party
// other than the one who drafted the contract.
func (o *Orchestrator) Accept(ctx context.Context, c *contract.Contract, callerPubKey [32]byte) error {
	return o.withActor(c.ID, func() error {
		if callerPubKey == c.InitiatorPubKey || !c.IsParty(callerPubKey) {
			return &UnauthorizedError{PubKey: callerPubKey}
		}
		if err := o.transition(ctx, c, contract.ActionAccept); err != nil {
			return err
		}
		o.publish(events.ContractCreated{ContractID: c.ID, At: time.Now()})
		o.publish(events.ContractUpdated{ContractID: c.ID, Version: c.Metadata.Version, At: time.Now()})
		if err := o.StartFundingWatcher(context.Background(), c); err != nil && o.log != nil {
			o.log.WithError(err).WithField("contract_id", c.ID).Warn("failed to start funding watcher")
		}
		return nil
	})
}

// Reject drives draft -> canceled. callerPubKey must be the counterparty,
// not the drafting party.
func (o *Orchestrator) Reject(ctx context.Context, c *contract.Contract, callerPubKey [32]byte, reason string) error {
	return o.withActor(c.ID, func() error {
		if callerPubKey == c.InitiatorPubKey || !c.IsParty(callerPubKey) {
			return &UnauthorizedError{PubKey: callerPubKey}
		}
		c.RejectReason = reason
		return o.transitionAndPublish(ctx, c, contract.ActionReject, nil)
	})
}

// Cancel drives draft -> canceled. Either party may cancel a draft.
func (o *Orchestrator) Cancel(ctx context.Context, c *contract.Contract, callerPubKey [32]byte, reason string) error {
	return o.withActor(c.ID, func() error {
		if !c.IsParty(callerPubKey) {
			return &UnauthorizedError{PubKey: callerPubKey}
		}
		if c.State != contract.StateDraft {
			return &WrongStateError{State: c.State, Command: "cancel"}
		}
		c.CancelReason = reason
		return o.transitionAndPublish(ctx, c, contract.ActionCancel, nil)
	})
}

// Recede drives created -> canceled. Either party may recede once the
// contract has been accepted but before it is funded.
func (o *Orchestrator) Recede(ctx context.Context, c *contract.Contract, callerPubKey [32]byte) error {
	return o.withActor(c.ID, func() error {
		if !c.IsParty(callerPubKey) {
			return &UnauthorizedError{PubKey: callerPubKey}
		}
		if c.State != contract.StateCreated {
			return &WrongStateError{State: c.State, Command: "recede"}
		}
		return o.transitionAndPublish(ctx, c, contract.ActionCancel, nil)
	})
}

// UpdateReleaseAddress sets c.ReleaseAddress. Only the receiver may call it,
// and only while the contract is created or funded.
func (o *Orchestrator) UpdateReleaseAddress(ctx context.Context, c *contract.Contract, callerPubKey [32]byte, addr string) error {
	return o.withActor(c.ID, func() error {
		receiverKey, ok := c.PartyPubKey(escrow.RoleReceiver)
		if !ok || callerPubKey != receiverKey {
			return &UnauthorizedError{PubKey: callerPubKey}
		}
		if c.State != contract.StateCreated && c.State != contract.StateFunded {
			return &WrongStateError{State: c.State, Command: "update_release_address"}
		}
		c.ReleaseAddress = addr
		c.Metadata.Version++
		c.Metadata.UpdatedAt = time.Now()
		if err := o.contracts.Save(ctx, c); err != nil {
			return fmt.Errorf("contracts: persist release address: %w", err)
		}
		o.publish(events.ContractUpdated{ContractID: c.ID, Version: c.Metadata.Version, At: time.Now()})
		return nil
	})
}

// ObserveFunding recomputes funded_amount from vtxos and, if the contract is
// created and now funded, drives fund. It is idempotent: delivering the
// same vtxo set twice leaves state, version, and published events unchanged
// on the second call.
func (o *Orchestrator) ObserveFunding(ctx context.Context, c *contract.Contract, vtxos []contract.VtxoRef) error {
	return o.withActor(c.ID, func() error {
		var total uint64
		for _, v := range vtxos {
			total += v.Value
		}
		if total == c.FundedAmount && vtxoSetsEqual(c.Vtxos, vtxos) {
			return nil
		}
		c.Vtxos = vtxos
		c.FundedAmount = total

		if total >= c.Amount && c.State == contract.StateCreated {
			machine := contract.NewMachine(c)
			if err := machine.Perform(contract.ActionFund, c); err != nil {
				return fmt.Errorf("contracts: fund transition: %w", err)
			}
			c.State = machine.State()
			o.recordTransition(contract.ActionFund)
			o.publish(events.ContractFunded{ContractID: c.ID, FundedAmount: total, At: time.Now()})
		}

		c.Metadata.Version++
		c.Metadata.UpdatedAt = time.Now()
		if err := o.contracts.Save(ctx, c); err != nil {
			return fmt.Errorf("contracts: persist funding observation: %w", err)
		}
		o.publish(events.ContractUpdated{ContractID: c.ID, Version: c.Metadata.Version, At: time.Now()})
		return nil
	})
}

// Dispute drives funded or pending-execution -> disputed. arbitrationID
// identifies the Arbitration record the caller (the arbitration package)
// already created for this claim.
func (o *Orchestrator) Dispute(ctx context.Context, c *contract.Contract, arbitrationID uuid.UUID, claimantPubKey [32]byte, reason string) error {
	return o.withActor(c.ID, func() error {
		if !c.IsParty(claimantPubKey) {
			return &UnauthorizedError{PubKey: claimantPubKey}
		}
		if err := o.transition(ctx, c, contract.ActionDispute); err != nil {
			return err
		}
		o.publish(events.ContractDisputed{ContractID: c.ID, ArbitrationID: arbitrationID, Reason: reason, At: time.Now()})
		o.publish(events.ContractUpdated{ContractID: c.ID, Version: c.Metadata.Version, At: time.Now()})
		return nil
	})
}

// Void drives disputed -> voided, following an Arbitration verdict of void.
// It is normally called by the arbitration package, not directly.
func (o *Orchestrator) Void(ctx context.Context, c *contract.Contract, callerPubKey [32]byte) error {
	return o.withActor(c.ID, func() error {
		if !c.IsParty(callerPubKey) {
			return &UnauthorizedError{PubKey: callerPubKey}
		}
		return o.transitionAndPublish(ctx, c, contract.ActionVoid, events.ContractVoided{ContractID: c.ID, At: time.Now()})
	})
}

// transition drives the Escrow FSM by action, persists the result, and
// records the metric — without publishing a domain event, leaving that to
// the caller (who usually has a more specific event to emit alongside
// ContractUpdated).
func (o *Orchestrator) transition(ctx context.Context, c *contract.Contract, action string) error {
	machine := contract.NewMachine(c)
	if err := machine.Perform(action, c); err != nil {
		return err
	}
	c.State = machine.State()
	c.Metadata.Version++
	c.Metadata.UpdatedAt = time.Now()
	if err := o.contracts.Save(ctx, c); err != nil {
		return fmt.Errorf("contracts: persist transition %q: %w", action, err)
	}
	o.recordTransition(action)
	if contract.IsFinalState(c.State) {
		o.stopFundingWatcher(c.ID)
	}
	return nil
}

// transitionAndPublish runs transition then publishes extra (if non-nil)
// followed by the standard ContractUpdated event.
func (o *Orchestrator) transitionAndPublish(ctx context.Context, c *contract.Contract, action string, extra events.Event) error {
	if err := o.transition(ctx, c, action); err != nil {
		return err
	}
	if extra != nil {
		o.publish(extra)
	}
	o.publish(events.ContractUpdated{ContractID: c.ID, Version: c.Metadata.Version, At: time.Now()})
	return nil
}

func vtxoSetsEqual(a, b []contract.VtxoRef) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
