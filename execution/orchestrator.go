// Package execution drives a single spend of a Contract's funds: building
// the unsigned transaction for the chosen path, collecting signatures,
// submitting, finalizing, and moving the Escrow FSM once the funds have
// actually moved.
package execution

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arkade-os/escrow-engine/contract"
	"github.com/arkade-os/escrow-engine/escrow"
	"github.com/arkade-os/escrow-engine/events"
	"github.com/arkade-os/escrow-engine/metrics"
	"github.com/arkade-os/escrow-engine/provider"
	"github.com/arkade-os/escrow-engine/psbtutil"
	"github.com/arkade-os/escrow-engine/repository"
	"github.com/arkade-os/escrow-engine/signing"
)

// unilateralRequiredRoles maps each unilateral action to the reduced subset
// of roles it requires instead of the full path signer set.
var unilateralRequiredRoles = map[string][]escrow.Role{
	contract.ActionUnilateralRelease: {escrow.RoleReceiver, escrow.RoleArbiter},
	contract.ActionUnilateralRefund:  {escrow.RoleSender, escrow.RoleArbiter},
	contract.ActionUnilateralSettle:  {escrow.RoleReceiver, escrow.RoleArbiter},
}

// collaborativeEntryAction maps each unilateral action to the collaborative
// action name that drives the FSM's funded -> pending-execution hop. No
// (funded, unilateral-*) transition exists in contract/escrow_fsm.go — only
// the completing pending-execution -> completed hop is unilateral-specific —
// so a unilateral execution still enters through its collaborative
// counterpart's entry transition.
var collaborativeEntryAction = map[string]string{
	contract.ActionUnilateralRelease: contract.ActionRelease,
	contract.ActionUnilateralRefund:  contract.ActionRefund,
	contract.ActionUnilateralSettle:  contract.ActionSettle,
}

func isUnilateral(action string) bool {
	_, ok := unilateralRequiredRoles[action]
	return ok
}

// pathNameForAction maps an FSM action to the Script Builder leaf it
// spends. Unilateral actions resolve to a distinct, CSV-gated leaf from
// their collaborative counterpart — they are never the same script.
func pathNameForAction(action string) string {
	switch action {
	case contract.ActionRelease:
		return "release"
	case contract.ActionRefund:
		return "refund"
	case contract.ActionSettle:
		return "settle"
	case contract.ActionUnilateralRelease:
		return "release-unilateral"
	case contract.ActionUnilateralRefund:
		return "refund-unilateral"
	case contract.ActionUnilateralSettle:
		return "settle-unilateral"
	default:
		return action
	}
}

// DisputeAuthorizer is consulted by Initiate whenever a contract is
// currently disputed, to confirm that the caller and the requested action
// are the ones a resolved Arbitration verdict actually authorizes.
// arbitration.Service satisfies it structurally; execution does not import
// arbitration, and the container wires the two via SetDisputeAuthorizer.
type DisputeAuthorizer interface {
	Authorize(contractID uuid.UUID, action string, callerPubKey [32]byte) error
}

// Orchestrator implements the Execution Orchestrator (C6).
type Orchestrator struct {
	builder    *escrow.Builder
	provider   provider.Provider
	contracts  repository.Repository[*contract.Contract]
	executions repository.Repository[*contract.Execution]
	bus        *events.Bus
	metrics    *metrics.Recorder
	log        *logrus.Entry

	disputeAuthorizer DisputeAuthorizer

	mu               sync.Mutex
	coordinators     map[uuid.UUID]*signing.Coordinator
	activeByContract map[uuid.UUID]uuid.UUID // contract id -> non-terminal execution id
}

// SetDisputeAuthorizer wires the check Initiate applies before starting an
// execution against a disputed contract. Until set, Initiate refuses every
// action against a disputed contract.
func (o *Orchestrator) SetDisputeAuthorizer(a DisputeAuthorizer) {
	o.disputeAuthorizer = a
}

// NewOrchestrator wires an Execution Orchestrator from its dependencies.
func NewOrchestrator(
	builder *escrow.Builder,
	prov provider.Provider,
	contracts repository.Repository[*contract.Contract],
	executions repository.Repository[*contract.Execution],
	bus *events.Bus,
	rec *metrics.Recorder,
	log *logrus.Entry,
) *Orchestrator {
	return &Orchestrator{
		builder:          builder,
		provider:         prov,
		contracts:        contracts,
		executions:       executions,
		bus:              bus,
		metrics:          rec,
		log:              log,
		coordinators:     make(map[uuid.UUID]*signing.Coordinator),
		activeByContract: make(map[uuid.UUID]uuid.UUID),
	}
}

// Initiate starts a new execution of action against c, spending into
// destinationAddress. It fails with ConflictingExecutionError if c already
// has a non-terminal execution.
func (o *Orchestrator) Initiate(ctx context.Context, c *contract.Contract, action string, destinationAddress string, initiatedBy [32]byte) (*contract.Execution, error) {
	o.mu.Lock()
	if existing, ok := o.activeByContract[c.ID]; ok {
		o.mu.Unlock()
		return nil, &ConflictingExecutionError{ContractID: c.ID, ExecutionID: existing}
	}
	o.mu.Unlock()

	if c.FundedAmount < c.Amount {
		return nil, &InsufficientFundingError{Funded: c.FundedAmount, Required: c.Amount}
	}

	if c.State == contract.StateDisputed {
		if o.disputeAuthorizer == nil {
			return nil, fmt.Errorf("execution: contract %s is disputed but no dispute authorizer is configured", c.ID)
		}
		if err := o.disputeAuthorizer.Authorize(c.ID, action, initiatedBy); err != nil {
			return nil, fmt.Errorf("execution: dispute authorization: %w", err)
		}
	}

	pathName := pathNameForAction(action)
	handle, err := o.builder.SpendingPath(c.ScriptConfig, pathName)
	if err != nil {
		return nil, fmt.Errorf("execution: resolve spending path %q: %w", pathName, err)
	}

	requiredRoles := o.requiredRolesFor(c, action, pathName)
	requiredPubkeys := make(map[escrow.Role][32]byte, len(requiredRoles))
	for _, role := range requiredRoles {
		pk, ok := c.PartyPubKey(role)
		if !ok {
			return nil, fmt.Errorf("execution: path %q requires role %q with no registered pubkey", pathName, role)
		}
		requiredPubkeys[role] = pk
	}

	inputs := make([]provider.Coin, len(c.Vtxos))
	for i, v := range c.Vtxos {
		inputs[i] = provider.Coin{Txid: v.Txid, Vout: v.Vout, Value: v.Value}
	}

	const feeSats = 200 // placeholder flat fee; fee_policy is a provider-side concern per spec.md §6
	built, err := o.provider.BuildTransaction(ctx, provider.BuildTransactionRequest{
		Inputs:        inputs,
		Outputs:       []provider.TxOutput{{Address: destinationAddress, Amount: c.FundedAmount - feeSats}},
		TapTree:       flattenLeaves(c.ScriptConfig),
		TapLeafScript: handle.LeafScript,
		ControlBlock:  handle.ControlBlock,
	})
	if err != nil {
		return nil, fmt.Errorf("execution: build transaction: %w", err)
	}

	// Drive the Escrow FSM's first hop (funded -> pending-execution) now,
	// before any execution record exists: contract/escrow_fsm.go only
	// reaches completed via a second hop out of pending-execution, so
	// without this step Approve's completion call would have no valid
	// transition to perform. Unilateral actions enter through their
	// collaborative counterpart's name, since pending-execution is the only
	// state a (funded, unilateral-*) entry could target and no such
	// transition exists. A disputed contract skips this hop: its
	// release/refund transition leads straight to completed, so Approve
	// performs it as the only hop.
	if c.State != contract.StateDisputed {
		entryAction := action
		if collab, ok := collaborativeEntryAction[action]; ok {
			entryAction = collab
		}
		machine := contract.NewMachine(c)
		if err := machine.Perform(entryAction, c); err != nil {
			return nil, fmt.Errorf("execution: drive fsm action %q: %w", entryAction, err)
		}
		c.State = machine.State()
		c.Metadata.Version++
		if err := o.contracts.Save(ctx, c); err != nil {
			return nil, fmt.Errorf("execution: persist contract entering pending-execution: %w", err)
		}
		if o.bus != nil {
			o.bus.Publish(events.ContractUpdated{ContractID: c.ID, Version: c.Metadata.Version, At: time.Now()})
		}
	}

	coordinator := signing.NewCoordinator(signing.UnsignedTx{
		PSBT:            built.ArkTx,
		Checkpoints:     built.Checkpoints,
		RequiredSigners: requiredRoles,
	})
	coordinatorState, err := coordinator.Serialize()
	if err != nil {
		return nil, fmt.Errorf("execution: serialize signing coordinator: %w", err)
	}

	exec := &contract.Execution{
		ExternalID:         uuid.New(),
		ContractID:         c.ID,
		Action:             action,
		InitiatedByPubKey:  initiatedBy,
		Status:             contract.ExecStatusPendingCounterparty,
		DestinationAddress: destinationAddress,
		Transaction: contract.ExecutionTransaction{
			ApprovedBy:       make(map[[32]byte]bool),
			CoordinatorState: coordinatorState,
		},
	}
	if err := o.executions.Save(ctx, exec); err != nil {
		return nil, fmt.Errorf("execution: persist new execution: %w", err)
	}

	o.mu.Lock()
	o.coordinators[exec.ExternalID] = coordinator
	o.activeByContract[c.ID] = exec.ExternalID
	o.mu.Unlock()

	if o.bus != nil {
		o.bus.Publish(events.ExecutionCreated{
			ContractID:  c.ID,
			ExecutionID: exec.ExternalID,
			Action:      action,
			At:          time.Now(),
		})
	}
	if o.log != nil {
		o.log.WithFields(logrus.Fields{
			"contract_id":  c.ID,
			"execution_id": exec.ExternalID,
			"action":       action,
		}).Info("execution created")
	}

	return exec, nil
}

// requiredRolesFor returns the path's full role set for collaborative
// actions, or the reduced unilateral set for unilateral-* actions.
func (o *Orchestrator) requiredRolesFor(c *contract.Contract, action, pathName string) []escrow.Role {
	if roles, ok := unilateralRequiredRoles[action]; ok {
		return roles
	}
	for _, sp := range c.ScriptConfig.SpendingPaths {
		if sp.Name == pathName {
			return sp.RequiredRoles
		}
	}
	return nil
}

// Approve records one party's signature against an in-flight execution. On
// the signature that completes the required set, it submits, finalizes,
// drives the contract FSM, and marks the execution executed.
func (o *Orchestrator) Approve(ctx context.Context, c *contract.Contract, executionID uuid.UUID, sig contract.PartySignature, signedCheckpoints []*psbt.Packet) error {
	exec, err := o.executions.FindByExternalID(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.IsTerminal() {
		return &ExecutionTerminalError{ExecutionID: executionID, Status: exec.Status}
	}

	o.mu.Lock()
	coordinator, ok := o.coordinators[executionID]
	o.mu.Unlock()
	if !ok {
		// The in-memory Coordinator is gone (e.g. a process restart):
		// rehydrate it from the Execution's own persisted state rather than
		// treating a non-terminal execution as unknown forever.
		coordinator, err = signing.Deserialize(exec.Transaction.CoordinatorState)
		if err != nil {
			return fmt.Errorf("execution: rehydrate signing coordinator: %w", err)
		}
		o.mu.Lock()
		o.coordinators[executionID] = coordinator
		o.mu.Unlock()
	}

	if err := coordinator.AddSignature(sig, signedCheckpoints); err != nil {
		return err
	}
	exec.Transaction.ApprovedBy[sig.PubKey] = true
	coordinatorState, err := coordinator.Serialize()
	if err != nil {
		return fmt.Errorf("execution: serialize signing coordinator: %w", err)
	}
	exec.Transaction.CoordinatorState = coordinatorState
	if err := o.executions.Save(ctx, exec); err != nil {
		return fmt.Errorf("execution: persist approval: %w", err)
	}

	if !coordinator.Status().IsComplete {
		return nil
	}

	signed, err := coordinator.SignedTransaction()
	if err != nil {
		return err
	}

	// Drive the FSM's completing hop (pending-execution or disputed ->
	// completed) before submitting anything: a broadcast transaction must never be
	// able to succeed while the local state transition that is supposed to
	// record it fails.
	machine := contract.NewMachine(c)
	if err := machine.Perform(exec.Action, c); err != nil {
		return fmt.Errorf("execution: drive fsm action %q: %w", exec.Action, err)
	}

	submitResult, err := o.provider.SubmitTransaction(ctx, signed.PSBT)
	if err != nil {
		return fmt.Errorf("execution: submit transaction: %w", err)
	}
	if err := o.provider.FinalizeTransaction(ctx, submitResult.Txid, signed.Checkpoints); err != nil {
		return fmt.Errorf("execution: finalize transaction: %w", err)
	}

	c.State = machine.State()
	c.Metadata.Version++

	arkTxPSBT, err := psbtutil.SerializePacket(signed.PSBT)
	if err != nil {
		return fmt.Errorf("execution: serialize signed transaction: %w", err)
	}
	exec.Status = contract.ExecStatusExecuted
	exec.Transaction.ArkTxPSBT = arkTxPSBT
	for _, cp := range signed.Checkpoints {
		cpBytes, err := psbtutil.SerializePacket(cp)
		if err != nil {
			return fmt.Errorf("execution: serialize signed checkpoint: %w", err)
		}
		exec.Transaction.Checkpoints = append(exec.Transaction.Checkpoints, cpBytes)
	}
	if err := o.executions.Save(ctx, exec); err != nil {
		return fmt.Errorf("execution: persist completion: %w", err)
	}
	if err := o.contracts.Save(ctx, c); err != nil {
		return fmt.Errorf("execution: persist contract after execution: %w", err)
	}

	o.mu.Lock()
	delete(o.coordinators, executionID)
	delete(o.activeByContract, c.ID)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RecordSigningComplete()
		o.metrics.RecordTransition(exec.Action)
	}
	if o.bus != nil {
		o.bus.Publish(events.ContractExecuted{
			ContractID:  c.ID,
			ExecutionID: executionID,
			Action:      exec.Action,
			Txid:        submitResult.Txid,
			At:          time.Now(),
		})
		o.bus.Publish(events.ContractUpdated{ContractID: c.ID, Version: c.Metadata.Version, At: time.Now()})
	}
	if o.log != nil {
		o.log.WithFields(logrus.Fields{
			"contract_id":  c.ID,
			"execution_id": executionID,
			"action":       exec.Action,
			"to_state":     c.State,
		}).Info("execution completed")
	}
	return nil
}

// Reject terminates exec before completion. Only a required signer other
// than the initiator may reject.
func (o *Orchestrator) Reject(ctx context.Context, executionID uuid.UUID, callerPubKey [32]byte, reason string) error {
	return o.terminate(ctx, executionID, callerPubKey, reason, contract.ExecStatusRejected, false)
}

// Cancel terminates exec before completion. Only the initiator may cancel.
func (o *Orchestrator) Cancel(ctx context.Context, executionID uuid.UUID, callerPubKey [32]byte, reason string) error {
	return o.terminate(ctx, executionID, callerPubKey, reason, contract.ExecStatusCanceled, true)
}

func (o *Orchestrator) terminate(ctx context.Context, executionID uuid.UUID, callerPubKey [32]byte, reason, status string, requireInitiator bool) error {
	exec, err := o.executions.FindByExternalID(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.IsTerminal() {
		return &ExecutionTerminalError{ExecutionID: executionID, Status: exec.Status}
	}
	isInitiator := exec.InitiatedByPubKey == callerPubKey
	if requireInitiator && !isInitiator {
		return &UnauthorizedError{PubKey: callerPubKey}
	}
	if !requireInitiator && isInitiator {
		return &UnauthorizedError{PubKey: callerPubKey}
	}
	if !requireInitiator {
		c, err := o.contracts.FindByID(ctx, exec.ContractID)
		if err != nil {
			return err
		}
		required := false
		for _, role := range o.requiredRolesFor(c, exec.Action, pathNameForAction(exec.Action)) {
			if pk, ok := c.PartyPubKey(role); ok && pk == callerPubKey {
				required = true
			}
		}
		if !required {
			return &UnauthorizedError{PubKey: callerPubKey}
		}
	}

	exec.Status = status
	if status == contract.ExecStatusRejected {
		exec.RejectionReason = reason
	} else {
		exec.CancelationReason = reason
	}
	if err := o.executions.Save(ctx, exec); err != nil {
		return fmt.Errorf("execution: persist termination: %w", err)
	}

	// Initiate already drove the contract into pending-execution; since this
	// was its only non-terminal execution, fall back to funded directly
	// (no FSM transition returns pending-execution -> funded) so the next
	// Initiate call has somewhere valid to start from.
	if c, cErr := o.contracts.FindByID(ctx, exec.ContractID); cErr == nil && c.State == contract.StatePendingExecution {
		c.State = contract.StateFunded
		c.Metadata.Version++
		if err := o.contracts.Save(ctx, c); err != nil {
			return fmt.Errorf("execution: revert contract to funded after termination: %w", err)
		}
		if o.bus != nil {
			o.bus.Publish(events.ContractUpdated{ContractID: c.ID, Version: c.Metadata.Version, At: time.Now()})
		}
	}

	o.mu.Lock()
	delete(o.coordinators, executionID)
	delete(o.activeByContract, exec.ContractID)
	o.mu.Unlock()
	return nil
}

func flattenLeaves(cfg escrow.ScriptConfig) []byte {
	var buf bytes.Buffer
	for _, sp := range cfg.SpendingPaths {
		buf.WriteString(sp.Name)
	}
	return buf.Bytes()
}
