// Package arbitration implements the Arbitration Subsystem (C8): opening a
// dispute against a funded or pending-execution Contract, resolving it with
// a verdict, and authorizing the one execution that verdict unlocks.
package arbitration

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arkade-os/escrow-engine/contract"
	"github.com/arkade-os/escrow-engine/contracts"
	"github.com/arkade-os/escrow-engine/escrow"
	"github.com/arkade-os/escrow-engine/events"
	"github.com/arkade-os/escrow-engine/metrics"
	"github.com/arkade-os/escrow-engine/repository"
)

// Service owns the Arbitration lifecycle (pending -> resolved -> executed)
// and the authorization check the Execution Orchestrator consults before
// starting a release/refund execution against a disputed contract.
type Service struct {
	arbitrations repository.Repository[*contract.Arbitration]
	contracts    repository.Repository[*contract.Contract]
	contractOrch *contracts.Orchestrator
	bus          *events.Bus
	metrics      *metrics.Recorder
	log          *logrus.Entry

	demoMode bool
	demoRand *rand.Rand

	mu               sync.Mutex
	latestByContract map[uuid.UUID]uuid.UUID // contract id -> most recent arbitration id
}

// NewService wires an Arbitration Service. demoMode, when true, causes every
// newly opened arbitration to be resolved immediately with a verdict chosen
// at random between release and refund (spec.md §4.8's demo-mode behavior).
func NewService(
	arbitrations repository.Repository[*contract.Arbitration],
	contractsRepo repository.Repository[*contract.Contract],
	contractOrch *contracts.Orchestrator,
	bus *events.Bus,
	rec *metrics.Recorder,
	log *logrus.Entry,
	demoMode bool,
) *Service {
	s := &Service{
		arbitrations:     arbitrations,
		contracts:        contractsRepo,
		contractOrch:     contractOrch,
		bus:              bus,
		metrics:          rec,
		log:              log,
		demoMode:         demoMode,
		demoRand:         rand.New(rand.NewSource(time.Now().UnixNano())),
		latestByContract: make(map[uuid.UUID]uuid.UUID),
	}
	if bus != nil {
		bus.Subscribe(events.KindContractExecuted, s.onContractExecuted)
	}
	return s
}

func (s *Service) publish(e events.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

// Open creates a pending Arbitration against c and drives its FSM dispute
// transition. Only a registered party may open one, and only from funded
// or pending-execution.
func (s *Service) Open(ctx context.Context, c *contract.Contract, claimantPubKey [32]byte, reason string) (*contract.Arbitration, error) {
	if c.State != contract.StateFunded && c.State != contract.StatePendingExecution {
		return nil, &contracts.WrongStateError{State: c.State, Command: "dispute"}
	}
	if !c.IsParty(claimantPubKey) {
		return nil, &contracts.UnauthorizedError{PubKey: claimantPubKey}
	}

	arb := &contract.Arbitration{
		ExternalID:     uuid.New(),
		ContractID:     c.ID,
		Status:         contract.ArbitrationPending,
		ClaimantPubKey: claimantPubKey,
		Reason:         reason,
		CreatedAt:      time.Now(),
	}
	if err := s.arbitrations.Save(ctx, arb); err != nil {
		return nil, err
	}

	if err := s.contractOrch.Dispute(ctx, c, arb.ExternalID, claimantPubKey, reason); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.latestByContract[c.ID] = arb.ExternalID
	s.mu.Unlock()

	if s.demoMode {
		verdict := contract.VerdictRelease
		if s.demoRand.Intn(2) == 1 {
			verdict = contract.VerdictRefund
		}
		arbiterKey, ok := c.PartyPubKey(escrow.RoleArbiter)
		if ok {
			if err := s.Resolve(ctx, arb, c, verdict, arbiterKey); err != nil && s.log != nil {
				s.log.WithError(err).Warn("demo-mode auto-resolution failed")
			}
		}
	}

	return arb, nil
}

// Resolve sets arb's verdict and moves it to resolved. A void verdict
// drives the contract straight to voided; release/refund verdicts only
// authorize the corresponding party's execution, recorded for Authorize to
// consult when that party calls Initiate.
func (s *Service) Resolve(ctx context.Context, arb *contract.Arbitration, c *contract.Contract, verdict string, arbiterPubKey [32]byte) error {
	if arb.Status != contract.ArbitrationPending {
		return &AlreadyResolvedError{ArbitrationID: arb.ExternalID, Status: arb.Status}
	}
	arbiterKey, ok := c.PartyPubKey(escrow.RoleArbiter)
	if !ok || arbiterPubKey != arbiterKey {
		return &WrongArbiterError{PubKey: arbiterPubKey}
	}
	switch verdict {
	case contract.VerdictRelease, contract.VerdictRefund, contract.VerdictVoid:
	default:
		return ErrInvalidVerdict
	}

	arb.Verdict = verdict
	arb.Status = contract.ArbitrationResolved
	now := time.Now()
	arb.ResolvedAt = &now
	if err := s.arbitrations.Save(ctx, arb); err != nil {
		return err
	}
	s.publish(events.ArbitrationResolved{ArbitrationID: arb.ExternalID, ContractID: arb.ContractID, Verdict: verdict, At: now})

	if verdict == contract.VerdictVoid {
		if err := s.contractOrch.Void(ctx, c, arbiterPubKey); err != nil {
			return err
		}
		arb.Status = contract.ArbitrationExecuted
		if err := s.arbitrations.Save(ctx, arb); err != nil {
			return err
		}
	}
	return nil
}

// Authorize implements execution.DisputeAuthorizer: it reports whether
// action, called by callerPubKey, is the one the contract's most recent
// resolved Arbitration verdict authorizes.
func (s *Service) Authorize(contractID uuid.UUID, action string, callerPubKey [32]byte) error {
	s.mu.Lock()
	arbID, ok := s.latestByContract[contractID]
	s.mu.Unlock()
	if !ok {
		return ErrNoArbitration
	}

	ctx := context.Background()
	arb, err := s.arbitrations.FindByExternalID(ctx, arbID)
	if err != nil {
		return err
	}
	if arb.Status != contract.ArbitrationResolved {
		return ErrNotResolved
	}

	c, err := s.contracts.FindByID(ctx, contractID)
	if err != nil {
		return err
	}

	switch arb.Verdict {
	case contract.VerdictRelease:
		receiverKey, ok := c.PartyPubKey(escrow.RoleReceiver)
		if action != contract.ActionRelease || !ok || callerPubKey != receiverKey {
			return &VerdictMismatchError{ContractID: contractID, Action: action}
		}
	case contract.VerdictRefund:
		senderKey, ok := c.PartyPubKey(escrow.RoleSender)
		if action != contract.ActionRefund || !ok || callerPubKey != senderKey {
			return &VerdictMismatchError{ContractID: contractID, Action: action}
		}
	default:
		return &VerdictMismatchError{ContractID: contractID, Action: action}
	}
	return nil
}

// onContractExecuted marks the contract's tracked arbitration executed once
// the verdict-authorized execution completes.
func (s *Service) onContractExecuted(e events.Event) {
	evt, ok := e.(events.ContractExecuted)
	if !ok {
		return
	}
	s.mu.Lock()
	arbID, ok := s.latestByContract[evt.ContractID]
	s.mu.Unlock()
	if !ok {
		return
	}

	ctx := context.Background()
	arb, err := s.arbitrations.FindByExternalID(ctx, arbID)
	if err != nil || arb.Status != contract.ArbitrationResolved {
		return
	}
	arb.Status = contract.ArbitrationExecuted
	if err := s.arbitrations.Save(ctx, arb); err != nil && s.log != nil {
		s.log.WithError(err).Warn("failed to mark arbitration executed")
	}
}
