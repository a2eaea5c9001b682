package arbitration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arkade-os/escrow-engine/contract"
	"github.com/arkade-os/escrow-engine/contracts"
	"github.com/arkade-os/escrow-engine/escrow"
	"github.com/arkade-os/escrow-engine/events"
	"github.com/arkade-os/escrow-engine/provider"
	"github.com/arkade-os/escrow-engine/repository"
)

func testPubKey(t *testing.T, seed byte) [32]byte {
	t.Helper()
	var scalar [32]byte
	scalar[31] = seed + 1
	_, pub := btcec.PrivKeyFromBytes(scalar[:])
	var xonly [32]byte
	copy(xonly[:], pub.SerializeCompressed()[1:])
	return xonly
}

type testSetup struct {
	service       *Service
	contractOrch  *contracts.Orchestrator
	contractsRepo repository.Repository[*contract.Contract]
	mockProv      *provider.MockProvider
	bus           *events.Bus
	sender        [32]byte
	receiver      [32]byte
	arbiter       [32]byte
}

func newTestSetup(t *testing.T, demoMode bool) *testSetup {
	t.Helper()
	builder := escrow.NewBuilder(&chaincfg.RegressionNetParams)
	mockProv := provider.NewMockProvider(provider.Info{Name: "mock-ark"})
	contractsRepo := repository.NewMemory(func(c *contract.Contract) uuid.UUID { return c.ID })
	arbitrationsRepo := repository.NewMemory(func(a *contract.Arbitration) uuid.UUID { return a.ExternalID })
	bus := events.NewBus()
	log := logrus.NewEntry(logrus.New())

	serverKey := testPubKey(t, 90)
	arbiterKey := testPubKey(t, 91)
	contractOrch := contracts.NewOrchestrator(builder, mockProv, contractsRepo, bus, nil, log, serverKey, arbiterKey,
		escrow.Timelock{Kind: escrow.TimelockBlocks, Value: 144})

	service := NewService(arbitrationsRepo, contractsRepo, contractOrch, bus, nil, log, demoMode)

	return &testSetup{
		service:       service,
		contractOrch:  contractOrch,
		contractsRepo: contractsRepo,
		mockProv:      mockProv,
		bus:           bus,
		sender:        testPubKey(t, 1),
		receiver:      testPubKey(t, 2),
		arbiter:       arbiterKey,
	}
}

// fundedContract drafts, accepts, and funds a contract, waiting for the
// asynchronous funding watcher to deliver the deposit.
func fundedContract(t *testing.T, s *testSetup) *contract.Contract {
	t.Helper()
	ctx := context.Background()
	c, err := s.contractOrch.Draft(ctx, "req-1", s.sender, s.receiver, escrow.RoleSender, 10_000, "", nil)
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if err := s.contractOrch.Accept(ctx, c, s.receiver); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	s.mockProv.SetCoins(c.EscrowAddress, []provider.Coin{{Txid: "tx1", Vout: 0, Value: 10_000}})

	deadline := time.Now().Add(2 * time.Second)
	for c.State != contract.StateFunded && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		updated, err := s.contractsRepo.FindByID(ctx, c.ID)
		if err == nil {
			c = updated
		}
	}
	if c.State != contract.StateFunded {
		t.Fatalf("expected funded, got %q", c.State)
	}
	return c
}

func TestOpenRequiresFundedOrPendingExecution(t *testing.T) {
	ctx := context.Background()
	s := newTestSetup(t, false)
	c, err := s.contractOrch.Draft(ctx, "req-1", s.sender, s.receiver, escrow.RoleSender, 10_000, "", nil)
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if _, err := s.service.Open(ctx, c, s.sender, "not happy"); !errors.Is(err, contracts.ErrWrongState) {
		t.Fatalf("expected ErrWrongState opening a dispute on a draft contract, got %v", err)
	}
}

func TestOpenRequiresParty(t *testing.T) {
	ctx := context.Background()
	s := newTestSetup(t, false)
	c := fundedContract(t, s)
	stranger := testPubKey(t, 50)
	if _, err := s.service.Open(ctx, c, stranger, "not happy"); !errors.Is(err, contracts.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for a non-party claimant, got %v", err)
	}
}

func TestOpenDrivesContractToDisputed(t *testing.T) {
	ctx := context.Background()
	s := newTestSetup(t, false)
	c := fundedContract(t, s)

	var disputed []uuid.UUID
	s.bus.Subscribe(events.KindContractDisputed, func(e events.Event) {
		disputed = append(disputed, e.(events.ContractDisputed).ArbitrationID)
	})

	arb, err := s.service.Open(ctx, c, s.sender, "goods never arrived")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if arb.Status != contract.ArbitrationPending {
		t.Fatalf("expected pending, got %q", arb.Status)
	}
	if c.State != contract.StateDisputed {
		t.Fatalf("expected disputed, got %q", c.State)
	}
	if len(disputed) != 1 || disputed[0] != arb.ExternalID {
		t.Fatalf("expected ContractDisputed to carry the arbitration id, got %v", disputed)
	}
}

func TestResolveRequiresRegisteredArbiter(t *testing.T) {
	ctx := context.Background()
	s := newTestSetup(t, false)
	c := fundedContract(t, s)
	arb, err := s.service.Open(ctx, c, s.sender, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	impostor := testPubKey(t, 77)
	if err := s.service.Resolve(ctx, arb, c, contract.VerdictRelease, impostor); !errors.Is(err, ErrWrongArbiter) {
		t.Fatalf("expected ErrWrongArbiter, got %v", err)
	}
}

func TestResolveReleaseAuthorizesOnlyReceiver(t *testing.T) {
	ctx := context.Background()
	s := newTestSetup(t, false)
	c := fundedContract(t, s)
	arb, err := s.service.Open(ctx, c, s.sender, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.service.Resolve(ctx, arb, c, contract.VerdictRelease, s.arbiter); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if arb.Status != contract.ArbitrationResolved {
		t.Fatalf("expected resolved, got %q", arb.Status)
	}

	if err := s.service.Authorize(c.ID, contract.ActionRelease, s.receiver); err != nil {
		t.Fatalf("expected release to be authorized for the receiver, got %v", err)
	}
	if err := s.service.Authorize(c.ID, contract.ActionRelease, s.sender); err == nil {
		t.Fatalf("expected release to be refused for the sender")
	}
	if err := s.service.Authorize(c.ID, contract.ActionRefund, s.receiver); err == nil {
		t.Fatalf("expected refund to be refused when the verdict is release")
	}
}

func TestResolveRefundAuthorizesOnlySender(t *testing.T) {
	ctx := context.Background()
	s := newTestSetup(t, false)
	c := fundedContract(t, s)
	arb, err := s.service.Open(ctx, c, s.receiver, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.service.Resolve(ctx, arb, c, contract.VerdictRefund, s.arbiter); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if err := s.service.Authorize(c.ID, contract.ActionRefund, s.sender); err != nil {
		t.Fatalf("expected refund to be authorized for the sender, got %v", err)
	}
	if err := s.service.Authorize(c.ID, contract.ActionRefund, s.receiver); err == nil {
		t.Fatalf("expected refund to be refused for the receiver")
	}
}

func TestResolveVoidTransitionsContractAndMarksExecuted(t *testing.T) {
	ctx := context.Background()
	s := newTestSetup(t, false)
	c := fundedContract(t, s)
	arb, err := s.service.Open(ctx, c, s.sender, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.service.Resolve(ctx, arb, c, contract.VerdictVoid, s.arbiter); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c.State != contract.StateVoided {
		t.Fatalf("expected voided, got %q", c.State)
	}
	if arb.Status != contract.ArbitrationExecuted {
		t.Fatalf("expected executed immediately for a void verdict, got %q", arb.Status)
	}
}

func TestResolveRejectsAlreadyResolved(t *testing.T) {
	ctx := context.Background()
	s := newTestSetup(t, false)
	c := fundedContract(t, s)
	arb, err := s.service.Open(ctx, c, s.sender, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.service.Resolve(ctx, arb, c, contract.VerdictRelease, s.arbiter); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := s.service.Resolve(ctx, arb, c, contract.VerdictRefund, s.arbiter); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved on a second Resolve, got %v", err)
	}
}

func TestDemoModeAutoResolvesOnOpen(t *testing.T) {
	ctx := context.Background()
	s := newTestSetup(t, true)
	c := fundedContract(t, s)
	arb, err := s.service.Open(ctx, c, s.sender, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if arb.Status == contract.ArbitrationPending {
		t.Fatalf("expected demo mode to resolve the arbitration before Open returns, got %q", arb.Status)
	}
	if arb.Verdict != contract.VerdictRelease && arb.Verdict != contract.VerdictRefund {
		t.Fatalf("expected a release or refund verdict, got %q", arb.Verdict)
	}
}

func TestOnContractExecutedMarksArbitrationExecuted(t *testing.T) {
	ctx := context.Background()
	s := newTestSetup(t, false)
	c := fundedContract(t, s)
	arb, err := s.service.Open(ctx, c, s.sender, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.service.Resolve(ctx, arb, c, contract.VerdictRelease, s.arbiter); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if arb.Status != contract.ArbitrationResolved {
		t.Fatalf("expected resolved before the execution completes, got %q", arb.Status)
	}

	s.bus.Publish(events.ContractExecuted{
		ContractID:  c.ID,
		ExecutionID: uuid.New(),
		Action:      contract.ActionRelease,
		Txid:        "deadbeef",
		At:          time.Now(),
	})

	stored, findErr := s.service.arbitrations.FindByExternalID(ctx, arb.ExternalID)
	if findErr != nil {
		t.Fatalf("FindByExternalID: %v", findErr)
	}
	if stored.Status != contract.ArbitrationExecuted {
		t.Fatalf("expected executed after ContractExecuted, got %q", stored.Status)
	}
}
