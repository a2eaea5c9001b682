// Package container wires the engine's dependencies the same way the
// teacher's container.go does: one NewContainer constructor, explicit
// dependency passing, no package-level singletons.
package container

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/arkade-os/escrow-engine/arbitration"
	"github.com/arkade-os/escrow-engine/config"
	"github.com/arkade-os/escrow-engine/contract"
	"github.com/arkade-os/escrow-engine/contracts"
	"github.com/arkade-os/escrow-engine/escrow"
	"github.com/arkade-os/escrow-engine/events"
	"github.com/arkade-os/escrow-engine/execution"
	"github.com/arkade-os/escrow-engine/metrics"
	"github.com/arkade-os/escrow-engine/provider"
	"github.com/arkade-os/escrow-engine/repository"
)

// Container holds every long-lived dependency the engine needs, assembled
// once at startup.
type Container struct {
	Config *config.Config
	Log    *logrus.Entry

	Registry *prometheus.Registry
	Metrics  *metrics.Recorder

	Provider provider.Provider
	Bus      *events.Bus

	Contracts    repository.Repository[*contract.Contract]
	Executions   repository.Repository[*contract.Execution]
	Arbitrations repository.Repository[*contract.Arbitration]

	ContractOrchestrator  *contracts.Orchestrator
	ExecutionOrchestrator *execution.Orchestrator
	ArbitrationService    *arbitration.Service
}

// NewContainer loads configuration from configPath (pass "" to rely on
// environment variables and defaults alone) and wires every orchestrator.
func NewContainer(configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("container: load config: %w", err)
	}

	log := newLogger(cfg.LogLevel)

	serverKey, err := decodePubKey(cfg.ServerPubKeyHex)
	if err != nil {
		return nil, fmt.Errorf("container: server_pubkey: %w", err)
	}
	arbiterKey, err := decodePubKey(cfg.ArbiterPubKeyHex)
	if err != nil {
		return nil, fmt.Errorf("container: arbiter_pubkey: %w", err)
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(registry)

	prov := provider.NewMockProvider(provider.Info{
		Name:                "escrow-engine-mock",
		Network:             "regtest",
		ServerPubKey:        serverKey,
		UnilateralExitDelay: &cfg.UnilateralExitDelay,
	})

	bus := events.NewBus()

	contractsRepo := repository.NewMemory(func(c *contract.Contract) uuid.UUID { return c.ID })
	executionsRepo := repository.NewMemory(func(e *contract.Execution) uuid.UUID { return e.ExternalID })
	arbitrationsRepo := repository.NewMemory(func(a *contract.Arbitration) uuid.UUID { return a.ExternalID })

	builder := escrow.NewBuilder(&chaincfg.MainNetParams)

	contractOrch := contracts.NewOrchestrator(
		builder, prov, contractsRepo, bus, recorder, log,
		serverKey, arbiterKey,
		escrow.Timelock{Kind: escrow.TimelockBlocks, Value: cfg.UnilateralExitDelay},
	)

	executionOrch := execution.NewOrchestrator(builder, prov, contractsRepo, executionsRepo, bus, recorder, log)

	arbitrationSvc := arbitration.NewService(arbitrationsRepo, contractsRepo, contractOrch, bus, recorder, log, cfg.DemoMode)

	// The Execution Orchestrator consults the Arbitration Service before
	// honoring a release/refund initiated against a disputed contract;
	// see execution.DisputeAuthorizer.
	executionOrch.SetDisputeAuthorizer(arbitrationSvc)

	return &Container{
		Config:                cfg,
		Log:                   log,
		Registry:              registry,
		Metrics:               recorder,
		Provider:              prov,
		Bus:                   bus,
		Contracts:             contractsRepo,
		Executions:            executionsRepo,
		Arbitrations:          arbitrationsRepo,
		ContractOrchestrator:  contractOrch,
		ExecutionOrchestrator: executionOrch,
		ArbitrationService:    arbitrationSvc,
	}, nil
}

func newLogger(level string) *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	return logrus.NewEntry(logger)
}

// decodePubKey parses a hex-encoded 32-byte x-only pubkey. An empty string
// decodes to the zero key without error; the zero key is not a valid curve
// point, so escrow.Builder.Build rejects a ScriptConfig whose server key
// is zero and Draft then fails.
func decodePubKey(s string) ([32]byte, error) {
	var out [32]byte
	if s == "" {
		return out, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
