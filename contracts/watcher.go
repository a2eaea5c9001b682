package contracts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/arkade-os/escrow-engine/contract"
	"github.com/arkade-os/escrow-engine/provider"
)

const (
	fundingDeliveryMaxAttempts = 5
	fundingDeliveryBaseBackoff = 1 * time.Second
	fundingDeliveryMaxBackoff  = 30 * time.Second
)

// StartFundingWatcher subscribes to the protocol provider's coin-set feed
// for c.EscrowAddress and converts every delivery into an ObserveFunding
// call. It is a no-op if c already has an active watcher. The watcher tears
// itself down when its context is canceled or when one of this
// Orchestrator's own commands drives c to a terminal state; a completion
// driven by the execution package does not stop it.
func (o *Orchestrator) StartFundingWatcher(ctx context.Context, c *contract.Contract) error {
	o.watchersMu.Lock()
	if _, exists := o.watchers[c.ID]; exists {
		o.watchersMu.Unlock()
		return nil
	}
	watchCtx, cancel := context.WithCancel(ctx)
	o.watchers[c.ID] = cancel
	o.watchersMu.Unlock()

	coins, unsubscribe, err := o.provider.WatchAddress(watchCtx, c.EscrowAddress)
	if err != nil {
		cancel()
		o.watchersMu.Lock()
		delete(o.watchers, c.ID)
		o.watchersMu.Unlock()
		return err
	}

	g, gctx := errgroup.WithContext(watchCtx)
	contractID := c.ID
	g.Go(func() error {
		defer unsubscribe()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case coinSet, ok := <-coins:
				if !ok {
					return nil
				}
				o.deliverFunding(contractID, coinSet)
			}
		}
	})

	go func() {
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && o.log != nil {
			o.log.WithError(err).WithField("contract_id", contractID).Warn("funding watcher stopped")
		}
		o.watchersMu.Lock()
		delete(o.watchers, contractID)
		o.watchersMu.Unlock()
	}()

	return nil
}

// stopFundingWatcher cancels the watcher for id, if any. Safe to call
// whether or not a watcher is running.
func (o *Orchestrator) stopFundingWatcher(id uuid.UUID) {
	o.watchersMu.Lock()
	cancel, ok := o.watchers[id]
	o.watchersMu.Unlock()
	if ok {
		cancel()
	}
}

// deliverFunding loads the current contract record and applies one
// coin-set delivery, retrying ObserveFunding failures with exponential
// backoff — the same shape as the teacher's initIngestionService retry
// loop (a fixed attempt count, fundingDeliveryMaxAttempts), with the
// linear delay replaced by a doubling one capped at
// fundingDeliveryMaxBackoff.
func (o *Orchestrator) deliverFunding(contractID uuid.UUID, coins []provider.Coin) {
	vtxos := make([]contract.VtxoRef, len(coins))
	for i, co := range coins {
		vtxos[i] = contract.VtxoRef{Txid: co.Txid, Vout: co.Vout, Value: co.Value}
	}

	ctx := context.Background()
	backoff := fundingDeliveryBaseBackoff
	for attempt := 1; attempt <= fundingDeliveryMaxAttempts; attempt++ {
		c, err := o.contracts.FindByID(ctx, contractID)
		if err != nil {
			o.logDeliveryError(contractID, attempt, err)
			o.recordDelivery("error")
			return
		}
		if err := o.ObserveFunding(ctx, c, vtxos); err != nil {
			o.logDeliveryError(contractID, attempt, err)
			o.recordDelivery("error")
			time.Sleep(backoff)
			backoff *= 2
			if backoff > fundingDeliveryMaxBackoff {
				backoff = fundingDeliveryMaxBackoff
			}
			continue
		}
		o.recordDelivery("observed")
		return
	}
	if o.log != nil {
		o.log.WithField("contract_id", contractID).Warn("funding watcher delivery failed after retries")
	}
}

func (o *Orchestrator) logDeliveryError(contractID uuid.UUID, attempt int, err error) {
	if o.log == nil {
		return
	}
	o.log.WithFields(logrus.Fields{
		"contract_id": contractID,
		"attempt":     attempt,
	}).WithError(err).Warn("funding watcher delivery failed")
}

func (o *Orchestrator) recordDelivery(outcome string) {
	if o.metrics != nil {
		o.metrics.RecordWatcherDelivery(outcome)
	}
}
