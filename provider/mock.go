package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// MockProvider is an in-memory Provider test double. It holds canned coin
// sets per address and fans out WatchAddress deliveries to whatever
// channels are currently subscribed, modeled on the connected/canned-data
// shape of a thin HTTP client without actually making network calls.
type MockProvider struct {
	mu   sync.RWMutex
	info Info
	// coins is the current, server-side-known coin set per address.
	coins map[string][]Coin
	subs  map[string][]chan []Coin

	nextTxSeed byte
}

// NewMockProvider returns a MockProvider reporting info and starting with
// no known coins for any address.
func NewMockProvider(info Info) *MockProvider {
	return &MockProvider{
		info:  info,
		coins: make(map[string][]Coin),
		subs:  make(map[string][]chan []Coin),
	}
}

// SetCoins replaces the known coin set for address and notifies any
// active WatchAddress subscribers. Tests use this to simulate a deposit
// landing on the escrow address.
func (p *MockProvider) SetCoins(address string, coins []Coin) {
	p.mu.Lock()
	p.coins[address] = coins
	subs := append([]chan []Coin{}, p.subs[address]...)
	p.mu.Unlock()

	for _, ch := range subs {
		ch <- coins
	}
}

func (p *MockProvider) GetInfo(ctx context.Context) (Info, error) {
	return p.info, nil
}

func (p *MockProvider) GetCoins(ctx context.Context, address string) ([]Coin, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Coin{}, p.coins[address]...), nil
}

func (p *MockProvider) GetSpendableCoins(ctx context.Context, address string) ([]Coin, error) {
	return p.GetCoins(ctx, address)
}

func (p *MockProvider) GetBalance(ctx context.Context, address string) (uint64, error) {
	coins, err := p.GetCoins(ctx, address)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, c := range coins {
		total += c.Value
	}
	return total, nil
}

// BuildTransaction assembles a plain unsigned PSBT with one input per entry
// of req.Inputs and one output per entry of req.Outputs. Each input spends a
// synthetic outpoint derived from an internal counter, not the coin's own
// txid/vout. req.TapTree, req.TapLeafScript and req.ControlBlock are
// ignored: nothing of them is attached to or returned with the PSBT.
func (p *MockProvider) BuildTransaction(ctx context.Context, req BuildTransactionRequest) (BuildTransactionResult, error) {
	if len(req.Inputs) == 0 {
		return BuildTransactionResult{}, fmt.Errorf("provider: BuildTransaction requires at least one input")
	}

	tx := wire.NewMsgTx(2)
	for range req.Inputs {
		p.mu.Lock()
		p.nextTxSeed++
		seed := p.nextTxSeed
		p.mu.Unlock()
		var h chainhash.Hash
		h[0] = seed
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&h, 0), nil, nil))
	}
	for _, out := range req.Outputs {
		tx.AddTxOut(wire.NewTxOut(int64(out.Amount), []byte{0x51}))
	}

	pkt, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return BuildTransactionResult{}, fmt.Errorf("provider: build unsigned psbt: %w", err)
	}
	return BuildTransactionResult{ArkTx: pkt}, nil
}

func (p *MockProvider) SubmitTransaction(ctx context.Context, signed *psbt.Packet) (SubmitResult, error) {
	return SubmitResult{Txid: signed.UnsignedTx.TxHash().String()}, nil
}

func (p *MockProvider) FinalizeTransaction(ctx context.Context, txid string, signedCheckpoints []*psbt.Packet) error {
	return nil
}

// WatchAddress returns a channel fed by SetCoins calls for address. The
// subscription is torn down either by calling the returned Unsubscribe or
// by canceling ctx.
func (p *MockProvider) WatchAddress(ctx context.Context, address string) (<-chan []Coin, Unsubscribe, error) {
	ch := make(chan []Coin, 8)

	p.mu.Lock()
	p.subs[address] = append(p.subs[address], ch)
	p.mu.Unlock()

	unsubscribe := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		subs := p.subs[address]
		for i, c := range subs {
			if c == ch {
				p.subs[address] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	go func() {
		<-ctx.Done()
		unsubscribe()
	}()

	return ch, unsubscribe, nil
}

func (p *MockProvider) GetServerUnrollScript(ctx context.Context) ([]byte, error) {
	return []byte{0x51}, nil
}
