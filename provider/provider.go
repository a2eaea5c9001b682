// Package provider defines the Protocol Provider boundary: everything the
// core needs from the underlying ARK/Bitcoin stack, without depending on
// any concrete SDK. Broadcasting, consensus, and key custody all live on
// the other side of this interface.
package provider

import (
	"context"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

// Coin is a spendable reference returned by the provider — the provider's
// own view of a VTXO, kept independent of contract.VtxoRef so this package
// has no dependency on contract semantics.
type Coin struct {
	Txid  string
	Vout  uint32
	Value uint64
}

// Info describes the ARK server this provider talks to.
type Info struct {
	Name                string
	Version             string
	Network             string
	ServerPubKey        [32]byte
	AddressPrefix       string
	UnilateralExitDelay *uint32 // blocks; nil if the server does not advertise one
}

// TxOutput is one destination of a transaction being built.
type TxOutput struct {
	Address string
	Amount  uint64
}

// BuildTransactionRequest asks the provider to construct an unsigned ARK
// transaction spending Inputs into Outputs along the given tapscript leaf.
type BuildTransactionRequest struct {
	Inputs        []Coin
	Outputs       []TxOutput
	TapTree       []byte
	TapLeafScript []byte
	ControlBlock  []byte
}

// BuildTransactionResult is the provider's response: an unsigned ARK
// transaction plus whatever checkpoint PSBTs must accompany it.
type BuildTransactionResult struct {
	ArkTx       *psbt.Packet
	Checkpoints []*psbt.Packet
}

// SubmitResult is returned once a fully signed transaction has been
// accepted by the server.
type SubmitResult struct {
	Txid string
}

// Unsubscribe cancels a WatchAddress subscription.
type Unsubscribe func()

// Provider is the full Protocol Provider boundary consumed by the
// Execution and Contract Orchestrators.
type Provider interface {
	GetInfo(ctx context.Context) (Info, error)
	GetCoins(ctx context.Context, address string) ([]Coin, error)
	GetSpendableCoins(ctx context.Context, address string) ([]Coin, error)
	GetBalance(ctx context.Context, address string) (uint64, error)
	BuildTransaction(ctx context.Context, req BuildTransactionRequest) (BuildTransactionResult, error)
	SubmitTransaction(ctx context.Context, signed *psbt.Packet) (SubmitResult, error)
	FinalizeTransaction(ctx context.Context, txid string, signedCheckpoints []*psbt.Packet) error
	// WatchAddress streams address's full coin set, one delivery per change,
	// until the returned
	// Unsubscribe is called or ctx is canceled, whichever comes first.
	WatchAddress(ctx context.Context, address string) (<-chan []Coin, Unsubscribe, error)
	GetServerUnrollScript(ctx context.Context) ([]byte, error)
}
