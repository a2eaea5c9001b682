// Package escrow builds deterministic Taproot scripts for the escrow
// spending paths and derives the funding address they commit to.
package escrow

import (
	"encoding/hex"
	"fmt"
)

// Role identifies a party's function in a contract. The closed set of
// legal roles is defined per contract type; escrow uses the four below.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
	RoleArbiter  Role = "arbiter"
	RoleServer   Role = "server"
)

// Party is a single signer referenced by a SpendingPath.
type Party struct {
	Role        Role
	PubKey      [32]byte // x-only, BIP-340
	DisplayName string
}

func (p Party) String() string {
	name := p.DisplayName
	if name == "" {
		name = string(p.Role)
	}
	return fmt.Sprintf("%s(%s)", name, hex.EncodeToString(p.PubKey[:4]))
}

// TimelockKind selects the unit a Timelock value is expressed in.
type TimelockKind string

const (
	TimelockBlocks  TimelockKind = "blocks"
	TimelockSeconds TimelockKind = "seconds"
)

// Timelock is a relative (CSV-style) lock used on unilateral paths.
type Timelock struct {
	Kind  TimelockKind
	Value uint32
}

// PathKind selects the spending condition a SpendingPath encodes.
type PathKind string

const (
	PathMultisig     PathKind = "multisig"
	PathCSVMultisig  PathKind = "csv-multisig"
	PathHashPreimage PathKind = "hash-preimage"
)

// SpendingPath describes one Taproot leaf: who must sign, how many of them,
// and under what (optional) relative timelock.
type SpendingPath struct {
	Name          string
	Description   string
	Kind          PathKind
	RequiredRoles []Role
	Threshold     uint8
	Timelock      *Timelock // required when Kind == PathCSVMultisig
	// HashCommitment is the 32-byte SHA-256 hash that a PathHashPreimage
	// spender's preimage must hash to. Unused for the other two kinds.
	HashCommitment []byte
}

// ScriptConfig is the full input to the Script Builder: the cast of
// parties, every spending path, an optional uniqueness nonce, and the
// Taproot internal (server) key.
type ScriptConfig struct {
	Parties           []Party
	SpendingPaths     []SpendingPath
	Nonce             []byte // optional; makes the address unique across otherwise-identical configs
	ProtocolServerKey [32]byte
}

// ghostLeafName is the synthetic, provably-unspendable leaf added when a
// Nonce is present, so the Taproot output key differs across contracts
// that otherwise share the same parties and paths.
const ghostLeafName = "__ghost__"

// partyIndex returns the position of role within cfg.Parties, used to
// canonicalize signer ordering inside a leaf so independently produced
// signatures combine byte-identically.
func (c ScriptConfig) partyIndex(role Role) (int, bool) {
	for i, p := range c.Parties {
		if p.Role == role {
			return i, true
		}
	}
	return 0, false
}

func (c ScriptConfig) party(role Role) (Party, bool) {
	for _, p := range c.Parties {
		if p.Role == role {
			return p, true
		}
	}
	return Party{}, false
}

// BuiltScript is the deterministic output of Build: every named leaf
// script plus the resulting bech32m Taproot address.
type BuiltScript struct {
	LeafScripts map[string][]byte
	Address     string
}

// LeafHandle is what Execution needs to spend a specific path: the leaf
// script, its Taproot control block, and the timelock (if any) that gates
// it.
type LeafHandle struct {
	LeafScript   []byte
	ControlBlock []byte
	Timelock     *Timelock
}
