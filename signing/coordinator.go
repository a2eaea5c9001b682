// Package signing accumulates per-party Schnorr signatures over a PSBT (and
// its ARK checkpoints) until every required signer has contributed exactly
// one, at which point it yields a broadcast-ready signed transaction.
package signing

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/arkade-os/escrow-engine/contract"
	"github.com/arkade-os/escrow-engine/escrow"
	"github.com/arkade-os/escrow-engine/psbtutil"
)

// UnsignedTx is the execution's unsigned spend: the base PSBT, its
// checkpoints (if the path requires them), and the closed set of roles
// that must each contribute a signature.
type UnsignedTx struct {
	PSBT            *psbt.Packet
	Checkpoints     []*psbt.Packet
	RequiredSigners []escrow.Role
}

// Status summarizes collection progress.
type Status struct {
	PendingSigners   []escrow.Role
	CompletedSigners []escrow.Role
	IsComplete       bool
}

// SignedTransaction is the Coordinator's output once every required signer
// has contributed: a fully merged, submit-ready PSBT and checkpoint set.
type SignedTransaction struct {
	PSBT        *psbt.Packet
	Checkpoints []*psbt.Packet
}

// Coordinator tracks one execution's signature collection. It is not safe
// for concurrent use; callers serialize access the same way they serialize
// the owning Execution.
type Coordinator struct {
	unsigned           UnsignedTx
	signatures         []contract.PartySignature
	checkpointSigs     map[escrow.Role][]*psbt.Packet
	currentPSBT        *psbt.Packet
	currentCheckpoints []*psbt.Packet
}

// NewCoordinator starts a fresh Coordinator over unsigned. currentPSBT and
// currentCheckpoints begin as unsigned's own copies, carrying no
// signatures yet.
func NewCoordinator(unsigned UnsignedTx) *Coordinator {
	return &Coordinator{
		unsigned:           unsigned,
		checkpointSigs:     make(map[escrow.Role][]*psbt.Packet),
		currentPSBT:        clonePSBT(unsigned.PSBT),
		currentCheckpoints: cloneCheckpoints(unsigned.Checkpoints),
	}
}

func (c *Coordinator) isRequiredSigner(role escrow.Role) bool {
	for _, r := range c.unsigned.RequiredSigners {
		if r == role {
			return true
		}
	}
	return false
}

func (c *Coordinator) hasSigned(role escrow.Role) bool {
	for _, sig := range c.signatures {
		if sig.Role == role {
			return true
		}
	}
	return false
}

// AddSignature records sig's contribution and folds it into the current
// accumulator PSBT (and, if provided, the checkpoint set). It fails with
// ErrInvalidSigner if sig.Role is not in the required set, and
// ErrDuplicateSignature if that role already contributed.
func (c *Coordinator) AddSignature(sig contract.PartySignature, signedCheckpoints []*psbt.Packet) error {
	if !c.isRequiredSigner(sig.Role) {
		return &InvalidSignerError{Role: sig.Role}
	}
	if c.hasSigned(sig.Role) {
		return &DuplicateSignatureError{Role: sig.Role}
	}

	signedPkt, err := psbt.NewFromRawBytes(bytes.NewReader(sig.SignedPSBT), false)
	if err != nil {
		return err
	}
	merged, err := psbtutil.MergePSBT(signedPkt, c.currentPSBT)
	if err != nil {
		return err
	}

	var mergedCheckpoints []*psbt.Packet
	if len(c.unsigned.Checkpoints) > 0 && len(signedCheckpoints) > 0 {
		mergedCheckpoints, err = psbtutil.MergeCheckpoints(signedCheckpoints, c.currentCheckpoints)
		if err != nil {
			return err
		}
	}

	c.signatures = append(c.signatures, sig)
	c.currentPSBT = merged
	if mergedCheckpoints != nil {
		c.currentCheckpoints = mergedCheckpoints
		c.checkpointSigs[sig.Role] = signedCheckpoints
	}
	return nil
}

// RemoveSignature drops role's contribution and rebuilds currentPSBT and
// currentCheckpoints from scratch by replaying the remaining signatures
// over unsigned, rather than trying to subtract role's entries out of the
// accumulator in place.
func (c *Coordinator) RemoveSignature(role escrow.Role) error {
	idx := -1
	for i, sig := range c.signatures {
		if sig.Role == role {
			idx = i
			break
		}
	}
	if idx == -1 {
		return &SignatureNotFoundError{Role: role}
	}

	remaining := append(append([]contract.PartySignature{}, c.signatures[:idx]...), c.signatures[idx+1:]...)
	remainingCheckpointSigs := make(map[escrow.Role][]*psbt.Packet, len(c.checkpointSigs))
	for r, cps := range c.checkpointSigs {
		if r != role {
			remainingCheckpointSigs[r] = cps
		}
	}

	c.signatures = nil
	c.checkpointSigs = make(map[escrow.Role][]*psbt.Packet)
	c.currentPSBT = clonePSBT(c.unsigned.PSBT)
	c.currentCheckpoints = cloneCheckpoints(c.unsigned.Checkpoints)

	for _, sig := range remaining {
		if err := c.AddSignature(sig, remainingCheckpointSigs[sig.Role]); err != nil {
			return err
		}
	}
	return nil
}

// Status reports which required signers are still pending and which have
// completed.
func (c *Coordinator) Status() Status {
	var pending, completed []escrow.Role
	for _, role := range c.unsigned.RequiredSigners {
		if c.hasSigned(role) {
			completed = append(completed, role)
		} else {
			pending = append(pending, role)
		}
	}
	return Status{PendingSigners: pending, CompletedSigners: completed, IsComplete: len(pending) == 0}
}

// SignedTransaction returns the fully merged PSBT and checkpoints once
// every required signer has contributed. It fails with
// ErrIncompleteSignatures otherwise.
func (c *Coordinator) SignedTransaction() (*SignedTransaction, error) {
	if !c.Status().IsComplete {
		return nil, ErrIncompleteSignatures
	}
	return &SignedTransaction{PSBT: c.currentPSBT, Checkpoints: c.currentCheckpoints}, nil
}

// persistedSignature is PartySignature's JSON-compatible form (its fields
// already are one, but it is named separately so persistedCoordinator's
// shape is self-documenting).
type persistedSignature struct {
	Role       escrow.Role `json:"role"`
	PubKey     [32]byte    `json:"pub_key"`
	SignedPSBT []byte      `json:"signed_psbt"`
}

// persistedCoordinator is the JSON-compatible form of a Coordinator: the
// unsigned transaction it started from plus every signature collected so
// far, in arrival order. Deserialize rebuilds currentPSBT/currentCheckpoints
// by replaying AddSignature over these, the same way RemoveSignature
// rebuilds them in place — rather than persisting the merged accumulator
// directly, which would duplicate data already implied by the signatures.
type persistedCoordinator struct {
	UnsignedPSBT        []byte                   `json:"unsigned_psbt"`
	UnsignedCheckpoints [][]byte                 `json:"unsigned_checkpoints"`
	RequiredSigners     []escrow.Role            `json:"required_signers"`
	Signatures          []persistedSignature     `json:"signatures"`
	CheckpointSigs      map[escrow.Role][][]byte `json:"checkpoint_sigs"`
}

// Serialize returns c's JSON-compatible form, suitable for persisting
// alongside its owning Execution across a process restart.
func (c *Coordinator) Serialize() ([]byte, error) {
	unsignedPSBT, err := psbtutil.SerializePacket(c.unsigned.PSBT)
	if err != nil {
		return nil, fmt.Errorf("signing: serialize unsigned psbt: %w", err)
	}
	unsignedCheckpoints, err := serializePackets(c.unsigned.Checkpoints)
	if err != nil {
		return nil, fmt.Errorf("signing: serialize unsigned checkpoints: %w", err)
	}

	sigs := make([]persistedSignature, len(c.signatures))
	for i, sig := range c.signatures {
		sigs[i] = persistedSignature{Role: sig.Role, PubKey: sig.PubKey, SignedPSBT: sig.SignedPSBT}
	}

	checkpointSigs := make(map[escrow.Role][][]byte, len(c.checkpointSigs))
	for role, cps := range c.checkpointSigs {
		raw, err := serializePackets(cps)
		if err != nil {
			return nil, fmt.Errorf("signing: serialize checkpoint signatures for %q: %w", role, err)
		}
		checkpointSigs[role] = raw
	}

	return json.Marshal(persistedCoordinator{
		UnsignedPSBT:        unsignedPSBT,
		UnsignedCheckpoints: unsignedCheckpoints,
		RequiredSigners:     c.unsigned.RequiredSigners,
		Signatures:          sigs,
		CheckpointSigs:      checkpointSigs,
	})
}

// Deserialize rebuilds a Coordinator from data previously returned by
// Serialize: it reconstructs the unsigned transaction, then replays every
// collected signature through AddSignature in its original order, which
// regenerates currentPSBT/currentCheckpoints exactly as the original
// Coordinator held them.
func Deserialize(data []byte) (*Coordinator, error) {
	var p persistedCoordinator
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("signing: deserialize: %w", err)
	}

	unsignedPSBT, err := psbtutil.DeserializePacket(p.UnsignedPSBT)
	if err != nil {
		return nil, fmt.Errorf("signing: deserialize unsigned psbt: %w", err)
	}
	unsignedCheckpoints, err := deserializePackets(p.UnsignedCheckpoints)
	if err != nil {
		return nil, fmt.Errorf("signing: deserialize unsigned checkpoints: %w", err)
	}

	c := NewCoordinator(UnsignedTx{
		PSBT:            unsignedPSBT,
		Checkpoints:     unsignedCheckpoints,
		RequiredSigners: p.RequiredSigners,
	})

	for _, sig := range p.Signatures {
		var checkpointSigs []*psbt.Packet
		if raw, ok := p.CheckpointSigs[sig.Role]; ok {
			checkpointSigs, err = deserializePackets(raw)
			if err != nil {
				return nil, fmt.Errorf("signing: deserialize checkpoint signatures for %q: %w", sig.Role, err)
			}
		}
		partySig := contract.PartySignature{Role: sig.Role, PubKey: sig.PubKey, SignedPSBT: sig.SignedPSBT}
		if err := c.AddSignature(partySig, checkpointSigs); err != nil {
			return nil, fmt.Errorf("signing: replay signature for %q: %w", sig.Role, err)
		}
	}
	return c, nil
}

func serializePackets(pkts []*psbt.Packet) ([][]byte, error) {
	if pkts == nil {
		return nil, nil
	}
	out := make([][]byte, len(pkts))
	for i, pkt := range pkts {
		raw, err := psbtutil.SerializePacket(pkt)
		if err != nil {
			return nil, err
		}
		out[i] = raw
	}
	return out, nil
}

func deserializePackets(raw [][]byte) ([]*psbt.Packet, error) {
	if raw == nil {
		return nil, nil
	}
	out := make([]*psbt.Packet, len(raw))
	for i, data := range raw {
		pkt, err := psbtutil.DeserializePacket(data)
		if err != nil {
			return nil, err
		}
		out[i] = pkt
	}
	return out, nil
}

func clonePSBT(pkt *psbt.Packet) *psbt.Packet {
	if pkt == nil {
		return nil
	}
	clone := *pkt
	clone.Inputs = append([]psbt.PInput{}, pkt.Inputs...)
	return &clone
}

func cloneCheckpoints(pkts []*psbt.Packet) []*psbt.Packet {
	if pkts == nil {
		return nil
	}
	out := make([]*psbt.Packet, len(pkts))
	for i, p := range pkts {
		out[i] = clonePSBT(p)
	}
	return out
}
