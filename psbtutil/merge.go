// Package psbtutil merges Taproot script-path signatures across PSBTs and
// their ARK checkpoint PSBTs, and answers signature-count questions about a
// PSBT's inputs. It performs no signature validation: uniqueness and
// correctness are the signing coordinator's responsibility.
package psbtutil

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

// SerializePacket returns pkt's raw wire bytes, or nil if pkt is nil — used
// to fold a *psbt.Packet into a JSON-compatible persisted form.
func SerializePacket(pkt *psbt.Packet) ([]byte, error) {
	if pkt == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := pkt.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializePacket parses raw bytes previously returned by
// SerializePacket. An empty input returns a nil packet.
func DeserializePacket(data []byte) (*psbt.Packet, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return psbt.NewFromRawBytes(bytes.NewReader(data), false)
}

// MergePSBT folds new's per-input tap_script_sig entries into a copy of
// acc. Inputs are matched by position: input i of new is merged into input
// i of acc. Every entry already on acc's input is kept; new's entries are
// appended after them. Fails with ErrInputCountMismatch if the two packets
// don't have the same number of inputs, and ErrMissingSignature if an
// input on new carries no tap_script_sig to contribute (acc's inputs may
// legitimately start empty — a contract with no signatures yet).
func MergePSBT(newPkt, acc *psbt.Packet) (*psbt.Packet, error) {
	if len(newPkt.Inputs) != len(acc.Inputs) {
		return nil, &InputCountMismatchError{Got: len(newPkt.Inputs), Want: len(acc.Inputs)}
	}

	merged := clonePacket(acc)
	for i := range merged.Inputs {
		if len(newPkt.Inputs[i].TaprootScriptSpendSig) == 0 {
			return nil, &MissingSignatureError{InputIndex: i}
		}
		merged.Inputs[i].TaprootScriptSpendSig = append(
			append([]*psbt.TaprootScriptSpendSig{}, merged.Inputs[i].TaprootScriptSpendSig...),
			newPkt.Inputs[i].TaprootScriptSpendSig...,
		)
	}
	return merged, nil
}

// MergeCheckpoints merges each checkpoint in signed into the matching
// checkpoint in original, matched by the checkpoint transaction's txid
// (computed from the unsigned transaction, not by slice position — ARK
// servers are free to return checkpoints in any order). Fails with
// ErrCheckpointLenMismatch if the slices differ in length, and
// ErrCheckpointNotFound if a signed checkpoint has no txid match in
// original.
func MergeCheckpoints(signed, original []*psbt.Packet) ([]*psbt.Packet, error) {
	if len(signed) != len(original) {
		return nil, &CheckpointLengthMismatchError{Got: len(signed), Want: len(original)}
	}

	byTxid := make(map[string]*psbt.Packet, len(original))
	for _, pkt := range original {
		byTxid[pkt.UnsignedTx.TxHash().String()] = pkt
	}

	merged := make([]*psbt.Packet, 0, len(signed))
	for _, s := range signed {
		txid := s.UnsignedTx.TxHash().String()
		base, ok := byTxid[txid]
		if !ok {
			return nil, &CheckpointNotFoundError{Txid: txid}
		}
		m, err := MergePSBT(s, base)
		if err != nil {
			return nil, err
		}
		merged = append(merged, m)
	}
	return merged, nil
}

// CountSignatures returns the number of tap_script_sig entries on the
// input at inputIndex.
func CountSignatures(pkt *psbt.Packet, inputIndex int) (uint32, error) {
	if inputIndex < 0 || inputIndex >= len(pkt.Inputs) {
		return 0, &InputCountMismatchError{Got: inputIndex, Want: len(pkt.Inputs)}
	}
	return uint32(len(pkt.Inputs[inputIndex].TaprootScriptSpendSig)), nil
}

// HasRequiredSignatures reports whether input inputIndex carries at least
// n tap_script_sig entries.
func HasRequiredSignatures(pkt *psbt.Packet, n uint32, inputIndex int) (bool, error) {
	count, err := CountSignatures(pkt, inputIndex)
	if err != nil {
		return false, err
	}
	return count >= n, nil
}

// clonePacket makes a shallow-per-input copy of pkt deep enough that
// appending to a cloned input's TaprootScriptSpendSig slice never aliases
// the original packet's backing array.
func clonePacket(pkt *psbt.Packet) *psbt.Packet {
	clone := *pkt
	clone.Inputs = make([]psbt.PInput, len(pkt.Inputs))
	for i, in := range pkt.Inputs {
		inCopy := in
		inCopy.TaprootScriptSpendSig = append([]*psbt.TaprootScriptSpendSig{}, in.TaprootScriptSpendSig...)
		clone.Inputs[i] = inCopy
	}
	return &clone
}
