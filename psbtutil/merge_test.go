package psbtutil

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

func singleInputPacket(t *testing.T, seed byte) *psbt.Packet {
	t.Helper()
	var prevHash chainhash.Hash
	prevHash[0] = seed

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(9_000, []byte{0x51}))

	pkt, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		t.Fatalf("NewFromUnsignedTx: %v", err)
	}
	return pkt
}

func withSig(pkt *psbt.Packet, inputIndex int, leafHash, pubkey, sig []byte) *psbt.Packet {
	pkt.Inputs[inputIndex].TaprootScriptSpendSig = append(pkt.Inputs[inputIndex].TaprootScriptSpendSig, &psbt.TaprootScriptSpendSig{
		XOnlyPubKey: pubkey,
		LeafHash:    leafHash,
		Signature:   sig,
	})
	return pkt
}

func TestMergePSBTAppendsSignatures(t *testing.T) {
	acc := singleInputPacket(t, 1)
	senderSig := singleInputPacket(t, 1)
	withSig(senderSig, 0, []byte("leaf"), []byte("sender-pub"), []byte("sender-sig"))

	merged, err := MergePSBT(senderSig, acc)
	if err != nil {
		t.Fatalf("MergePSBT: %v", err)
	}
	if len(merged.Inputs[0].TaprootScriptSpendSig) != 1 {
		t.Fatalf("expected 1 signature after merge, got %d", len(merged.Inputs[0].TaprootScriptSpendSig))
	}

	receiverSig := singleInputPacket(t, 1)
	withSig(receiverSig, 0, []byte("leaf"), []byte("receiver-pub"), []byte("receiver-sig"))

	merged2, err := MergePSBT(receiverSig, merged)
	if err != nil {
		t.Fatalf("MergePSBT (second): %v", err)
	}
	if len(merged2.Inputs[0].TaprootScriptSpendSig) != 2 {
		t.Fatalf("expected 2 signatures after second merge, got %d", len(merged2.Inputs[0].TaprootScriptSpendSig))
	}

	// acc itself must not have been mutated by the merge.
	if len(acc.Inputs[0].TaprootScriptSpendSig) != 0 {
		t.Fatalf("MergePSBT must not mutate its accumulator argument in place")
	}
}

func TestMergePSBTCommutes(t *testing.T) {
	base := singleInputPacket(t, 1)
	a := singleInputPacket(t, 1)
	withSig(a, 0, []byte("leaf"), []byte("a-pub"), []byte("a-sig"))
	b := singleInputPacket(t, 1)
	withSig(b, 0, []byte("leaf"), []byte("b-pub"), []byte("b-sig"))

	abFirst, err := MergePSBT(a, base)
	if err != nil {
		t.Fatalf("merge a into base: %v", err)
	}
	abFirst, err = MergePSBT(b, abFirst)
	if err != nil {
		t.Fatalf("merge b into (a,base): %v", err)
	}

	baFirst, err := MergePSBT(b, base)
	if err != nil {
		t.Fatalf("merge b into base: %v", err)
	}
	baFirst, err = MergePSBT(a, baFirst)
	if err != nil {
		t.Fatalf("merge a into (b,base): %v", err)
	}

	gotSet := sigSet(abFirst.Inputs[0].TaprootScriptSpendSig)
	wantSet := sigSet(baFirst.Inputs[0].TaprootScriptSpendSig)
	if len(gotSet) != len(wantSet) {
		t.Fatalf("merge order changed the resulting signature set size: %d vs %d", len(gotSet), len(wantSet))
	}
	for k := range wantSet {
		if !gotSet[k] {
			t.Fatalf("signature set differs across merge orders: missing %q", k)
		}
	}
}

func sigSet(sigs []*psbt.TaprootScriptSpendSig) map[string]bool {
	set := make(map[string]bool, len(sigs))
	for _, s := range sigs {
		set[string(s.XOnlyPubKey)+":"+string(s.Signature)] = true
	}
	return set
}

func TestMergePSBTMissingSignature(t *testing.T) {
	acc := singleInputPacket(t, 1)
	empty := singleInputPacket(t, 1)

	_, err := MergePSBT(empty, acc)
	if !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
}

func TestMergePSBTInputCountMismatch(t *testing.T) {
	acc := singleInputPacket(t, 1)

	tx := wire.NewMsgTx(2)
	var h chainhash.Hash
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&h, 0), nil, nil))
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&h, 1), nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	twoInput, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		t.Fatalf("NewFromUnsignedTx: %v", err)
	}

	_, err = MergePSBT(twoInput, acc)
	if !errors.Is(err, ErrInputCountMismatch) {
		t.Fatalf("expected ErrInputCountMismatch, got %v", err)
	}
}

func TestCountAndHasRequiredSignatures(t *testing.T) {
	pkt := singleInputPacket(t, 1)
	withSig(pkt, 0, []byte("leaf"), []byte("a"), []byte("siga"))
	withSig(pkt, 0, []byte("leaf"), []byte("b"), []byte("sigb"))

	count, err := CountSignatures(pkt, 0)
	if err != nil {
		t.Fatalf("CountSignatures: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 signatures, got %d", count)
	}

	ok, err := HasRequiredSignatures(pkt, 2, 0)
	if err != nil || !ok {
		t.Fatalf("expected HasRequiredSignatures(2) to be true, got %v, err=%v", ok, err)
	}
	ok, err = HasRequiredSignatures(pkt, 3, 0)
	if err != nil || ok {
		t.Fatalf("expected HasRequiredSignatures(3) to be false, got %v, err=%v", ok, err)
	}
}

func TestMergeCheckpointsMatchesByTxid(t *testing.T) {
	original1 := singleInputPacket(t, 1)
	original2 := singleInputPacket(t, 2)

	signed2 := singleInputPacket(t, 2)
	withSig(signed2, 0, []byte("leaf"), []byte("pub"), []byte("sig"))
	signed1 := singleInputPacket(t, 1)
	withSig(signed1, 0, []byte("leaf"), []byte("pub"), []byte("sig"))

	// Intentionally out of slice-position order relative to original.
	merged, err := MergeCheckpoints([]*psbt.Packet{signed2, signed1}, []*psbt.Packet{original1, original2})
	if err != nil {
		t.Fatalf("MergeCheckpoints: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged checkpoints, got %d", len(merged))
	}
	for _, pkt := range merged {
		if len(pkt.Inputs[0].TaprootScriptSpendSig) != 1 {
			t.Fatalf("expected every merged checkpoint to carry 1 signature")
		}
	}
}

func TestMergeCheckpointsNotFound(t *testing.T) {
	original := []*psbt.Packet{singleInputPacket(t, 1)}
	signed := singleInputPacket(t, 2)
	withSig(signed, 0, []byte("leaf"), []byte("pub"), []byte("sig"))

	_, err := MergeCheckpoints([]*psbt.Packet{signed}, original)
	if !errors.Is(err, ErrCheckpointNotFound) {
		t.Fatalf("expected ErrCheckpointNotFound, got %v", err)
	}
}

func TestMergeCheckpointsLengthMismatch(t *testing.T) {
	original := []*psbt.Packet{singleInputPacket(t, 1)}
	_, err := MergeCheckpoints(nil, original)
	if !errors.Is(err, ErrCheckpointLenMismatch) {
		t.Fatalf("expected ErrCheckpointLenMismatch, got %v", err)
	}
}
