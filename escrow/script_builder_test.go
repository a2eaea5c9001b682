package escrow

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
)

// testPubKey derives a deterministic x-only pubkey from a small integer seed,
// so tests never depend on randomness.
func testPubKey(t *testing.T, seed byte) [32]byte {
	t.Helper()
	var scalar [32]byte
	scalar[31] = seed + 1 // avoid the zero scalar
	priv, pub := btcec.PrivKeyFromBytes(scalar[:])
	_ = priv
	var xonly [32]byte
	copy(xonly[:], pub.SerializeCompressed()[1:])
	return xonly
}

func baseConfig(t *testing.T) ScriptConfig {
	t.Helper()
	return ScriptConfig{
		Parties: []Party{
			{Role: RoleSender, PubKey: testPubKey(t, 1)},
			{Role: RoleReceiver, PubKey: testPubKey(t, 2)},
			{Role: RoleServer, PubKey: testPubKey(t, 3)},
		},
		SpendingPaths: []SpendingPath{
			{
				Name:          "release-collaborative",
				Kind:          PathMultisig,
				RequiredRoles: []Role{RoleSender, RoleReceiver, RoleServer},
				Threshold:     3,
			},
			{
				Name:          "release-unilateral",
				Kind:          PathCSVMultisig,
				RequiredRoles: []Role{RoleReceiver},
				Threshold:     1,
				Timelock:      &Timelock{Kind: TimelockBlocks, Value: 144},
			},
		},
		ProtocolServerKey: testPubKey(t, 3),
	}
}

func TestBuildDeterministic(t *testing.T) {
	cfg := baseConfig(t)
	b := NewBuilder(&chaincfg.RegressionNetParams)

	first, err := b.Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	second, err := b.Build(cfg)
	if err != nil {
		t.Fatalf("Build (second): %v", err)
	}
	if first.Address != second.Address {
		t.Fatalf("Build is not deterministic: %q != %q", first.Address, second.Address)
	}
	for name, script := range first.LeafScripts {
		if !bytes.Equal(script, second.LeafScripts[name]) {
			t.Fatalf("leaf %q script differs between identical builds", name)
		}
	}
}

func TestBuildNonceChangesAddress(t *testing.T) {
	cfg := baseConfig(t)
	b := NewBuilder(&chaincfg.RegressionNetParams)

	withoutNonce, err := b.Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	cfg.Nonce = []byte("contract-1")
	withNonceA, err := b.Build(cfg)
	if err != nil {
		t.Fatalf("Build with nonce: %v", err)
	}
	if withNonceA.Address == withoutNonce.Address {
		t.Fatalf("nonce leaf did not change the address")
	}

	cfg.Nonce = []byte("contract-2")
	withNonceB, err := b.Build(cfg)
	if err != nil {
		t.Fatalf("Build with second nonce: %v", err)
	}
	if withNonceA.Address == withNonceB.Address {
		t.Fatalf("two different nonces produced the same address")
	}
}

func TestBuildSameRolesDifferentOrderSameScript(t *testing.T) {
	cfg := baseConfig(t)
	reordered := baseConfig(t)
	reordered.SpendingPaths[0].RequiredRoles = []Role{RoleServer, RoleReceiver, RoleSender}

	b := NewBuilder(&chaincfg.RegressionNetParams)
	got, err := b.Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want, err := b.Build(reordered)
	if err != nil {
		t.Fatalf("Build (reordered): %v", err)
	}
	if !bytes.Equal(got.LeafScripts["release-collaborative"], want.LeafScripts["release-collaborative"]) {
		t.Fatalf("signer ordering in RequiredRoles changed the leaf script")
	}
}

func TestSpendingPathControlBlock(t *testing.T) {
	cfg := baseConfig(t)
	b := NewBuilder(&chaincfg.RegressionNetParams)

	handle, err := b.SpendingPath(cfg, "release-unilateral")
	if err != nil {
		t.Fatalf("SpendingPath: %v", err)
	}
	if len(handle.ControlBlock) == 0 {
		t.Fatalf("expected a non-empty control block")
	}
	if handle.Timelock == nil || handle.Timelock.Value != 144 {
		t.Fatalf("expected the path's timelock to be carried on the handle, got %+v", handle.Timelock)
	}

	if _, err := b.SpendingPath(cfg, "does-not-exist"); err == nil {
		t.Fatalf("expected an error for an unknown spending path")
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(cfg *ScriptConfig)
	}{
		{
			name: "unknown role referenced",
			mutate: func(cfg *ScriptConfig) {
				cfg.SpendingPaths[0].RequiredRoles = append(cfg.SpendingPaths[0].RequiredRoles, RoleArbiter)
				cfg.SpendingPaths[0].Threshold = 4
			},
		},
		{
			name: "threshold exceeds role count",
			mutate: func(cfg *ScriptConfig) {
				cfg.SpendingPaths[0].Threshold = 10
			},
		},
		{
			name: "csv-multisig without timelock",
			mutate: func(cfg *ScriptConfig) {
				cfg.SpendingPaths[1].Timelock = nil
			},
		},
		{
			name: "no spending paths",
			mutate: func(cfg *ScriptConfig) {
				cfg.SpendingPaths = nil
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig(t)
			tc.mutate(&cfg)
			if err := Validate(cfg); err == nil {
				t.Fatalf("expected a validation error")
			} else {
				var cfgErr *ScriptConfigError
				if !errors.As(err, &cfgErr) {
					t.Fatalf("expected *ScriptConfigError, got %T", err)
				}
			}
		})
	}
}

func TestHashPreimageLeafCommitsHash(t *testing.T) {
	cfg := baseConfig(t)
	preimage := sha256.Sum256([]byte("secret"))
	cfg.SpendingPaths = append(cfg.SpendingPaths, SpendingPath{
		Name:           "settle-hash",
		Kind:           PathHashPreimage,
		RequiredRoles:  []Role{RoleReceiver},
		Threshold:      1,
		HashCommitment: preimage[:],
	})

	b := NewBuilder(&chaincfg.RegressionNetParams)
	built, err := b.Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	script := built.LeafScripts["settle-hash"]
	if !bytes.Contains(script, preimage[:]) {
		t.Fatalf("expected the hash commitment to appear in the leaf script")
	}
}
