package escrow

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// Builder constructs Taproot scripts and addresses for escrow ScriptConfigs.
// It is pure and cacheable by ScriptConfig: the same config always produces
// the same BuiltScript, so callers may memoize on a hash of cfg.
type Builder struct {
	net *chaincfg.Params
}

// NewBuilder returns a Builder that derives addresses for net. net defaults
// to chaincfg.MainNetParams when nil.
func NewBuilder(net *chaincfg.Params) *Builder {
	if net == nil {
		net = &chaincfg.MainNetParams
	}
	return &Builder{net: net}
}

// Validate checks the structural invariants on cfg without building any
// scripts: every path's roles exist in cfg.Parties, thresholds are
// satisfiable, and csv-multisig paths carry a timelock.
func Validate(cfg ScriptConfig) error {
	if len(cfg.Parties) == 0 {
		return configErrorf("at least one party is required")
	}
	seenRoles := make(map[Role]bool, len(cfg.Parties))
	for _, p := range cfg.Parties {
		if seenRoles[p.Role] {
			return configErrorf("duplicate party role %q", p.Role)
		}
		seenRoles[p.Role] = true
	}
	if len(cfg.SpendingPaths) == 0 {
		return configErrorf("at least one spending path is required")
	}
	seenPaths := make(map[string]bool, len(cfg.SpendingPaths))
	serverReferenced := false
	for _, sp := range cfg.SpendingPaths {
		if sp.Name == "" {
			return configErrorf("spending path name is required")
		}
		if seenPaths[sp.Name] {
			return configErrorf("duplicate spending path name %q", sp.Name)
		}
		seenPaths[sp.Name] = true

		if len(sp.RequiredRoles) == 0 {
			return configErrorf("path %q: at least one required role", sp.Name)
		}
		for _, role := range sp.RequiredRoles {
			if !seenRoles[role] {
				return configErrorf("path %q references unknown role %q", sp.Name, role)
			}
			if role == RoleServer {
				serverReferenced = true
			}
		}
		if int(sp.Threshold) > len(sp.RequiredRoles) {
			return configErrorf("path %q: threshold %d exceeds role count %d", sp.Name, sp.Threshold, len(sp.RequiredRoles))
		}
		if sp.Threshold == 0 {
			return configErrorf("path %q: threshold must be at least 1", sp.Name)
		}
		if sp.Kind == PathCSVMultisig && sp.Timelock == nil {
			return configErrorf("path %q: csv-multisig requires a timelock", sp.Name)
		}
		if sp.Kind == PathHashPreimage && len(sp.HashCommitment) != 32 {
			return configErrorf("path %q: hash-preimage requires a 32-byte commitment", sp.Name)
		}
	}
	if seenRoles[RoleServer] && !serverReferenced {
		return configErrorf("server party present but not referenced by any path")
	}
	if !seenRoles[RoleServer] && serverReferenced {
		return configErrorf("path references server role but no server party configured")
	}
	return nil
}

// Build deterministically constructs every leaf script named in cfg and
// derives the resulting Taproot address. Two ScriptConfigs differing only
// in Nonce always produce different addresses (a synthetic ghost leaf is
// folded in whenever Nonce is set).
func (b *Builder) Build(cfg ScriptConfig) (*BuiltScript, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	leafScripts := make(map[string][]byte, len(cfg.SpendingPaths)+1)
	names := make([]string, 0, len(cfg.SpendingPaths)+1)
	for _, sp := range cfg.SpendingPaths {
		script, err := buildLeafScript(cfg, sp)
		if err != nil {
			return nil, err
		}
		leafScripts[sp.Name] = script
		names = append(names, sp.Name)
	}
	if len(cfg.Nonce) > 0 {
		leafScripts[ghostLeafName] = buildGhostScript(cfg.Nonce)
		names = append(names, ghostLeafName)
	}

	// Deterministic leaf ordering: lexicographic by name. AssembleTaprootScriptTree
	// is itself order-sensitive for the resulting tap hash, so a fixed order is
	// required for Build to be a pure function of cfg.
	sort.Strings(names)
	leaves := make([]txscript.TapLeaf, len(names))
	for i, name := range names {
		leaves[i] = txscript.NewBaseTapLeaf(leafScripts[name])
	}

	tree := txscript.AssembleTaprootScriptTree(leaves...)
	internalKey, err := schnorr.ParsePubKey(cfg.ProtocolServerKey[:])
	if err != nil {
		return nil, fmt.Errorf("parse protocol server key: %w", err)
	}
	rootHash := tree.RootNode.TapHash()
	outputKey := txscript.ComputeTaprootOutputKey(internalKey, rootHash[:])

	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), b.net)
	if err != nil {
		return nil, fmt.Errorf("derive taproot address: %w", err)
	}

	return &BuiltScript{
		LeafScripts: leafScripts,
		Address:     addr.EncodeAddress(),
	}, nil
}

// SpendingPath returns the leaf handle (script + control block + timelock)
// needed to spend the named path. It recomputes the same tree Build would,
// so results are consistent across calls with the same cfg.
func (b *Builder) SpendingPath(cfg ScriptConfig, name string) (*LeafHandle, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	var target *SpendingPath
	leafScripts := make(map[string][]byte, len(cfg.SpendingPaths)+1)
	names := make([]string, 0, len(cfg.SpendingPaths)+1)
	for i := range cfg.SpendingPaths {
		sp := cfg.SpendingPaths[i]
		script, err := buildLeafScript(cfg, sp)
		if err != nil {
			return nil, err
		}
		leafScripts[sp.Name] = script
		names = append(names, sp.Name)
		if sp.Name == name {
			target = &cfg.SpendingPaths[i]
		}
	}
	if len(cfg.Nonce) > 0 {
		leafScripts[ghostLeafName] = buildGhostScript(cfg.Nonce)
		names = append(names, ghostLeafName)
	}
	if target == nil {
		return nil, configErrorf("unknown spending path %q", name)
	}

	sort.Strings(names)
	leaves := make([]txscript.TapLeaf, len(names))
	targetIdx := -1
	for i, n := range names {
		leaves[i] = txscript.NewBaseTapLeaf(leafScripts[n])
		if n == name {
			targetIdx = i
		}
	}

	tree := txscript.AssembleTaprootScriptTree(leaves...)
	internalKey, err := schnorr.ParsePubKey(cfg.ProtocolServerKey[:])
	if err != nil {
		return nil, fmt.Errorf("parse protocol server key: %w", err)
	}

	proof := tree.LeafMerkleProofs[targetIdx]
	controlBlock, err := proof.ToControlBlock(internalKey).ToBytes()
	if err != nil {
		return nil, fmt.Errorf("derive control block: %w", err)
	}

	return &LeafHandle{
		LeafScript:   leafScripts[name],
		ControlBlock: controlBlock,
		Timelock:     target.Timelock,
	}, nil
}

// buildLeafScript realizes a single SpendingPath as a tapscript leaf.
// Signer ordering inside the leaf is canonicalized by each role's index in
// cfg.Parties, so signatures independently produced by the sender and
// receiver (say) always combine into the same script-path witness.
func buildLeafScript(cfg ScriptConfig, sp SpendingPath) ([]byte, error) {
	signers := make([]orderedSigner, 0, len(sp.RequiredRoles))
	for _, role := range sp.RequiredRoles {
		idx, ok := cfg.partyIndex(role)
		if !ok {
			return nil, configErrorf("path %q references unknown role %q", sp.Name, role)
		}
		party, _ := cfg.party(role)
		signers = append(signers, orderedSigner{idx: idx, pubkey: party.PubKey})
	}
	sort.Slice(signers, func(i, j int) bool { return signers[i].idx < signers[j].idx })

	builder := txscript.NewScriptBuilder()

	if sp.Kind == PathCSVMultisig {
		seq, err := csvSequence(*sp.Timelock)
		if err != nil {
			return nil, err
		}
		builder.AddInt64(seq)
		builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
		builder.AddOp(txscript.OP_DROP)
	}

	if sp.Kind == PathHashPreimage {
		builder.AddOp(txscript.OP_SHA256)
		builder.AddData(sp.HashCommitment)
		builder.AddOp(txscript.OP_EQUALVERIFY)
	}

	appendThresholdCheck(builder, signers, int(sp.Threshold))

	return builder.Script()
}

// orderedSigner pairs a signer's pubkey with its canonical position
// (cfg.Parties index), so leaves built from the same config always place
// keys in the same order regardless of RequiredRoles' listed order.
type orderedSigner struct {
	idx    int
	pubkey [32]byte
}

// appendThresholdCheck emits the BIP-342 OP_CHECKSIGADD chain realizing a
// threshold-of-N Schnorr check: the first key uses OP_CHECKSIG, the rest
// OP_CHECKSIGADD, and the accumulated count is compared against threshold.
// This supersedes legacy OP_CHECKMULTISIG, which tapscript does not permit.
func appendThresholdCheck(builder *txscript.ScriptBuilder, signers []orderedSigner, threshold int) {
	for i, s := range signers {
		builder.AddData(s.pubkey[:])
		if i == 0 {
			builder.AddOp(txscript.OP_CHECKSIG)
		} else {
			builder.AddOp(txscript.OP_CHECKSIGADD)
		}
	}
	if len(signers) == 1 {
		return
	}
	builder.AddInt64(int64(threshold))
	builder.AddOp(txscript.OP_GREATERTHANOREQUAL)
}

// buildGhostScript produces the synthetic, provably-unspendable leaf that
// folds Nonce into the Taproot tap hash: OP_RETURN unconditionally fails
// tapscript execution, so the leaf can never be satisfied, but its
// presence still perturbs the tree's root hash (and therefore the output
// key and address) whenever Nonce differs.
func buildGhostScript(nonce []byte) []byte {
	hash := sha256.Sum256(nonce)
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_RETURN)
	builder.AddData(hash[:])
	script, _ := builder.Script()
	return script
}

// csvSequence encodes tl as a BIP-68 relative-lock sequence number for use
// as the immediate operand of OP_CHECKSEQUENCEVERIFY.
func csvSequence(tl Timelock) (int64, error) {
	const (
		seqTypeFlag    = 1 << 22 // bit 22: 1 = time-based (512-second units), 0 = block-based
		seqMaskValue   = 0x0000ffff
		maxRelLockBlk  = 0xffff
		secondsPerUnit = 512
	)
	switch tl.Kind {
	case TimelockBlocks:
		if tl.Value > maxRelLockBlk {
			return 0, configErrorf("block timelock %d exceeds maximum relative lock %d", tl.Value, maxRelLockBlk)
		}
		return int64(tl.Value) & seqMaskValue, nil
	case TimelockSeconds:
		units := tl.Value / secondsPerUnit
		if tl.Value%secondsPerUnit != 0 {
			units++ // round up so the lock never expires earlier than requested
		}
		if units > maxRelLockBlk {
			return 0, configErrorf("seconds timelock %d exceeds maximum relative lock", tl.Value)
		}
		return int64(units&seqMaskValue) | seqTypeFlag, nil
	default:
		return 0, configErrorf("unknown timelock kind %q", tl.Kind)
	}
}
