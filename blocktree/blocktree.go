// Package blocktree defines the read/write contract the consensus core
// requires of the forkable block DAG (C1). The block tree's own
// implementation — storage, pruning, trie roots — is out of scope; this
// package exists only so the rest of the core can depend on an interface
// instead of a concrete store.
package blocktree

import (
	"context"

	"github.com/qdrvm/kagome-sub000/types"
)

// Reader is the read-only ancestry and best-chain view the core consumes.
type Reader interface {
	// Header returns the header for a known hash.
	Header(ctx context.Context, hash types.Hash) (types.BlockHeader, error)
	// HashAt returns the canonical hash at a given height on the best
	// chain, if any.
	HashAt(ctx context.Context, number uint32) (types.Hash, bool, error)
	// BestBlock returns the current best leaf.
	BestBlock(ctx context.Context) (types.BlockInfo, error)
	// LastFinalized returns the most recently finalized block.
	LastFinalized(ctx context.Context) (types.BlockInfo, error)
	// Leaves returns every current leaf hash.
	Leaves(ctx context.Context) ([]types.Hash, error)
	// HasDirectChain reports whether anc is an ancestor of (or equal to) desc.
	HasDirectChain(ctx context.Context, anc, desc types.BlockInfo) (bool, error)
}

// Writer is the mutation surface the core drives.
type Writer interface {
	// AddBlock links a sealed block into the tree.
	AddBlock(ctx context.Context, header types.BlockHeader, hash types.Hash) error
	// Finalize marks a block (and its ancestors) irreversible, pruning
	// competing branches.
	Finalize(ctx context.Context, block types.BlockInfo, justification *types.GrandpaJustification) error
	// RemoveLeaf best-effort-removes a leaf that failed post-add validation.
	RemoveLeaf(ctx context.Context, hash types.Hash) error
}

// Tree is the full contract consumed by the consensus core.
type Tree interface {
	Reader
	Writer
}

// Runtime is the narrow runtime-query surface (C6/C3 consult it for
// genesis authorities and epoch configuration); the runtime's WASM
// execution internals are out of scope.
type Runtime interface {
	GrandpaAuthorities(ctx context.Context, at types.Hash) (types.AuthorityList, error)
	GrandpaCurrentSetID(ctx context.Context, at types.Hash) (uint64, error)
	EpochConfig(ctx context.Context, at types.Hash, epoch uint64) (*types.EpochDescriptor, error)
	OffchainWorker(ctx context.Context, parentHash types.Hash, header types.BlockHeader)
}

// Proposer is the narrow block-assembly surface (C5 consumes it); proposer
// internals (transaction pool selection, inherent assembly) are out of scope.
type Proposer interface {
	Propose(ctx context.Context, parent types.BlockInfo, deadline int64, inherents Inherents, preDigest types.DigestItem) (UnsealedBlock, error)
}

// Inherents are the slot/timestamp/parachain data a proposer bakes into a
// block body; their contents are out of scope beyond this narrow struct.
type Inherents struct {
	Timestamp             uint64
	Slot                  uint64
	ParachainInherentData []byte
}

// UnsealedBlock is a proposed block awaiting a seal digest.
type UnsealedBlock struct {
	Header types.BlockHeader
	Body   []byte
}
