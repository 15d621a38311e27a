// Package grandpa implements the GRANDPA finality gadget: the per-round
// vote graph and equivocation tracker (C7), the voting-round state machine
// (C8), and the round-sequencing coordinator (C9).
package grandpa

import (
	"context"
	"errors"
	"sync"

	"github.com/qdrvm/kagome-sub000/blocktree"
	"github.com/qdrvm/kagome-sub000/types"
)

// Tracker/graph errors.
var (
	ErrDuplicated             = errors.New("grandpa: vote is a duplicate of one already seen")
	ErrEquivocated            = errors.New("grandpa: voter signed two different targets")
	ErrVoteOfKnownEquivocator = errors.New("grandpa: vote from an already-known equivocator")
)

// PushResult is the outcome of pushing a vote into the Tracker.
type PushResult uint8

const (
	PushSuccess PushResult = iota
	PushDuplicated
	PushEquivocated
)

// Equivocation records a pair of conflicting signed votes from one voter.
type Equivocation struct {
	Voter types.VoterID
	Kind  types.VoteKind
	First types.SignedVote
	Second types.SignedVote
}

// Tracker holds the three per-round vote bags described in §4.6:
// primary-proposals, prevotes, and precommits, plus equivocation evidence.
type Tracker struct {
	mu sync.RWMutex

	byKind map[types.VoteKind]map[types.VoterID]types.SignedVote
	equivocators map[types.VoterID]struct{}
	evidence     []Equivocation
}

// NewTracker creates an empty per-round vote tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byKind: map[types.VoteKind]map[types.VoterID]types.SignedVote{
			types.VotePrimaryPropose: {},
			types.VotePrevote:        {},
			types.VotePrecommit:      {},
		},
		equivocators: make(map[types.VoterID]struct{}),
	}
}

// Push records a vote. Returns PushSuccess, PushDuplicated (identical vote
// already seen), or PushEquivocated (this voter already voted a different
// target in this round/kind — the voter is marked and both votes are kept
// as evidence). A third vote from a known equivocator is rejected outright.
func (t *Tracker) Push(v types.SignedVote) (PushResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, known := t.equivocators[v.Voter]; known {
		return PushEquivocated, ErrVoteOfKnownEquivocator
	}

	bag := t.byKind[v.Kind]
	existing, ok := bag[v.Voter]
	if !ok {
		bag[v.Voter] = v
		return PushSuccess, nil
	}
	if existing.Target.Equal(v.Target) {
		return PushDuplicated, nil
	}

	t.equivocators[v.Voter] = struct{}{}
	t.evidence = append(t.evidence, Equivocation{Voter: v.Voter, Kind: v.Kind, First: existing, Second: v})
	return PushEquivocated, ErrEquivocated
}

// IsEquivocator reports whether a voter has been marked.
func (t *Tracker) IsEquivocator(id types.VoterID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.equivocators[id]
	return ok
}

// Votes returns a copy of every counted vote of the given kind.
func (t *Tracker) Votes(kind types.VoteKind) []types.SignedVote {
	t.mu.RLock()
	defer t.mu.RUnlock()
	bag := t.byKind[kind]
	out := make([]types.SignedVote, 0, len(bag))
	for _, v := range bag {
		out = append(out, v)
	}
	return out
}

// Evidence returns a copy of the recorded equivocations.
func (t *Tracker) Evidence() []Equivocation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Equivocation, len(t.evidence))
	copy(out, t.evidence)
	return out
}

// Predicate tests whether a node's cumulative VoteWeight satisfies a GHOST
// query (e.g. "weight >= threshold").
type Predicate func(*types.VoteWeight) bool

// Graph accumulates per-block VoteWeight over the block tree's ancestry and
// answers GHOST/ancestor queries (§4.6).
type Graph struct {
	mu    sync.RWMutex
	tree  blocktree.Reader
	nodes map[types.Hash]*types.VoteWeight
	order map[types.Hash]int // insertion order, for GHOST tie-breaks
	seq   int
}

// NewGraph creates an empty vote graph over the given block tree view.
func NewGraph(tree blocktree.Reader) *Graph {
	return &Graph{
		tree:  tree,
		nodes: make(map[types.Hash]*types.VoteWeight),
		order: make(map[types.Hash]int),
	}
}

func (g *Graph) nodeLocked(hash types.Hash) *types.VoteWeight {
	n, ok := g.nodes[hash]
	if !ok {
		n = newVoteWeight()
		g.nodes[hash] = n
		g.order[hash] = g.seq
		g.seq++
	}
	return n
}

func newVoteWeight() *types.VoteWeight {
	return &types.VoteWeight{
		PrevoteVoters:   make(map[types.VoterID]struct{}),
		PrecommitVoters: make(map[types.VoterID]struct{}),
	}
}

// Insert adds voter's weight to block and to every ancestor reachable
// through the block tree's ancestry, for the given vote kind (prevote or
// precommit).
func (g *Graph) Insert(ctx context.Context, block types.BlockInfo, voter types.VoterID, weight uint64, kind types.VoteKind, ancestry []types.BlockInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()

	chain := append([]types.BlockInfo{block}, ancestry...)
	for _, b := range chain {
		n := g.nodeLocked(b.Hash)
		switch kind {
		case types.VotePrevote:
			if _, dup := n.PrevoteVoters[voter]; !dup {
				n.PrevoteVoters[voter] = struct{}{}
				n.PrevoteWeight += weight
			}
		case types.VotePrecommit:
			if _, dup := n.PrecommitVoters[voter]; !dup {
				n.PrecommitVoters[voter] = struct{}{}
				n.PrecommitWeight += weight
			}
		}
	}
}

// WeightAt returns a copy of the accumulated VoteWeight at a block, or a
// zero value if no vote has touched it.
func (g *Graph) WeightAt(hash types.Hash) types.VoteWeight {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[hash]
	if !ok {
		return *newVoteWeight()
	}
	return *n
}

// FindGhost returns the highest block that is a descendant of base and
// whose cumulative weight satisfies predicate, breaking ties by earliest
// insertion. Candidates and their ancestry are supplied by the caller
// (typically every block between base and the tree's leaves) since the
// graph itself holds only per-hash accumulators, not structural ancestry.
func (g *Graph) FindGhost(base types.BlockInfo, candidates []types.BlockInfo, predicate Predicate) (types.BlockInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var best types.BlockInfo
	var bestOrder int
	found := false
	for _, c := range candidates {
		if c.Number < base.Number {
			continue
		}
		n, ok := g.nodes[c.Hash]
		if !ok {
			continue
		}
		if !predicate(n) {
			continue
		}
		ord := g.order[c.Hash]
		if !found || c.Number > best.Number || (c.Number == best.Number && ord < bestOrder) {
			best = c
			bestOrder = ord
			found = true
		}
	}
	return best, found
}

// FindAncestor walks upward from block through the supplied ancestry chain
// (block first, root-most last) for the first entry satisfying predicate.
func (g *Graph) FindAncestor(block types.BlockInfo, ancestryToRoot []types.BlockInfo, predicate Predicate) (types.BlockInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	chain := append([]types.BlockInfo{block}, ancestryToRoot...)
	for _, b := range chain {
		n, ok := g.nodes[b.Hash]
		if !ok {
			continue
		}
		if predicate(n) {
			return b, true
		}
	}
	return types.BlockInfo{}, false
}
