// Package authority implements the authority-set schedule graph (C3): a
// forkable tree of pending authority-set changes that answers "which
// validator set authorizes block B?" for both the slot lottery and
// GRANDPA.
package authority

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/qdrvm/kagome-sub000/blocktree"
	"github.com/qdrvm/kagome-sub000/log"
	"github.com/qdrvm/kagome-sub000/types"
)

// Schedule-graph errors.
var (
	ErrOrphanOrFinalized = errors.New("authority: block is not a descendant of the schedule-graph root")
	ErrNoRoot            = errors.New("authority: schedule graph has no root")
	ErrNotLeaf           = errors.New("authority: cancel target is not a pending leaf")
)

// ActionKind tags the pending action on a ScheduleNode.
type ActionKind uint8

const (
	ActionNone ActionKind = iota
	ActionScheduledChange
	ActionForcedChange
	ActionPause
	ActionResume
)

// Action is the pending change carried by a ScheduleNode, if any.
type Action struct {
	Kind ActionKind

	// ScheduledChange / ForcedChange
	ActivateAt uint32
	New        *types.AuthoritySet

	// ForcedChange only
	DelayStart uint32
	Delay      uint32
}

// ScheduleNode is one node of the authority schedule graph. Parent links
// are held only by the owning Graph (as a lookup key); children hold
// strong references via Descendants, matching §3's ownership model (no
// back-pointers are stored on the node itself to avoid cycles).
type ScheduleNode struct {
	Block              types.BlockInfo
	ParentBlock        types.BlockInfo
	Descendants        []*ScheduleNode
	CurrentAuthorities *types.AuthoritySet
	Enabled            bool
	Action             Action
}

// Graph owns the authority-set schedule graph. All mutation happens under
// a single mutex, matching the teacher's RWMutex-guarded-registry idiom.
type Graph struct {
	mu   sync.RWMutex
	root *ScheduleNode
	tree blocktree.Reader
	log  *log.Logger

	// index maps every tracked block hash to its owning node for O(1)
	// lookup; nodes are removed from the index on pruning.
	index map[types.Hash]*ScheduleNode
}

// NewGraph creates a schedule graph rooted at genesis with the given
// authority set.
func NewGraph(tree blocktree.Reader, genesis types.BlockInfo, genesisSet *types.AuthoritySet) *Graph {
	root := &ScheduleNode{
		Block:              genesis,
		CurrentAuthorities: genesisSet,
		Enabled:            true,
	}
	return &Graph{
		root:  root,
		tree:  tree,
		log:   log.Default().Module("authority"),
		index: map[types.Hash]*ScheduleNode{genesis.Hash: root},
	}
}

// Root returns a copy of the current root node's block identity.
func (g *Graph) Root() types.BlockInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.root.Block
}

// nearestAncestorLocked returns the node nearest to (at or above) target in
// the schedule graph, by scanning every indexed node and keeping the
// highest one the block tree reports as an ancestor of (or equal to)
// target. Callers must hold g.mu.
func (g *Graph) nearestAncestorLocked(target types.BlockInfo) (*ScheduleNode, error) {
	var best *ScheduleNode
	for _, node := range g.index {
		if node.Block.Number > target.Number {
			continue
		}
		if node.Block.Equal(target) {
			return node, nil
		}
		ok, err := g.tree.HasDirectChain(context.Background(), node.Block, target)
		if err != nil || !ok {
			continue
		}
		if best == nil || best.Block.Number < node.Block.Number {
			best = node
		}
	}
	if best == nil {
		return nil, ErrOrphanOrFinalized
	}
	return best, nil
}

// Authorities answers the core query: which authority set authorizes
// target? If the nearest ancestor node's action has already activated by
// target's height, the activated set is returned (materializing a
// synthetic descendant per §4.2). A node in a Pause window returns a
// zero-weighted clone.
func (g *Graph) Authorities(target types.BlockInfo, finalized bool) (*types.AuthoritySet, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, err := g.nearestAncestorLocked(target)
	if err != nil {
		return nil, err
	}

	set := node.CurrentAuthorities
	enabled := node.Enabled

	switch node.Action.Kind {
	case ActionScheduledChange:
		if target.Number >= node.Action.ActivateAt {
			set = node.Action.New
		}
	case ActionForcedChange:
		activation := node.Action.DelayStart + node.Action.Delay
		if target.Number >= activation {
			set = node.Action.New
		}
	case ActionPause:
		if target.Number >= node.Action.ActivateAt {
			enabled = false
		}
	case ActionResume:
		if target.Number >= node.Action.ActivateAt {
			enabled = true
		}
	}

	if !enabled {
		return &types.AuthoritySet{ID: set.ID, Authorities: set.Authorities.ZeroWeighted()}, nil
	}
	return set.Clone(), nil
}

// insertChildLocked records a newly-observed descendant node, keyed by its
// block, and appends it to its parent's Descendants list.
func (g *Graph) insertChildLocked(parent *ScheduleNode, child *ScheduleNode) {
	parent.Descendants = append(parent.Descendants, child)
	g.index[child.Block.Hash] = child
}

// ApplyScheduledChange records a ScheduledChange action observed on block
// `at`. First-wins: if the governing ancestor already has a pending action
// whose activation precedes or equals activateAt, the new change is ignored.
func (g *Graph) ApplyScheduledChange(at types.BlockInfo, newSet *types.AuthoritySet, activateAt uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	anc, err := g.nearestAncestorLocked(at)
	if err != nil {
		return err
	}
	if anc.Action.Kind != ActionNone {
		var pendingActivation uint32
		switch anc.Action.Kind {
		case ActionScheduledChange, ActionPause, ActionResume:
			pendingActivation = anc.Action.ActivateAt
		case ActionForcedChange:
			pendingActivation = anc.Action.DelayStart + anc.Action.Delay
		}
		if pendingActivation <= activateAt {
			g.log.Debug("scheduled change ignored, ancestor action wins", "at", at, "activate_at", activateAt)
			return nil
		}
	}

	node, ok := g.index[at.Hash]
	if !ok {
		node = &ScheduleNode{Block: at, ParentBlock: anc.Block, CurrentAuthorities: anc.CurrentAuthorities, Enabled: anc.Enabled}
		g.insertChildLocked(anc, node)
	}
	node.Action = Action{Kind: ActionScheduledChange, ActivateAt: activateAt, New: newSet}
	return nil
}

// ApplyForcedChange records a ForcedChange action. The change activates at
// height delayStart+delay on the subchain containing delayStart; if
// delayStart precedes the current root, the delay is clamped to the root.
// When the forced change supersedes a pending action on a descendant (the
// forced change activates no later than the descendant's own action), that
// descendant's action is cleared (ordering tie-break favors ForcedChange).
func (g *Graph) ApplyForcedChange(current types.BlockInfo, newSet *types.AuthoritySet, delayStart, delay uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	anc, err := g.nearestAncestorLocked(current)
	if err != nil {
		return err
	}

	effectiveStart := delayStart
	if effectiveStart < g.root.Block.Number {
		effectiveStart = g.root.Block.Number
	}
	activation := effectiveStart + delay

	node, ok := g.index[current.Hash]
	if !ok {
		node = &ScheduleNode{Block: current, ParentBlock: anc.Block, CurrentAuthorities: anc.CurrentAuthorities, Enabled: anc.Enabled}
		g.insertChildLocked(anc, node)
	}
	node.Action = Action{Kind: ActionForcedChange, DelayStart: effectiveStart, Delay: delay, New: newSet}

	g.clearSupersededDescendantsLocked(node, activation)
	return nil
}

// clearSupersededDescendantsLocked clears a descendant's pending action
// when a forced change at or before `activation` on this branch wins the
// tie-break, and adopts the new set on descendants at or past activation.
func (g *Graph) clearSupersededDescendantsLocked(node *ScheduleNode, activation uint32) {
	for _, d := range node.Descendants {
		if d.Action.Kind != ActionNone {
			var descActivation uint32
			switch d.Action.Kind {
			case ActionScheduledChange, ActionPause, ActionResume:
				descActivation = d.Action.ActivateAt
			case ActionForcedChange:
				descActivation = d.Action.DelayStart + d.Action.Delay
			}
			if activation <= descActivation {
				d.Action = Action{}
			}
		}
		if d.Block.Number >= activation {
			d.CurrentAuthorities = node.Action.New
		}
		g.clearSupersededDescendantsLocked(d, activation)
	}
}

// ApplyOnDisabled zeroes the weight of one authority at the nearest
// ancestor of `at`. Some chains configure this as a no-op; callers gate
// that with a config flag before calling in.
func (g *Graph) ApplyOnDisabled(at types.BlockInfo, authorityIndex types.AuthorityIndex) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	anc, err := g.nearestAncestorLocked(at)
	if err != nil {
		return err
	}
	node, ok := g.index[at.Hash]
	if !ok {
		node = &ScheduleNode{Block: at, ParentBlock: anc.Block, CurrentAuthorities: anc.CurrentAuthorities.Clone(), Enabled: anc.Enabled}
		g.insertChildLocked(anc, node)
	} else {
		node.CurrentAuthorities = node.CurrentAuthorities.Clone()
	}
	if int(authorityIndex) < len(node.CurrentAuthorities.Authorities) {
		node.CurrentAuthorities.Authorities[authorityIndex].Weight = 0
	}
	return nil
}

// ApplyPause schedules the enabled flag to flip to false at activateAt.
func (g *Graph) ApplyPause(at types.BlockInfo, activateAt uint32) error {
	return g.applyToggle(at, activateAt, ActionPause)
}

// ApplyResume schedules the enabled flag to flip back to true at activateAt.
func (g *Graph) ApplyResume(at types.BlockInfo, activateAt uint32) error {
	return g.applyToggle(at, activateAt, ActionResume)
}

func (g *Graph) applyToggle(at types.BlockInfo, activateAt uint32, kind ActionKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	anc, err := g.nearestAncestorLocked(at)
	if err != nil {
		return err
	}
	node, ok := g.index[at.Hash]
	if !ok {
		node = &ScheduleNode{Block: at, ParentBlock: anc.Block, CurrentAuthorities: anc.CurrentAuthorities, Enabled: anc.Enabled}
		g.insertChildLocked(anc, node)
	}
	node.Action = Action{Kind: kind, ActivateAt: activateAt}
	return nil
}

// OnFinalize prunes the graph: the new root becomes `finalized`, and every
// node not a descendant of it is discarded.
func (g *Graph) OnFinalize(finalized types.BlockInfo) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.index[finalized.Hash]
	if !ok {
		// Synthesize a new root at the finalized block, inheriting the
		// nearest ancestor's materialized authority set.
		anc, err := g.nearestAncestorLocked(finalized)
		if err != nil {
			return err
		}
		set, err := g.authoritiesAtLocked(anc, finalized)
		if err != nil {
			return err
		}
		node = &ScheduleNode{Block: finalized, CurrentAuthorities: set, Enabled: true}
	}

	newIndex := make(map[types.Hash]*ScheduleNode)
	node.ParentBlock = types.BlockInfo{}
	g.collectDescendantsLocked(node, newIndex)
	newIndex[node.Block.Hash] = node

	g.root = node
	g.index = newIndex
	g.log.Info("schedule graph pruned", "new_root", finalized)
	return nil
}

func (g *Graph) authoritiesAtLocked(anc *ScheduleNode, target types.BlockInfo) (*types.AuthoritySet, error) {
	set := anc.CurrentAuthorities
	switch anc.Action.Kind {
	case ActionScheduledChange:
		if target.Number >= anc.Action.ActivateAt {
			set = anc.Action.New
		}
	case ActionForcedChange:
		if target.Number >= anc.Action.DelayStart+anc.Action.Delay {
			set = anc.Action.New
		}
	}
	return set.Clone(), nil
}

func (g *Graph) collectDescendantsLocked(node *ScheduleNode, out map[types.Hash]*ScheduleNode) {
	for _, d := range node.Descendants {
		out[d.Block.Hash] = d
		g.collectDescendantsLocked(d, out)
	}
}

// Cancel removes a pending scheduled-change node if it is a leaf (no
// descendants); otherwise it is a no-op.
func (g *Graph) Cancel(at types.BlockInfo) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.index[at.Hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLeaf, at)
	}
	if len(node.Descendants) > 0 {
		return nil
	}
	if parent, ok := g.index[node.ParentBlock.Hash]; ok && parent != node {
		for i, d := range parent.Descendants {
			if d == node {
				parent.Descendants = append(parent.Descendants[:i], parent.Descendants[i+1:]...)
				break
			}
		}
	}
	delete(g.index, at.Hash)
	return nil
}

// Recover rebuilds the graph on startup. If a persisted root is available
// it is used directly; otherwise genesisFn supplies the runtime's genesis
// authority set and the graph is rooted at genesis. It does not walk back
// from the last finalized block or replay consensus digests.
func Recover(tree blocktree.Reader, persistedRoot *ScheduleNode, genesis types.BlockInfo, genesisFn func() (*types.AuthoritySet, error)) (*Graph, error) {
	if persistedRoot != nil {
		g := &Graph{
			root:  persistedRoot,
			tree:  tree,
			log:   log.Default().Module("authority"),
			index: make(map[types.Hash]*ScheduleNode),
		}
		g.index[persistedRoot.Block.Hash] = persistedRoot
		g.collectDescendantsLocked(persistedRoot, g.index)
		return g, nil
	}
	set, err := genesisFn()
	if err != nil {
		return nil, err
	}
	return NewGraph(tree, genesis, set), nil
}
