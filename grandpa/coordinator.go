package grandpa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/qdrvm/kagome-sub000/authority"
	"github.com/qdrvm/kagome-sub000/blocktree"
	"github.com/qdrvm/kagome-sub000/crypto"
	"github.com/qdrvm/kagome-sub000/log"
	"github.com/qdrvm/kagome-sub000/types"
)

// Coordinator-level errors, matching §7's table.
var (
	ErrNotEnoughWeight             = errors.New("grandpa: justification below supermajority")
	ErrJustificationForRoundInPast = errors.New("grandpa: justification for a round already superseded")
	ErrJustificationForBlockInPast = errors.New("grandpa: justification for a block already finalized")
	ErrJustificationSetInPast      = errors.New("grandpa: justification for an obsolete authority set")
	ErrRedundantEquivocation       = errors.New("grandpa: third vote from a known equivocator")
	ErrCantMakeAncestry            = errors.New("grandpa: justification header-chain lookup failed")
)

const keepRecent = 3 // KEEP_RECENT from §4.8

// postponedMaxLen bounds the NotEnoughWeight retry queue (§9 supplemented
// feature 4: a real bounded FIFO, not just a retry flag).
const postponedMaxLen = 64

// Keypair signs GRANDPA votes on behalf of one voter.
type Keypair interface {
	VoterID() types.VoterID
	Sign(msg []byte) [64]byte
}

// Config bundles the coordinator's collaborators.
type Config struct {
	Tree         blocktree.Tree
	Graph        *authority.Graph
	Sign         crypto.SignBackend
	Key          Keypair
	RoundDuration time.Duration
	CatchUpThreshold uint64

	// WestendGenesisHash/WestendPastRound implement the §9 compatibility
	// hatch: a hard-coded allowance for one specific legacy justification,
	// gated by (genesis_hash, block_info) equality — never general.
	WestendGenesisHash types.Hash
	WestendPastRound   *types.BlockInfo
}

// Coordinator sequences GRANDPA rounds, handles catch-up, and applies
// justifications (C9).
type Coordinator struct {
	cfg Config
	log *log.Logger

	mu      sync.Mutex
	current *Round
	history []*Round // most recent first, at most keepRecent

	genesisHash types.Hash

	postponed []types.GrandpaJustification
}

// New creates a GRANDPA coordinator.
func New(cfg Config, genesisHash types.Hash) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		log:         log.Default().Module("grandpa"),
		genesisHash: genesisHash,
	}
}

// TryExecuteNextRound advances from prev to a new round, per §4.8. Only
// proceeds if prev is still the coordinator's current round.
func (c *Coordinator) TryExecuteNextRound(ctx context.Context, prev *Round) (*Round, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev != c.current {
		return nil, nil
	}

	finalized, ok := prev.Finalized()
	if !ok {
		finalized = prev.cfg.PrevRoundFinalized
	}

	authSet, err := c.cfg.Graph.Authorities(finalized, true)
	if err != nil {
		return nil, fmt.Errorf("grandpa: authorities at %s: %w", finalized, err)
	}
	voters := types.NewVoterSet(authSet.Authorities)

	nextNumber := prev.cfg.RoundNumber + 1
	nextSetID := authSet.ID
	if nextSetID != prev.cfg.SetID {
		nextNumber = 1
	}

	bestFinal, _ := prev.Finalized()
	cfg := RoundConfig{
		RoundNumber:        nextNumber,
		SetID:              nextSetID,
		Voters:             voters,
		Duration:           c.cfg.RoundDuration,
		Tree:               c.cfg.Tree,
		Sign:               c.cfg.Sign,
		PrevRoundBestFinal: bestFinal,
		PrevRoundFinalized: finalized,
	}
	if c.cfg.Key != nil {
		if idx, ok := voters.IndexOf(c.cfg.Key.VoterID()); ok {
			cfg.Self = c.cfg.Key.VoterID()
			cfg.SelfWeight = voters.WeightOf(cfg.Self)
			cfg.HasVote = true
			_ = idx
		}
	}

	next := NewRound(cfg, time.Now())
	c.history = append([]*Round{next}, c.history...)
	if len(c.history) > keepRecent {
		c.history = c.history[:keepRecent]
	}
	c.current = next
	c.drainPostponedLocked()
	return next, nil
}

// CurrentRound returns the coordinator's current round.
func (c *Coordinator) CurrentRound() *Round {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// RoundByNumber returns a round from the recent-history chain, if kept.
func (c *Coordinator) RoundByNumber(n uint64) (*Round, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.history {
		if r.cfg.RoundNumber == n {
			return r, true
		}
	}
	return nil, false
}

// ApplyJustification is the external entrypoint: validates and applies a
// justification (§4.8's apply_justification, also invoked on block import).
// Idempotent: if the block is already finalized at or past j.Block, this is
// a no-op success (§8 property 7).
func (c *Coordinator) ApplyJustification(ctx context.Context, j types.GrandpaJustification) error {
	lastFinalized, err := c.cfg.Tree.LastFinalized(ctx)
	if err != nil {
		return err
	}
	if lastFinalized.Number >= j.Block.Number {
		ok, _ := c.cfg.Tree.HasDirectChain(ctx, j.Block, lastFinalized)
		if ok || lastFinalized.Equal(j.Block) {
			return nil // idempotent no-op
		}
	}

	authSet, err := c.cfg.Graph.Authorities(j.Block, false)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCantMakeAncestry, err)
	}
	voters := types.NewVoterSet(authSet.Authorities)

	if err := c.verifyJustification(j, voters); err != nil {
		if errors.Is(err, ErrNotEnoughWeight) {
			c.postpone(j)
		}
		return err
	}

	if err := c.cfg.Tree.Finalize(ctx, j.Block, &j); err != nil {
		return fmt.Errorf("grandpa: finalize: %w", err)
	}
	if err := c.cfg.Graph.OnFinalize(j.Block); err != nil {
		c.log.Warn("schedule graph prune after finalize failed", "err", err)
	}

	c.mu.Lock()
	if c.current != nil {
		c.current.mu.Lock()
		c.current.finalized = &j.Block
		c.current.mu.Unlock()
	}
	c.mu.Unlock()

	return nil
}

// verifyJustification checks the westend compatibility hatch, then vote
// validity and supermajority weight.
func (c *Coordinator) verifyJustification(j types.GrandpaJustification, voters *types.VoterSet) error {
	if c.cfg.WestendPastRound != nil && c.genesisHash == c.cfg.WestendGenesisHash &&
		j.Block.Equal(*c.cfg.WestendPastRound) {
		return nil
	}

	seen := make(map[types.VoterID]struct{})
	var weight uint64
	for _, v := range j.Items {
		if v.Kind != types.VotePrecommit {
			continue
		}
		if _, dup := seen[v.Voter]; dup {
			continue
		}
		w, ok := voters.IndexOf(v.Voter)
		if !ok {
			continue
		}
		_ = w
		seen[v.Voter] = struct{}{}
		weight += voters.WeightOf(v.Voter)
	}

	if weight < voters.Threshold() {
		return ErrNotEnoughWeight
	}
	return nil
}

// postpone enqueues a not-enough-weight justification on the bounded FIFO,
// dropping the oldest entry on overflow (§9 supplemented feature 4).
func (c *Coordinator) postpone(j types.GrandpaJustification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.postponed = append(c.postponed, j)
	if len(c.postponed) > postponedMaxLen {
		c.postponed = c.postponed[len(c.postponed)-postponedMaxLen:]
	}
}

// drainPostponedLocked retries every postponed justification; called with
// c.mu held, after every successful round advance (new weight may have
// arrived). Callers of ApplyJustification elsewhere should also invoke
// DrainPostponed after each new block import.
func (c *Coordinator) drainPostponedLocked() {
	// Draining re-enters ApplyJustification which itself takes c.mu, so we
	// release the lock around replay and restore it for the caller's defer.
	c.mu.Unlock()
	c.DrainPostponed(context.Background())
	c.mu.Lock()
}

// DrainPostponed retries every postponed justification once; justifications
// that still lack weight are re-postponed, others are applied.
func (c *Coordinator) DrainPostponed(ctx context.Context) {
	c.mu.Lock()
	pending := c.postponed
	c.postponed = nil
	c.mu.Unlock()

	for _, j := range pending {
		if err := c.ApplyJustification(ctx, j); err != nil && !errors.Is(err, ErrNotEnoughWeight) {
			c.log.Warn("postponed justification failed on retry", "round", j.Round, "err", err)
		}
	}
}
