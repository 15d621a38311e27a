package grandpa

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/qdrvm/kagome-sub000/blocktree"
	"github.com/qdrvm/kagome-sub000/crypto"
	"github.com/qdrvm/kagome-sub000/log"
	"github.com/qdrvm/kagome-sub000/types"
)

// Round-level errors.
var (
	ErrLastEstimateBetterThanPrevote = errors.New("grandpa: last round estimate exceeds current prevote-GHOST")
	ErrRoundIsNotFinalizable         = errors.New("grandpa: round asked to finalize before it is finalizable")
)

// Phase enumerates the voting-round state machine's states (§4.7).
type Phase uint8

const (
	PhaseInit Phase = iota
	PhaseStart
	PhaseStartPrevote
	PhasePrevoteRuns
	PhaseEndPrevote
	PhaseStartPrecommit
	PhasePrecommitRuns
	PhaseEndPrecommit
	PhaseStartWaiting
	PhaseWaitingRuns
	PhaseEndWaiting
	PhaseCompleted
)

func (p Phase) String() string {
	names := [...]string{"init", "start", "start_prevote", "prevote_runs", "end_prevote",
		"start_precommit", "precommit_runs", "end_precommit", "start_waiting", "waiting_runs",
		"end_waiting", "completed"}
	if int(p) < len(names) {
		return names[p]
	}
	return "unknown"
}

// RoundConfig bundles one round's fixed inputs.
type RoundConfig struct {
	RoundNumber uint64
	SetID       uint64
	Voters      *types.VoterSet
	Duration    time.Duration // the round's base duration; prevote/precommit each get 2x, 4x
	Tree        blocktree.Reader
	Sign        crypto.SignBackend
	Self        types.VoterID // zero value if this node has no vote in the set
	SelfWeight  uint64
	HasVote     bool

	// PrevRoundBestFinal is the previous round's best-final-candidate
	// (or the genesis block for round 1), used for primary-proposal and
	// precommit legality checks.
	PrevRoundBestFinal types.BlockInfo
	PrevRoundFinalized types.BlockInfo
}

// Round drives one GRANDPA round's state machine.
type Round struct {
	mu     sync.RWMutex
	cfg    RoundConfig
	tracker *Tracker
	graph   *Graph
	log     *log.Logger

	phase     Phase
	startTime time.Time

	primaryPropose *types.BlockInfo
	prevoteGhost   *types.BlockInfo
	estimate       *types.BlockInfo
	finalized      *types.BlockInfo
	completable    bool
}

// NewRound creates a round in PhaseInit.
func NewRound(cfg RoundConfig, startTime time.Time) *Round {
	return &Round{
		cfg:       cfg,
		tracker:   NewTracker(),
		graph:     NewGraph(cfg.Tree),
		log:       log.Default().Module("grandpa"),
		phase:     PhaseInit,
		startTime: startTime,
	}
}

// Phase returns the round's current phase.
func (r *Round) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// Start transitions INIT -> START -> START_PREVOTE and, if this node is
// the round's primary (round_number mod |voters| == own index), broadcasts
// a primary proposal.
func (r *Round) Start(ownIndex int) (*types.BlockInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = PhaseStartPrevote

	if r.cfg.Voters.Len() == 0 {
		return nil, false
	}
	primaryIdx := int(r.cfg.RoundNumber % uint64(r.cfg.Voters.Len()))
	if ownIndex != primaryIdx {
		return nil, false
	}
	// Broadcast only if the previous round's best-final-candidate strictly
	// exceeds the previous last-finalized block.
	if r.cfg.PrevRoundBestFinal.Number <= r.cfg.PrevRoundFinalized.Number {
		return nil, false
	}
	p := r.cfg.PrevRoundBestFinal
	r.primaryPropose = &p
	return &p, true
}

// ObservePrimaryPropose records a gossiped primary proposal from the
// round's designated primary voter.
func (r *Round) ObservePrimaryPropose(target types.BlockInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.primaryPropose = &target
}

// PushVote feeds a signed vote into the round's tracker and vote graph.
func (r *Round) PushVote(v types.SignedVote, ancestry []types.BlockInfo) (PushResult, error) {
	res, err := r.tracker.Push(v)
	if res == PushSuccess || (res == PushEquivocated && err == nil) {
		weight := r.cfg.Voters.WeightOf(v.Voter)
		r.graph.Insert(context.Background(), v.Target, v.Voter, weight, v.Kind, ancestry)
	}
	return res, err
}

// PrevoteCandidate computes §4.7's prevote action: vote for the primary
// proposal P if one was received and last_round_best_final <= P <=
// current prevote-GHOST; otherwise vote for the GHOST of the best-final-
// candidate.
func (r *Round) PrevoteCandidate(candidates []types.BlockInfo) types.BlockInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	ghost, ok := r.graph.FindGhost(r.cfg.PrevRoundBestFinal, candidates, func(w *types.VoteWeight) bool {
		return w.PrevoteWeight >= r.cfg.Voters.Threshold()
	})
	if !ok {
		ghost = r.cfg.PrevRoundBestFinal
	}
	r.prevoteGhost = &ghost

	if r.primaryPropose != nil {
		p := *r.primaryPropose
		if !p.Less(r.cfg.PrevRoundBestFinal) && !ghost.Less(p) {
			return p
		}
	}
	return ghost
}

// PrecommitCandidate computes §4.7's precommit action: vote for the
// current prevote-GHOST iff it is equal-or-descendant of the previous
// round's best-final-candidate; otherwise the round aborts with
// ErrLastEstimateBetterThanPrevote.
func (r *Round) PrecommitCandidate() (types.BlockInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.prevoteGhost == nil {
		return types.BlockInfo{}, ErrLastEstimateBetterThanPrevote
	}
	g := *r.prevoteGhost
	if g.Less(r.cfg.PrevRoundBestFinal) {
		return types.BlockInfo{}, ErrLastEstimateBetterThanPrevote
	}
	return g, nil
}

// Completable implements §4.7's completability check: no block other than
// the current best-final-candidate `estimate` could reach supermajority
// precommits on a different branch, given the worst-case future-
// equivocation budget.
//
// This is evaluated conservatively: the round is completable once the sum
// of weight that has NOT yet precommitted on `estimate` (and therefore
// could still vote for a competing branch) cannot lift any other candidate
// to threshold.
func (r *Round) Completable(estimate types.BlockInfo, candidates []types.BlockInfo) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completableLocked(estimate, candidates)
}

func (r *Round) completableLocked(estimate types.BlockInfo, candidates []types.BlockInfo) bool {
	total := r.cfg.Voters.TotalWeight()
	threshold := r.cfg.Voters.Threshold()

	w := r.graph.WeightAt(estimate.Hash)
	remaining := total - w.PrecommitWeight

	for _, c := range candidates {
		if c.Equal(estimate) {
			continue
		}
		cw := r.graph.WeightAt(c.Hash)
		if cw.PrecommitWeight+remaining >= threshold && cw.PrecommitWeight > 0 {
			r.completable = false
			return false
		}
	}
	r.completable = true
	return true
}

// Finalizable reports whether some block has reached precommit weight
// >= threshold and the round is completable around it.
func (r *Round) Finalizable(candidates []types.BlockInfo) (types.BlockInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	best, ok := r.findBestFinalLocked(candidates)
	if !ok {
		return types.BlockInfo{}, false
	}
	if !r.completableLocked(best, candidates) {
		return types.BlockInfo{}, false
	}
	r.finalized = &best
	r.estimate = &best
	return best, true
}

func (r *Round) findBestFinalLocked(candidates []types.BlockInfo) (types.BlockInfo, bool) {
	threshold := r.cfg.Voters.Threshold()
	var best types.BlockInfo
	found := false
	for _, c := range candidates {
		w := r.graph.WeightAt(c.Hash)
		if w.PrecommitWeight >= threshold {
			if !found || c.Number > best.Number {
				best = c
				found = true
			}
		}
	}
	return best, found
}

// Finalized returns the round's finalized block, if any.
func (r *Round) Finalized() (types.BlockInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.finalized == nil {
		return types.BlockInfo{}, false
	}
	return *r.finalized, true
}

// BuildJustification assembles a GrandpaJustification from every counted
// precommit on blocks equal-or-descendant of `block`.
func (r *Round) BuildJustification(block types.BlockInfo, ancestries []types.BlockHeader) types.GrandpaJustification {
	items := r.tracker.Votes(types.VotePrecommit)
	out := make([]types.SignedVote, 0, len(items))
	for _, v := range items {
		if v.Target.Number < block.Number {
			continue
		}
		if ok, err := r.cfg.Tree.HasDirectChain(context.Background(), block, v.Target); err == nil && ok {
			out = append(out, v)
		}
	}
	return types.GrandpaJustification{
		Round:           r.cfg.RoundNumber,
		Block:           block,
		Items:           out,
		VotesAncestries: ancestries,
	}
}

// SetPhase advances the round's phase explicitly; used by the coordinator's
// step() driver (§9: "flatten into a single state enum with a step()
// driver invoked from timer callbacks and message handlers").
func (r *Round) SetPhase(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = p
}

// ShouldEndPrevote reports whether PREVOTE_RUNS should transition to
// END_PREVOTE: now >= start + 2*duration, or the round is completable.
func (r *Round) ShouldEndPrevote(now time.Time, candidates []types.BlockInfo) bool {
	if now.Sub(r.startTime) >= 2*r.cfg.Duration {
		return true
	}
	if _, ok := r.Finalizable(candidates); ok {
		return true
	}
	r.mu.RLock()
	best, ok := r.findBestFinalLocked(candidates)
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return r.Completable(best, candidates)
}

// ShouldEndPrecommit reports whether PRECOMMIT_RUNS should transition to
// END_PRECOMMIT: now >= start + 4*duration, or the round is completable.
func (r *Round) ShouldEndPrecommit(now time.Time, candidates []types.BlockInfo) bool {
	if now.Sub(r.startTime) >= 4*r.cfg.Duration {
		return true
	}
	if _, ok := r.Finalizable(candidates); ok {
		return true
	}
	r.mu.RLock()
	best, ok := r.findBestFinalLocked(candidates)
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return r.Completable(best, candidates)
}

// NeighborInterval is the gossip cadence from §4.7: max(10*duration, 120s).
func (r *Round) NeighborInterval() time.Duration {
	d := 10 * r.cfg.Duration
	if d < 120*time.Second {
		return 120 * time.Second
	}
	return d
}
