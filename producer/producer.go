// Package producer implements the block producer (C5): on each slot tick,
// checks leadership via the slot lottery, assembles inherents, proposes,
// seals, and submits the produced block.
package producer

import (
	"context"
	"errors"
	"fmt"

	"github.com/qdrvm/kagome-sub000/authority"
	"github.com/qdrvm/kagome-sub000/blocktree"
	"github.com/qdrvm/kagome-sub000/crypto"
	"github.com/qdrvm/kagome-sub000/log"
	"github.com/qdrvm/kagome-sub000/lottery"
	"github.com/qdrvm/kagome-sub000/types"
)

// Producer error kinds, matching §7's error table.
var (
	ErrNoValidator  = errors.New("producer: local keypair not in current authority set")
	ErrNoSlotLeader = errors.New("producer: lottery returned no leadership for this slot")
	ErrBackingOff   = errors.New("producer: finality lag exceeds backoff threshold")
	ErrMissingConfig = errors.New("producer: runtime returned no epoch data")
	ErrLate         = errors.New("producer: slot missed its overtime deadline")
	ErrSecondaryDisabled = errors.New("producer: secondary slot claim but epoch config forbids it")
)

const kOvertime = 2 // K_OVERTIME from §4.4 step 13

// SigningKey signs a header hash on behalf of one authority.
type SigningKey interface {
	AuthorityIndex() types.AuthorityIndex
	Sign(hash types.Hash) [64]byte
}

// ConfigRepo resolves the epoch descriptor governing a (parent, epoch) pair.
type ConfigRepo interface {
	Config(ctx context.Context, parent types.BlockInfo, epoch uint64) (*types.EpochDescriptor, error)
}

// SlotsUtil maps a (parent, slot) pair to its epoch number.
type SlotsUtil interface {
	SlotToEpoch(parent types.BlockInfo, slot uint64) uint64
}

// Config bundles a producer's collaborators and policy knobs.
type Config struct {
	Tree         blocktree.Tree
	Proposer     blocktree.Proposer
	ConfigRepo   ConfigRepo
	SlotsUtil    SlotsUtil
	Graph        *authority.Graph
	Lottery      *lottery.Lottery
	Key          SigningKey
	SlotDuration uint64 // milliseconds
	// BackoffBlocks is the chain-specific gap (best - last_finalized)
	// beyond which slot claiming is skipped while finality lags.
	BackoffBlocks uint32
}

// Producer drives one slot's production attempt.
type Producer struct {
	cfg         Config
	log         *log.Logger
	lastEpoch   uint64
	haveLastEpoch bool
	seenSlots   map[types.AuthorityIndex]map[uint64]struct{} // equivocation guard, keyed by authority and slot (not by branch)
}

// New creates a Producer.
func New(cfg Config) *Producer {
	return &Producer{
		cfg:       cfg,
		log:       log.Default().Module("babe"),
		seenSlots: make(map[types.AuthorityIndex]map[uint64]struct{}),
	}
}

// Produced is the result of a successful slot-production attempt.
type Produced struct {
	Header   types.BlockHeader
	Hash     types.Hash
	SlotType types.SlotType
}

// ProcessSlot runs the §4.4 algorithm for one slot tick.
func (p *Producer) ProcessSlot(ctx context.Context, slot uint64, now int64) (*Produced, error) {
	best, err := p.cfg.Tree.BestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("producer: best block: %w", err)
	}

	epoch := p.cfg.SlotsUtil.SlotToEpoch(best, slot)
	epochCfg, err := p.cfg.ConfigRepo.Config(ctx, best, epoch)
	if err != nil || epochCfg == nil {
		return nil, ErrMissingConfig
	}

	if p.cfg.Key == nil || int(p.cfg.Key.AuthorityIndex()) >= len(epochCfg.Authorities) {
		return nil, ErrNoValidator
	}

	lastFinalized, err := p.cfg.Tree.LastFinalized(ctx)
	if err != nil {
		return nil, fmt.Errorf("producer: last finalized: %w", err)
	}
	if p.cfg.BackoffBlocks > 0 && best.Number > lastFinalized.Number &&
		best.Number-lastFinalized.Number > p.cfg.BackoffBlocks {
		return nil, ErrBackingOff
	}

	if !p.haveLastEpoch || p.lastEpoch != epoch {
		p.cfg.Lottery.ChangeEpoch(lottery.EpochContext{
			EpochNumber:    epoch,
			Randomness:     epochCfg.Randomness,
			Authorities:    epochCfg.Authorities,
			LeadershipRate: epochCfg.LeadershipRate,
			AuthorityIndex: p.cfg.Key.AuthorityIndex(),
			HasKeypair:     true,
		})
		p.lastEpoch = epoch
		p.haveLastEpoch = true
	}

	claim, err := p.claimSlot(slot, epochCfg)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, ErrNoSlotLeader
	}

	if err := p.checkEquivocation(claim.AuthorityIndex, slot); err != nil {
		return nil, err
	}

	deadline := now + 2*int64(p.cfg.SlotDuration)/3
	inherents := blocktree.Inherents{Timestamp: uint64(now), Slot: slot}
	preDigest := types.DigestItem{Kind: types.DigestPreRuntime, EngineID: types.EngineBABE}

	unsealed, err := p.cfg.Proposer.Propose(ctx, best, deadline, inherents, preDigest)
	if err != nil {
		return nil, fmt.Errorf("producer: propose: %w", err)
	}

	headerHash := crypto.Keccak256Hash(unsealed.Header.StateRoot[:], unsealed.Header.ExtrinsicsRoot[:])
	sig := p.cfg.Key.Sign(headerHash)
	seal := types.DigestItem{Kind: types.DigestSeal, EngineID: types.EngineBABE, Payload: sig[:]}
	unsealed.Header.Digest = append(unsealed.Header.Digest, seal)

	sealedHash := crypto.Keccak256Hash(headerHash[:], sig[:])

	overtimeLimit := int64((slot + kOvertime + 1) * p.cfg.SlotDuration)
	if now > overtimeLimit {
		return nil, ErrLate
	}

	if err := p.cfg.Tree.AddBlock(ctx, unsealed.Header, sealedHash); err != nil {
		_ = p.cfg.Tree.RemoveLeaf(ctx, sealedHash)
		return nil, fmt.Errorf("producer: add block: %w", err)
	}

	return &Produced{Header: unsealed.Header, Hash: sealedHash, SlotType: claim.SlotType}, nil
}

// claimSlot implements §4.4 steps 7-8: try primary leadership, then fall
// back to secondary authorship if the epoch config allows it.
func (p *Producer) claimSlot(slot uint64, cfg *types.EpochDescriptor) (*types.SlotClaim, error) {
	out, err := p.cfg.Lottery.SlotLeadership(slot)
	if err != nil {
		return nil, err
	}
	if out != nil {
		return &types.SlotClaim{
			AuthorityIndex: p.cfg.Key.AuthorityIndex(),
			SlotNumber:     slot,
			SlotType:       types.SlotPrimary,
			VrfOutput:      out,
		}, nil
	}

	if cfg.AllowedSlots == types.AllowedPrimaryOnly {
		return nil, nil
	}

	author := lottery.SecondarySlotAuthor(slot, uint32(len(cfg.Authorities)), cfg.Randomness)
	if author != p.cfg.Key.AuthorityIndex() {
		return nil, nil
	}

	switch cfg.AllowedSlots {
	case types.AllowedPrimaryAndSecondaryVRF:
		vrf, err := p.cfg.Lottery.SlotVRFSignature(slot)
		if err != nil {
			return nil, err
		}
		return &types.SlotClaim{AuthorityIndex: author, SlotNumber: slot, SlotType: types.SlotSecondaryVRF, VrfOutput: &vrf}, nil
	case types.AllowedPrimaryAndSecondaryPlain:
		return &types.SlotClaim{AuthorityIndex: author, SlotNumber: slot, SlotType: types.SlotSecondaryPlain}, nil
	default:
		return nil, ErrSecondaryDisabled
	}
}

// checkEquivocation enforces the two-blocks-in-slot rule for locally
// produced blocks: this node must never author two blocks in the same slot.
func (p *Producer) checkEquivocation(idx types.AuthorityIndex, slot uint64) error {
	seen, ok := p.seenSlots[idx]
	if !ok {
		seen = make(map[uint64]struct{})
		p.seenSlots[idx] = seen
	}
	if _, dup := seen[slot]; dup {
		return fmt.Errorf("producer: two blocks in slot %d", slot)
	}
	seen[slot] = struct{}{}
	return nil
}
