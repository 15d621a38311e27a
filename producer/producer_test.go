package producer

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrvm/kagome-sub000/blocktree"
	"github.com/qdrvm/kagome-sub000/lottery"
	"github.com/qdrvm/kagome-sub000/types"
)

type fakeTree struct {
	best      types.BlockInfo
	finalized types.BlockInfo
	added     []types.Hash
	removed   []types.Hash
}

func (f *fakeTree) Header(ctx context.Context, hash types.Hash) (types.BlockHeader, error) {
	return types.BlockHeader{}, nil
}
func (f *fakeTree) HashAt(ctx context.Context, number uint32) (types.Hash, bool, error) {
	return types.Hash{}, false, nil
}
func (f *fakeTree) BestBlock(ctx context.Context) (types.BlockInfo, error) { return f.best, nil }
func (f *fakeTree) LastFinalized(ctx context.Context) (types.BlockInfo, error) {
	return f.finalized, nil
}
func (f *fakeTree) Leaves(ctx context.Context) ([]types.Hash, error) { return nil, nil }
func (f *fakeTree) HasDirectChain(ctx context.Context, anc, desc types.BlockInfo) (bool, error) {
	return anc.Number <= desc.Number, nil
}
func (f *fakeTree) AddBlock(ctx context.Context, header types.BlockHeader, hash types.Hash) error {
	f.added = append(f.added, hash)
	return nil
}
func (f *fakeTree) Finalize(ctx context.Context, block types.BlockInfo, j *types.GrandpaJustification) error {
	f.finalized = block
	return nil
}
func (f *fakeTree) RemoveLeaf(ctx context.Context, hash types.Hash) error {
	f.removed = append(f.removed, hash)
	return nil
}

type fakeProposer struct{ err error }

func (p *fakeProposer) Propose(ctx context.Context, parent types.BlockInfo, deadline int64, inherents blocktree.Inherents, preDigest types.DigestItem) (blocktree.UnsealedBlock, error) {
	if p.err != nil {
		return blocktree.UnsealedBlock{}, p.err
	}
	h := types.BlockHeader{
		ParentHash: parent.Hash,
		Number:     parent.Number + 1,
		Digest:     []types.DigestItem{preDigest},
	}
	h.StateRoot[0] = byte(parent.Number + 1)
	return blocktree.UnsealedBlock{Header: h}, nil
}

type fakeConfigRepo struct{ cfg *types.EpochDescriptor }

func (r *fakeConfigRepo) Config(ctx context.Context, parent types.BlockInfo, epoch uint64) (*types.EpochDescriptor, error) {
	return r.cfg, nil
}

type fixedEpochSlots struct{ epochLength uint64 }

func (s fixedEpochSlots) SlotToEpoch(parent types.BlockInfo, slot uint64) uint64 {
	return slot / s.epochLength
}

type fakeKey struct{ idx types.AuthorityIndex }

func (k fakeKey) AuthorityIndex() types.AuthorityIndex { return k.idx }
func (k fakeKey) Sign(hash types.Hash) [64]byte        { return [64]byte{1} }

func alwaysLeaderConfig(n int) *types.EpochDescriptor {
	auths := make(types.AuthorityList, n)
	for i := range auths {
		auths[i] = types.AuthorityWeighted{Weight: 1}
		auths[i].Key[0] = byte(i + 1)
	}
	return &types.EpochDescriptor{
		EpochNumber:     0,
		SlotDurationMs:  6000,
		EpochLengthSlot: 100,
		Authorities:     auths,
		AllowedSlots:    types.AllowedPrimaryAndSecondaryVRF,
		LeadershipRate:  types.LeadershipRate{Num: 1, Den: 1}, // always-leader
	}
}

func newTestProducer(t *testing.T, tree *fakeTree, cfg *types.EpochDescriptor, key SigningKey) *Producer {
	t.Helper()
	return New(Config{
		Tree:         tree,
		Proposer:     &fakeProposer{},
		ConfigRepo:   &fakeConfigRepo{cfg: cfg},
		SlotsUtil:    fixedEpochSlots{epochLength: cfg.EpochLengthSlot},
		Graph:        nil,
		Lottery:      lottery.New(nil),
		Key:          key,
		SlotDuration: cfg.SlotDurationMs,
	})
}

func TestProcessSlotClaimsPrimaryAtFullRate(t *testing.T) {
	tree := &fakeTree{}
	cfg := alwaysLeaderConfig(3)
	p := newTestProducer(t, tree, cfg, fakeKey{idx: 0})

	produced, err := p.ProcessSlot(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if produced.SlotType != types.SlotPrimary {
		t.Fatalf("expected primary slot type, got %v", produced.SlotType)
	}
	if len(tree.added) != 1 {
		t.Fatalf("expected one block added, got %d", len(tree.added))
	}
}

func TestProcessSlotNoValidator(t *testing.T) {
	tree := &fakeTree{}
	cfg := alwaysLeaderConfig(2)
	p := newTestProducer(t, tree, cfg, fakeKey{idx: 5}) // out of range

	_, err := p.ProcessSlot(context.Background(), 1, 0)
	if !errors.Is(err, ErrNoValidator) {
		t.Fatalf("expected ErrNoValidator, got %v", err)
	}
}

func TestProcessSlotBackingOff(t *testing.T) {
	tree := &fakeTree{best: types.BlockInfo{Number: 200}, finalized: types.BlockInfo{Number: 0}}
	cfg := alwaysLeaderConfig(2)
	cfgCopy := *cfg
	p := New(Config{
		Tree:          tree,
		Proposer:      &fakeProposer{},
		ConfigRepo:    &fakeConfigRepo{cfg: &cfgCopy},
		SlotsUtil:     fixedEpochSlots{epochLength: cfg.EpochLengthSlot},
		Lottery:       lottery.New(nil),
		Key:           fakeKey{idx: 0},
		SlotDuration:  cfg.SlotDurationMs,
		BackoffBlocks: 10,
	})

	_, err := p.ProcessSlot(context.Background(), 1, 0)
	if !errors.Is(err, ErrBackingOff) {
		t.Fatalf("expected ErrBackingOff, got %v", err)
	}
}

func TestProcessSlotEquivocationGuard(t *testing.T) {
	tree := &fakeTree{}
	cfg := alwaysLeaderConfig(2)
	p := newTestProducer(t, tree, cfg, fakeKey{idx: 0})

	if err := p.checkEquivocation(0, 5); err != nil {
		t.Fatalf("first claim of slot 5 should succeed: %v", err)
	}
	if err := p.checkEquivocation(0, 5); err == nil {
		t.Fatal("second claim of the same slot by the same authority must be rejected")
	}
}

func TestProcessSlotAbandonedPastOvertimeDeadline(t *testing.T) {
	tree := &fakeTree{}
	cfg := alwaysLeaderConfig(2)
	p := newTestProducer(t, tree, cfg, fakeKey{idx: 0})

	slot := uint64(1)
	// slot_finish_time(slot+K_OVERTIME) = (slot+K_OVERTIME+1)*SlotDuration;
	// pick `now` well past that absolute boundary.
	overtimeBoundary := int64((slot + kOvertime + 1) * cfg.SlotDurationMs)
	now := overtimeBoundary + int64(cfg.SlotDurationMs)

	_, err := p.ProcessSlot(context.Background(), slot, now)
	if !errors.Is(err, ErrLate) {
		t.Fatalf("expected ErrLate once now is past the overtime deadline, got %v", err)
	}
	if len(tree.added) != 0 {
		t.Fatal("a late block must not be added to the tree")
	}
}
