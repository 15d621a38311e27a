package digest

import (
	"context"
	"testing"

	"github.com/qdrvm/kagome-sub000/authority"
	"github.com/qdrvm/kagome-sub000/types"
)

// linearTree is a minimal blocktree.Reader fake, mirroring
// authority.linearTree: a single canonical chain indexed by number.
type linearTree struct {
	byNumber map[uint32]types.Hash
}

func newLinearTree(n uint32) *linearTree {
	lt := &linearTree{byNumber: make(map[uint32]types.Hash)}
	for i := uint32(0); i <= n; i++ {
		lt.byNumber[i] = types.BytesToHash([]byte{byte(i)})
	}
	return lt
}

func (lt *linearTree) blockAt(n uint32) types.BlockInfo {
	return types.BlockInfo{Number: n, Hash: lt.byNumber[n]}
}

func (lt *linearTree) Header(ctx context.Context, hash types.Hash) (types.BlockHeader, error) {
	return types.BlockHeader{}, nil
}

func (lt *linearTree) HashAt(ctx context.Context, number uint32) (types.Hash, bool, error) {
	h, ok := lt.byNumber[number]
	return h, ok, nil
}

func (lt *linearTree) BestBlock(ctx context.Context) (types.BlockInfo, error) {
	return types.BlockInfo{}, nil
}

func (lt *linearTree) LastFinalized(ctx context.Context) (types.BlockInfo, error) {
	return types.BlockInfo{}, nil
}

func (lt *linearTree) Leaves(ctx context.Context) ([]types.Hash, error) { return nil, nil }

func (lt *linearTree) HasDirectChain(ctx context.Context, anc, desc types.BlockInfo) (bool, error) {
	if anc.Number > desc.Number {
		return false, nil
	}
	ancHash, ok := lt.byNumber[anc.Number]
	if !ok || ancHash != anc.Hash {
		return false, nil
	}
	return true, nil
}

func authorityList(n int) types.AuthorityList {
	out := make(types.AuthorityList, n)
	for i := range out {
		var k types.PublicKey
		k[0] = byte(i + 1)
		out[i] = types.AuthorityWeighted{Key: k, Weight: 1}
	}
	return out
}

func fakeDecoder(gd GrandpaDigest) Decoder {
	return func(payload []byte) (GrandpaDigest, error) { return gd, nil }
}

func grandpaDigestItem() types.DigestItem {
	return types.DigestItem{Kind: types.DigestConsensus, EngineID: types.EngineGRPA}
}

func TestOnDigestScheduledChangeDerivesIncrementedID(t *testing.T) {
	tree := newLinearTree(20)
	genesis := tree.blockAt(0)
	genesisSet := &types.AuthoritySet{ID: 7, Authorities: authorityList(3)}
	graph := authority.NewGraph(tree, genesis, genesisSet)

	gd := GrandpaDigest{Kind: GrandpaScheduledChange, NewAuthorities: authorityList(4), ActivateAt: 15}
	tr := NewTracker(graph, Config{Decode: fakeDecoder(gd)})

	at10 := tree.blockAt(10)
	if err := tr.OnDigest(at10, []types.DigestItem{grandpaDigestItem()}); err != nil {
		t.Fatalf("OnDigest: %v", err)
	}

	got, err := graph.Authorities(tree.blockAt(15), true)
	if err != nil {
		t.Fatalf("Authorities(#15): %v", err)
	}
	if got.ID != genesisSet.ID+1 {
		t.Fatalf("expected activated set id %d (genesis id + 1), got %d", genesisSet.ID+1, got.ID)
	}
}

func TestOnDigestForcedChangeDerivesIncrementedID(t *testing.T) {
	tree := newLinearTree(40)
	genesis := tree.blockAt(0)
	genesisSet := &types.AuthoritySet{ID: 3, Authorities: authorityList(3)}
	graph := authority.NewGraph(tree, genesis, genesisSet)

	gd := GrandpaDigest{Kind: GrandpaForcedChange, NewAuthorities: authorityList(5), DelayStart: 22, Delay: 5}
	tr := NewTracker(graph, Config{Decode: fakeDecoder(gd)})

	at25 := tree.blockAt(25)
	if err := tr.OnDigest(at25, []types.DigestItem{grandpaDigestItem()}); err != nil {
		t.Fatalf("OnDigest: %v", err)
	}

	got, err := graph.Authorities(tree.blockAt(27), true)
	if err != nil {
		t.Fatalf("Authorities(#27): %v", err)
	}
	if got.ID != genesisSet.ID+1 {
		t.Fatalf("expected activated set id %d (genesis id + 1), got %d", genesisSet.ID+1, got.ID)
	}
}

func TestOnDigestOnDisabledDefaultIgnored(t *testing.T) {
	tree := newLinearTree(5)
	genesis := tree.blockAt(0)
	genesisSet := &types.AuthoritySet{ID: 0, Authorities: authorityList(2)}
	graph := authority.NewGraph(tree, genesis, genesisSet)

	gd := GrandpaDigest{Kind: GrandpaOnDisabled, AuthorityIndex: 0}
	tr := NewTracker(graph, DefaultConfig())
	tr.decode = fakeDecoder(gd)

	at2 := tree.blockAt(2)
	if err := tr.OnDigest(at2, []types.DigestItem{grandpaDigestItem()}); err != nil {
		t.Fatalf("OnDigest: %v", err)
	}

	got, err := graph.Authorities(tree.blockAt(3), true)
	if err != nil {
		t.Fatalf("Authorities(#3): %v", err)
	}
	if got.Authorities[0].Weight == 0 {
		t.Fatal("expected OnDisabled to be ignored by default, authority 0 should retain its weight")
	}
}
