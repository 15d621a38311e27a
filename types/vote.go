package types

import "fmt"

// VoterID identifies a GRANDPA voter by public key.
type VoterID = PublicKey

// VoterSet is an indexed, insertion-order-preserving mapping from voter id
// to (index, weight). It is immutable once constructed.
type VoterSet struct {
	order   []VoterID
	index   map[VoterID]int
	weight  map[VoterID]uint64
	total   uint64
	thresh  uint64
}

// NewVoterSet builds a VoterSet from a weighted authority list, preserving
// list order as insertion order. Zero-weight authorities are still indexed
// (so vote indices remain stable) but contribute nothing to totals.
func NewVoterSet(authorities AuthorityList) *VoterSet {
	vs := &VoterSet{
		order:  make([]VoterID, 0, len(authorities)),
		index:  make(map[VoterID]int, len(authorities)),
		weight: make(map[VoterID]uint64, len(authorities)),
	}
	for _, a := range authorities {
		vs.index[a.Key] = len(vs.order)
		vs.order = append(vs.order, a.Key)
		vs.weight[a.Key] = a.Weight
		vs.total += a.Weight
	}
	if vs.total > 0 {
		vs.thresh = vs.total - (vs.total-1)/3
	}
	return vs
}

// Len returns the number of voters (including zero-weight ones).
func (vs *VoterSet) Len() int { return len(vs.order) }

// TotalWeight returns the sum of all voter weights.
func (vs *VoterSet) TotalWeight() uint64 { return vs.total }

// Threshold returns the supermajority threshold: total - floor((total-1)/3).
func (vs *VoterSet) Threshold() uint64 { return vs.thresh }

// IndexOf returns the voter's position and whether it is a member.
func (vs *VoterSet) IndexOf(id VoterID) (int, bool) {
	i, ok := vs.index[id]
	return i, ok
}

// WeightOf returns the voter's weight, or 0 if not a member.
func (vs *VoterSet) WeightOf(id VoterID) uint64 { return vs.weight[id] }

// ByIndex returns the voter at position i, or false if i is outside
// [0, Len()). It does not reduce i modulo Len().
func (vs *VoterSet) ByIndex(i int) (VoterID, bool) {
	if i < 0 || i >= len(vs.order) {
		return VoterID{}, false
	}
	return vs.order[i], true
}

// VoteKind distinguishes the role a signed vote plays in a GRANDPA round.
type VoteKind uint8

const (
	VotePrimaryPropose VoteKind = iota
	VotePrevote
	VotePrecommit
)

func (k VoteKind) String() string {
	switch k {
	case VotePrimaryPropose:
		return "primary-propose"
	case VotePrevote:
		return "prevote"
	case VotePrecommit:
		return "precommit"
	default:
		return "unknown"
	}
}

// SignedVote is a single vote signed by a voter for one target block.
type SignedVote struct {
	Kind      VoteKind
	Target    BlockInfo
	Voter     VoterID
	Signature [64]byte
}

// VoteMessage is the wire envelope for a gossiped vote.
type VoteMessage struct {
	Round uint64
	SetID uint64
	Vote  SignedVote
}

// VoteWeight accumulates, per vote-graph node, the weight of voters whose
// vote target is that node or a descendant of it.
type VoteWeight struct {
	PrevoteWeight    uint64
	PrecommitWeight  uint64
	PrevoteVoters    map[VoterID]struct{}
	PrecommitVoters  map[VoterID]struct{}
}

func newVoteWeight() *VoteWeight {
	return &VoteWeight{
		PrevoteVoters:   make(map[VoterID]struct{}),
		PrecommitVoters: make(map[VoterID]struct{}),
	}
}

// GrandpaJustification bundles the precommits proving supermajority for a
// target block in a specific round, plus the headers needed to verify vote
// ancestry against the block tree.
type GrandpaJustification struct {
	Round           uint64
	Block           BlockInfo
	Items           []SignedVote // all VotePrecommit
	VotesAncestries []BlockHeader
}

func (j GrandpaJustification) String() string {
	return fmt.Sprintf("justification(round=%d, block=%s, items=%d)", j.Round, j.Block, len(j.Items))
}
