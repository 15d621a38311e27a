// Package types defines the core data model of the consensus core: block
// identities, headers, consensus digests, authority sets, and the
// epoch/voter descriptors shared by the slot-lottery and GRANDPA engines.
package types

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const HashLength = 32

// Hash is the 32-byte block hash.
type Hash [HashLength]byte

// BytesToHash converts bytes to a Hash, left-padding if shorter than 32 bytes.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// HexToHash decodes a 0x-prefixed hex string into a Hash.
func HexToHash(s string) Hash {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Hash{}
	}
	return BytesToHash(b)
}

// Bytes returns the byte slice backing the hash.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the 0x-prefixed hex string representation.
func (h Hash) Hex() string { return hexutil.Encode(h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// IsZero reports whether the hash is all zero bytes.
func (h Hash) IsZero() bool { return h == Hash{} }

// BlockInfo identifies a block by number and hash. Ordering is by number
// then hash, matching the schedule-graph and vote-graph ordering rules.
type BlockInfo struct {
	Number uint32
	Hash   Hash
}

// Less orders BlockInfo by number then hash.
func (b BlockInfo) Less(o BlockInfo) bool {
	if b.Number != o.Number {
		return b.Number < o.Number
	}
	return bytes.Compare(b.Hash[:], o.Hash[:]) < 0
}

// Equal reports whether two BlockInfo values refer to the same block.
func (b BlockInfo) Equal(o BlockInfo) bool {
	return b.Number == o.Number && b.Hash == o.Hash
}

// String implements fmt.Stringer.
func (b BlockInfo) String() string {
	return fmt.Sprintf("#%d(%s)", b.Number, b.Hash.Hex())
}

// EngineID is the 4-byte consensus-engine tag on a DigestItem.
type EngineID [4]byte

var (
	EngineBABE = EngineID{'B', 'A', 'B', 'E'}
	EngineGRPA = EngineID{'F', 'R', 'N', 'K'} // GRANDPA ("FRNK" in the Polkadot wire format)
	EngineSASS = EngineID{'S', 'A', 'S', 'S'}
	EngineBEEF = EngineID{'B', 'E', 'E', 'F'}
)

// DigestItemKind tags the variant of a DigestItem.
type DigestItemKind uint8

const (
	DigestPreRuntime DigestItemKind = iota
	DigestConsensus
	DigestSeal
	DigestOther
)

// DigestItem is a tagged entry in a block header's digest list.
type DigestItem struct {
	Kind     DigestItemKind
	EngineID EngineID // zero for DigestOther
	Payload  []byte
}

// BlockHeader is the portion of a block header the consensus core reads.
type BlockHeader struct {
	ParentHash     Hash
	Number         uint32
	StateRoot      Hash
	ExtrinsicsRoot Hash
	Digest         []DigestItem
}

// Info extracts the (number, hash) pair for this header, given its hash
// (headers do not self-hash in this package; the block tree is the source
// of truth for hashing).
func (h BlockHeader) Info(hash Hash) BlockInfo {
	return BlockInfo{Number: h.Number, Hash: hash}
}

// SlotType enumerates the kind of slot claim carried in a pre-runtime digest.
type SlotType uint8

const (
	SlotPrimary SlotType = iota
	SlotSecondaryPlain
	SlotSecondaryVRF
)

func (t SlotType) String() string {
	switch t {
	case SlotPrimary:
		return "primary"
	case SlotSecondaryPlain:
		return "secondary-plain"
	case SlotSecondaryVRF:
		return "secondary-vrf"
	default:
		return "unknown"
	}
}

// VrfOutput is a VRF output/proof pair, as produced by the slot lottery.
type VrfOutput struct {
	Output [32]byte
	Proof  [64]byte
}

// AuthorityIndex is the position of an authority within an AuthorityList.
type AuthorityIndex uint32

// SlotClaim is the pre-runtime digest payload identifying the slot leader.
type SlotClaim struct {
	AuthorityIndex AuthorityIndex
	SlotNumber     uint64
	SlotType       SlotType
	VrfOutput      *VrfOutput // nil unless SlotType requires a VRF
}

// Seal is the signature digest appended to a produced header.
type Seal struct {
	Signature [64]byte
}

// PublicKey is an authority's Sr25519/Ed25519-style public key.
type PublicKey [32]byte

func (p PublicKey) Hex() string { return hexutil.Encode(p[:]) }

// AuthorityWeighted pairs a public key with its voting/authoring weight.
// A weight of 0 marks the authority disabled.
type AuthorityWeighted struct {
	Key    PublicKey
	Weight uint64
}

// AuthorityList is an ordered list of weighted authorities.
type AuthorityList []AuthorityWeighted

// TotalWeight sums the weight of all (including disabled) authorities.
func (l AuthorityList) TotalWeight() uint64 {
	var total uint64
	for _, a := range l {
		total += a.Weight
	}
	return total
}

// Clone returns an independent copy of the list.
func (l AuthorityList) Clone() AuthorityList {
	out := make(AuthorityList, len(l))
	copy(out, l)
	return out
}

// ZeroWeighted returns a copy of the list with every weight set to zero,
// used when a schedule-graph node is in a Pause window.
func (l AuthorityList) ZeroWeighted() AuthorityList {
	out := make(AuthorityList, len(l))
	for i, a := range l {
		out[i] = AuthorityWeighted{Key: a.Key, Weight: 0}
	}
	return out
}

// AuthoritySet is a versioned, weighted authority list.
type AuthoritySet struct {
	ID          uint64
	Authorities AuthorityList
}

// Clone returns a deep copy of the authority set.
func (s *AuthoritySet) Clone() *AuthoritySet {
	if s == nil {
		return nil
	}
	return &AuthoritySet{ID: s.ID, Authorities: s.Authorities.Clone()}
}

// AllowedSlots constrains which slot types an epoch's authorities may claim.
type AllowedSlots uint8

const (
	AllowedPrimaryOnly AllowedSlots = iota
	AllowedPrimaryAndSecondaryPlain
	AllowedPrimaryAndSecondaryVRF
)

// LeadershipRate is the BABE primary-leadership probability c = num/den.
type LeadershipRate struct {
	Num uint64
	Den uint64
}

// EpochDescriptor is the immutable-once-finalized configuration of one epoch.
type EpochDescriptor struct {
	EpochNumber     uint64
	SlotDurationMs  uint64
	EpochLengthSlot uint64
	Randomness      [32]byte
	Authorities     AuthorityList
	AllowedSlots    AllowedSlots
	LeadershipRate  LeadershipRate
}

// Clone returns a deep copy of the descriptor.
func (e *EpochDescriptor) Clone() *EpochDescriptor {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Authorities = e.Authorities.Clone()
	return &cp
}
