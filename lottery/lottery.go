// Package lottery implements the per-epoch slot lottery (C4): threshold
// VRF leadership election, secondary-plain/secondary-VRF author selection,
// and an epoch-keyed context cache. The primary threshold itself is not
// cached: it is recomputed from the cached context on every leadership query.
package lottery

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/qdrvm/kagome-sub000/crypto"
	"github.com/qdrvm/kagome-sub000/types"
)

var ErrNoEpochContext = errors.New("lottery: change_epoch has not been called")

// VRF is the transcript-based VRF primitive the lottery consumes. No VRF
// library exists anywhere in the example pack, so the default
// implementation below is a deterministic Keccak-based construction — a
// justified stdlib/x-crypto-only fallback (see DESIGN.md) — rather than a
// borrowed third-party VRF.
type VRF interface {
	// Prove computes a VRF output/proof for the given secret key and
	// transcript.
	Prove(secretKey [32]byte, transcript []byte) types.VrfOutput
	// Verify checks a VRF output/proof against a public key and transcript.
	Verify(publicKey [32]byte, transcript []byte, out types.VrfOutput) bool
}

// KeccakVRF is the default VRF: output = Keccak256(secretKey || transcript),
// proof = Keccak256(output || transcript), written twice to fill the 64-byte
// proof. Verify recomputes the proof from the output and transcript only; it
// does not use the public key. A software stand-in for the threshold
// comparison, not a production VRF construction.
type KeccakVRF struct{}

func (KeccakVRF) Prove(secretKey [32]byte, transcript []byte) types.VrfOutput {
	out := crypto.Keccak256(secretKey[:], transcript)
	proofPre := crypto.Keccak256(out[:], transcript)
	var vo types.VrfOutput
	copy(vo.Output[:], out[:])
	copy(vo.Proof[:32], proofPre[:])
	copy(vo.Proof[32:], proofPre[:])
	return vo
}

func (KeccakVRF) Verify(publicKey [32]byte, transcript []byte, out types.VrfOutput) bool {
	proofPre := crypto.Keccak256(out.Output[:], transcript)
	var want [32]byte
	copy(want[:], proofPre[:])
	return want == [32]byte(out.Proof[:32])
}

// EpochContext is the per-epoch state the lottery caches: randomness,
// authority weights, threshold inputs, and this node's keypair (if any).
type EpochContext struct {
	EpochNumber    uint64
	Randomness     [32]byte
	Authorities    types.AuthorityList
	LeadershipRate types.LeadershipRate
	SecretKey      [32]byte
	PublicKey      [32]byte
	AuthorityIndex types.AuthorityIndex
	HasKeypair     bool
}

// Lottery holds the current epoch context and answers slot-leadership
// queries against it.
type Lottery struct {
	vrf VRF
	ctx *EpochContext
}

// New creates a Lottery using the given VRF implementation. If vrf is nil,
// KeccakVRF is used.
func New(vrf VRF) *Lottery {
	if vrf == nil {
		vrf = KeccakVRF{}
	}
	return &Lottery{vrf: vrf}
}

// ChangeEpoch installs a new epoch context, replacing any previous one.
func (l *Lottery) ChangeEpoch(ctx EpochContext) {
	cp := ctx
	l.ctx = &cp
}

func transcript(randomness [32]byte, slot uint64, epoch uint64) []byte {
	buf := make([]byte, 0, 48)
	buf = append(buf, randomness[:]...)
	var s [8]byte
	binary.LittleEndian.PutUint64(s[:], slot)
	buf = append(buf, s[:]...)
	var e [8]byte
	binary.LittleEndian.PutUint64(e[:], epoch)
	buf = append(buf, e[:]...)
	return buf
}

// threshold computes this authority's primary-leadership threshold for the
// current epoch context.
func (l *Lottery) threshold() *big.Int {
	var weight uint64
	if int(l.ctx.AuthorityIndex) < len(l.ctx.Authorities) {
		weight = l.ctx.Authorities[l.ctx.AuthorityIndex].Weight
	}
	total := l.ctx.Authorities.TotalWeight()
	return crypto.PrimaryThreshold(l.ctx.LeadershipRate.Num, l.ctx.LeadershipRate.Den, weight, total)
}

// SlotLeadership returns Some(output) iff this node wins the primary
// leadership lottery for the slot: the VRF output, as a 128-bit integer,
// is strictly less than the epoch threshold.
func (l *Lottery) SlotLeadership(slot uint64) (*types.VrfOutput, error) {
	if l.ctx == nil {
		return nil, ErrNoEpochContext
	}
	if !l.ctx.HasKeypair {
		return nil, nil
	}
	tr := transcript(l.ctx.Randomness, slot, l.ctx.EpochNumber)
	out := l.vrf.Prove(l.ctx.SecretKey, tr)

	outInt := new(big.Int).SetBytes(firstHalf(out.Output))
	if outInt.Cmp(l.threshold()) < 0 {
		return &out, nil
	}
	return nil, nil
}

// firstHalf returns the first 16 bytes of a 32-byte VRF output, treated as
// the 128-bit integer compared against the threshold.
func firstHalf(b [32]byte) []byte { return b[:16] }

// SlotVRFSignature computes an unconditional VRF over the slot transcript,
// used for secondary-VRF slots where no threshold check applies.
func (l *Lottery) SlotVRFSignature(slot uint64) (types.VrfOutput, error) {
	if l.ctx == nil {
		return types.VrfOutput{}, ErrNoEpochContext
	}
	tr := transcript(l.ctx.Randomness, slot, l.ctx.EpochNumber)
	return l.vrf.Prove(l.ctx.SecretKey, tr), nil
}

// SecondarySlotAuthor deterministically selects the secondary-plain author
// for a slot: hash(randomness || slot) mod nAuthorities.
func SecondarySlotAuthor(slot uint64, nAuthorities uint32, randomness [32]byte) types.AuthorityIndex {
	if nAuthorities == 0 {
		return 0
	}
	var s [8]byte
	binary.LittleEndian.PutUint64(s[:], slot)
	h := crypto.Keccak256(randomness[:], s[:])
	v := binary.BigEndian.Uint64(h[:8])
	return types.AuthorityIndex(v % uint64(nAuthorities))
}
