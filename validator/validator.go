// Package validator implements the block validator / header verifier (C6):
// checks a slot claim, VRF, seal signature, and epoch/authority match for
// an incoming header.
package validator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/qdrvm/kagome-sub000/authority"
	"github.com/qdrvm/kagome-sub000/crypto"
	"github.com/qdrvm/kagome-sub000/lottery"
	"github.com/qdrvm/kagome-sub000/types"
)

// Validator error kinds, matching §7's table.
var (
	ErrInvalidSeal       = errors.New("validator: seal signature verification failed")
	ErrInvalidVRF        = errors.New("validator: VRF verification failed")
	ErrInvalidSignature  = errors.New("validator: signature verification failed")
	ErrTwoBlocksInSlot   = errors.New("validator: authority equivocation (two blocks in slot)")
	ErrSecondaryDisabled = errors.New("validator: secondary slot claim but epoch config forbids it")
	ErrMissingConfig     = errors.New("validator: epoch config unavailable")
	ErrNoSealDigest      = errors.New("validator: header is missing a seal digest")
	ErrNoSlotClaim       = errors.New("validator: header is missing a pre-runtime slot claim")
)

// ConfigRepo resolves the epoch descriptor governing a (parent, epoch) pair.
type ConfigRepo interface {
	Config(ctx context.Context, parent types.BlockInfo, epoch uint64) (*types.EpochDescriptor, error)
}

// SlotsUtil maps a (parent, slot) pair to its epoch number.
type SlotsUtil interface {
	SlotToEpoch(parent types.BlockInfo, slot uint64) uint64
}

// Validator verifies incoming headers against the slot-lottery and
// authority-set rules.
type Validator struct {
	graph      *authority.Graph
	configRepo ConfigRepo
	slotsUtil  SlotsUtil
	vrf        lottery.VRF
	sign       crypto.SignBackend

	mu   sync.Mutex
	seen map[types.AuthorityIndex]map[uint64]types.Hash // equivocation guard, keyed by authority and slot across all branches
}

// New creates a Validator. If vrf or sign are nil, their package defaults
// are used.
func New(graph *authority.Graph, configRepo ConfigRepo, slotsUtil SlotsUtil, vrf lottery.VRF, sign crypto.SignBackend) *Validator {
	if vrf == nil {
		vrf = lottery.KeccakVRF{}
	}
	if sign == nil {
		sign = crypto.DefaultSignBackend()
	}
	return &Validator{
		graph:      graph,
		configRepo: configRepo,
		slotsUtil:  slotsUtil,
		vrf:        vrf,
		sign:       sign,
		seen:       make(map[types.AuthorityIndex]map[uint64]types.Hash),
	}
}

func extractPreRuntime(h types.BlockHeader) (types.EngineID, []byte, bool) {
	for _, d := range h.Digest {
		if d.Kind == types.DigestPreRuntime {
			return d.EngineID, d.Payload, true
		}
	}
	return types.EngineID{}, nil, false
}

func extractSeal(h types.BlockHeader) ([]byte, bool) {
	for i := len(h.Digest) - 1; i >= 0; i-- {
		if h.Digest[i].Kind == types.DigestSeal {
			return h.Digest[i].Payload, true
		}
	}
	return nil, false
}

// stripSeal returns the header's digest list without the trailing seal
// item, used to recompute the pre-seal hash the seal signs over.
func stripSeal(h types.BlockHeader) types.BlockHeader {
	out := h
	filtered := make([]types.DigestItem, 0, len(h.Digest))
	for _, d := range h.Digest {
		if d.Kind == types.DigestSeal {
			continue
		}
		filtered = append(filtered, d)
	}
	out.Digest = filtered
	return out
}

func preSealHash(h types.BlockHeader) types.Hash {
	return crypto.Keccak256Hash(h.StateRoot[:], h.ExtrinsicsRoot[:])
}

// ValidateHeader implements the §4.5 algorithm.
func (v *Validator) ValidateHeader(ctx context.Context, parent types.BlockInfo, h types.BlockHeader, claim types.SlotClaim) error {
	epoch := v.slotsUtil.SlotToEpoch(parent, claim.SlotNumber)
	cfg, err := v.configRepo.Config(ctx, parent, epoch)
	if err != nil || cfg == nil {
		return ErrMissingConfig
	}

	switch claim.SlotType {
	case types.SlotSecondaryPlain:
		if cfg.AllowedSlots != types.AllowedPrimaryAndSecondaryPlain && cfg.AllowedSlots != types.AllowedPrimaryAndSecondaryVRF {
			return ErrSecondaryDisabled
		}
	case types.SlotSecondaryVRF:
		if cfg.AllowedSlots != types.AllowedPrimaryAndSecondaryVRF {
			return ErrSecondaryDisabled
		}
	}

	if int(claim.AuthorityIndex) >= len(cfg.Authorities) {
		return fmt.Errorf("%w: authority index %d out of range", ErrInvalidSignature, claim.AuthorityIndex)
	}
	authorityKey := cfg.Authorities[claim.AuthorityIndex].Key

	sealBytes, ok := extractSeal(h)
	if !ok || len(sealBytes) != 64 {
		return ErrNoSealDigest
	}
	var sig [64]byte
	copy(sig[:], sealBytes)

	unsealed := stripSeal(h)
	hash := preSealHash(unsealed)
	if !v.sign.Verify(authorityKey, hash[:], sig) {
		return ErrInvalidSeal
	}

	if claim.SlotType == types.SlotPrimary || claim.SlotType == types.SlotSecondaryVRF {
		if claim.VrfOutput == nil {
			return ErrInvalidVRF
		}
		tr := vrfTranscript(cfg.Randomness, claim.SlotNumber, epoch)
		if !v.vrf.Verify(authorityKey, tr, *claim.VrfOutput) {
			return ErrInvalidVRF
		}
		if claim.SlotType == types.SlotPrimary {
			weight := cfg.Authorities[claim.AuthorityIndex].Weight
			total := cfg.Authorities.TotalWeight()
			threshold := crypto.PrimaryThreshold(cfg.LeadershipRate.Num, cfg.LeadershipRate.Den, weight, total)
			outInt := beInt128(claim.VrfOutput.Output)
			if outInt.Cmp(threshold) >= 0 {
				return ErrInvalidVRF
			}
		}
	}

	return v.checkTwoBlocksInSlot(claim.AuthorityIndex, claim.SlotNumber, hash)
}

func (v *Validator) checkTwoBlocksInSlot(idx types.AuthorityIndex, slot uint64, hash types.Hash) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	m, ok := v.seen[idx]
	if !ok {
		m = make(map[uint64]types.Hash)
		v.seen[idx] = m
	}
	if prior, dup := m[slot]; dup && prior != hash {
		return ErrTwoBlocksInSlot
	}
	m[slot] = hash
	return nil
}

// beInt128 interprets the first 16 bytes of a VRF output as a big-endian
// 128-bit integer, matching §9's threshold comparison.
func beInt128(out [32]byte) *big.Int {
	return new(big.Int).SetBytes(out[:16])
}

func vrfTranscript(randomness [32]byte, slot uint64, epoch uint64) []byte {
	buf := make([]byte, 0, 48)
	buf = append(buf, randomness[:]...)
	var s [8]byte
	for i := 0; i < 8; i++ {
		s[i] = byte(slot >> (8 * i))
	}
	buf = append(buf, s[:]...)
	var e [8]byte
	for i := 0; i < 8; i++ {
		e[i] = byte(epoch >> (8 * i))
	}
	buf = append(buf, e[:]...)
	return buf
}
