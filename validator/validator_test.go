package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrvm/kagome-sub000/crypto"
	"github.com/qdrvm/kagome-sub000/lottery"
	"github.com/qdrvm/kagome-sub000/types"
)

type fixedConfigRepo struct{ cfg *types.EpochDescriptor }

func (r fixedConfigRepo) Config(ctx context.Context, parent types.BlockInfo, epoch uint64) (*types.EpochDescriptor, error) {
	return r.cfg, nil
}

type fixedSlotsUtil struct{ epochLength uint64 }

func (s fixedSlotsUtil) SlotToEpoch(parent types.BlockInfo, slot uint64) uint64 {
	return slot / s.epochLength
}

func TestValidateHeaderRejectsBadSeal(t *testing.T) {
	auths := types.AuthorityList{{Weight: 1}}
	cfg := &types.EpochDescriptor{
		EpochNumber:     0,
		EpochLengthSlot: 10,
		Authorities:     auths,
		AllowedSlots:    types.AllowedPrimaryAndSecondaryPlain,
	}
	v := New(nil, fixedConfigRepo{cfg: cfg}, fixedSlotsUtil{epochLength: 10}, lottery.KeccakVRF{}, crypto.DefaultSignBackend())

	h := types.BlockHeader{
		Number: 1,
		Digest: []types.DigestItem{
			{Kind: types.DigestPreRuntime, EngineID: types.EngineBABE},
			{Kind: types.DigestSeal, EngineID: types.EngineBABE, Payload: make([]byte, 64)},
		},
	}
	claim := types.SlotClaim{AuthorityIndex: 0, SlotNumber: 1, SlotType: types.SlotSecondaryPlain}

	err := v.ValidateHeader(context.Background(), types.BlockInfo{}, h, claim)
	if !errors.Is(err, ErrInvalidSeal) {
		t.Fatalf("expected ErrInvalidSeal for a zeroed signature, got %v", err)
	}
}

func TestValidateHeaderMissingSeal(t *testing.T) {
	auths := types.AuthorityList{{Weight: 1}}
	cfg := &types.EpochDescriptor{EpochLengthSlot: 10, Authorities: auths, AllowedSlots: types.AllowedPrimaryAndSecondaryPlain}
	v := New(nil, fixedConfigRepo{cfg: cfg}, fixedSlotsUtil{epochLength: 10}, nil, nil)

	h := types.BlockHeader{Number: 1, Digest: []types.DigestItem{{Kind: types.DigestPreRuntime, EngineID: types.EngineBABE}}}
	claim := types.SlotClaim{AuthorityIndex: 0, SlotNumber: 1, SlotType: types.SlotSecondaryPlain}

	err := v.ValidateHeader(context.Background(), types.BlockInfo{}, h, claim)
	if !errors.Is(err, ErrNoSealDigest) {
		t.Fatalf("expected ErrNoSealDigest, got %v", err)
	}
}

func TestValidateHeaderSecondaryDisabled(t *testing.T) {
	auths := types.AuthorityList{{Weight: 1}}
	cfg := &types.EpochDescriptor{EpochLengthSlot: 10, Authorities: auths, AllowedSlots: types.AllowedPrimaryOnly}
	v := New(nil, fixedConfigRepo{cfg: cfg}, fixedSlotsUtil{epochLength: 10}, nil, nil)

	h := types.BlockHeader{Number: 1, Digest: []types.DigestItem{
		{Kind: types.DigestPreRuntime, EngineID: types.EngineBABE},
		{Kind: types.DigestSeal, EngineID: types.EngineBABE, Payload: make([]byte, 64)},
	}}
	claim := types.SlotClaim{AuthorityIndex: 0, SlotNumber: 1, SlotType: types.SlotSecondaryPlain}

	err := v.ValidateHeader(context.Background(), types.BlockInfo{}, h, claim)
	if !errors.Is(err, ErrSecondaryDisabled) {
		t.Fatalf("expected ErrSecondaryDisabled, got %v", err)
	}
}

func TestValidateHeaderMissingConfig(t *testing.T) {
	v := New(nil, fixedConfigRepo{cfg: nil}, fixedSlotsUtil{epochLength: 10}, nil, nil)
	claim := types.SlotClaim{AuthorityIndex: 0, SlotNumber: 1, SlotType: types.SlotSecondaryPlain}
	err := v.ValidateHeader(context.Background(), types.BlockInfo{}, types.BlockHeader{}, claim)
	if !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("expected ErrMissingConfig, got %v", err)
	}
}

func TestTwoBlocksInSlotRejected(t *testing.T) {
	auths := types.AuthorityList{{Weight: 1}}
	cfg := &types.EpochDescriptor{EpochLengthSlot: 10, Authorities: auths, AllowedSlots: types.AllowedPrimaryOnly}
	v := New(nil, fixedConfigRepo{cfg: cfg}, fixedSlotsUtil{epochLength: 10}, nil, nil)

	h1 := crypto.Keccak256Hash([]byte("a"))
	h2 := crypto.Keccak256Hash([]byte("b"))

	if err := v.checkTwoBlocksInSlot(0, 5, h1); err != nil {
		t.Fatalf("first header in slot should be accepted: %v", err)
	}
	if err := v.checkTwoBlocksInSlot(0, 5, h1); err != nil {
		t.Fatalf("re-seeing the same header in the same slot should be accepted: %v", err)
	}
	if err := v.checkTwoBlocksInSlot(0, 5, h2); !errors.Is(err, ErrTwoBlocksInSlot) {
		t.Fatalf("expected ErrTwoBlocksInSlot for a second distinct header, got %v", err)
	}
}
