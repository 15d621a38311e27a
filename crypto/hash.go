// Package crypto provides the hashing, signature, and VRF-threshold
// primitives the consensus core needs: block/transcript hashing, pluggable
// signature verification (Ed25519 by default), and the BABE
// primary-leadership threshold.
package crypto

import (
	"golang.org/x/crypto/sha3"

	"github.com/qdrvm/kagome-sub000/types"
)

// Keccak256 hashes the concatenation of data with Keccak-256.
func Keccak256(data ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// Keccak256Hash is Keccak256 wrapped as a types.Hash.
func Keccak256Hash(data ...[]byte) types.Hash {
	return types.Hash(Keccak256(data...))
}
