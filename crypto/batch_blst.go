//go:build blst

// Batch-verification optimization for GRANDPA precommit signatures, using
// the supranational/blst library's aggregate-verify path. This is not part
// of the core's correctness contract (plain per-signer Verify always
// suffices); it is the permitted batching optimization: accumulated
// signatures from one round are aggregate-verified in one pairing check,
// falling back to one-by-one verification on batch failure.
//
// Build with: go build -tags blst
package crypto

import (
	blst "github.com/supranational/blst/bindings/go"
)

var batchDST = []byte("CONSENSUS_BATCH_BLS12381G2_XMD:SHA-256_SSWU_RO_")

// BatchVerifier aggregate-verifies a batch of (pubkey, msg, sig) BLS12-381
// triples in one pairing check.
type BatchVerifier struct{}

// VerifyBatch returns true iff every signature in the batch is valid. On a
// false result the caller must fall back to verifying signatures one by one
// to attribute the failure to a specific signer.
func (BatchVerifier) VerifyBatch(pubkeys, msgs [][]byte, sigs [][]byte) bool {
	n := len(pubkeys)
	if n == 0 || n != len(msgs) || n != len(sigs) {
		return false
	}
	pks := make([]*blst.P1Affine, n)
	ss := make([]*blst.P2Affine, n)
	blstMsgs := make([]blst.Message, n)
	for i := range pubkeys {
		pks[i] = new(blst.P1Affine).Uncompress(pubkeys[i])
		if pks[i] == nil {
			return false
		}
		ss[i] = new(blst.P2Affine).Uncompress(sigs[i])
		if ss[i] == nil {
			return false
		}
		blstMsgs[i] = msgs[i]
	}
	agg := new(blst.P2Aggregate)
	if !agg.Aggregate(ss, true) {
		return false
	}
	combined := agg.ToAffine()
	return combined.AggregateVerify(true, pks, true, blstMsgs, batchDST)
}
