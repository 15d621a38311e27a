// Package wire implements the core's on-the-wire encodings: SCALE-style
// compact framing for GRANDPA digests and justifications, bit-exact with the
// Polkadot ecosystem's wire format (§6). The tagged-variant dispatch shape
// mirrors go-ethereum's rlp typed-transaction-envelope decoding idiom (the
// framing itself is SCALE, not RLP — no SCALE codec exists anywhere in the
// example pack, so this framing is hand-written; see DESIGN.md).
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/qdrvm/kagome-sub000/digest"
	"github.com/qdrvm/kagome-sub000/types"
)

var (
	ErrShortBuffer  = errors.New("wire: buffer too short")
	ErrBadVariant   = errors.New("wire: unknown variant tag")
	ErrTrailingData = errors.New("wire: trailing bytes after decode")
)

// PutCompactU32 appends a SCALE compact-encoded u32 to buf. The
// single-byte, two-byte, and four-byte modes are implemented, covering
// values below 2^30; the big-integer mode is not, and larger values lose
// their top two bits.
func PutCompactU32(buf []byte, v uint32) []byte {
	switch {
	case v < 1<<6:
		return append(buf, byte(v)<<2)
	case v < 1<<14:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v)<<2|0b01)
		return append(buf, b...)
	default:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v<<2|0b10)
		return append(buf, b...)
	}
}

// ReadCompactU32 decodes a SCALE compact u32 from the front of buf,
// returning the value and the remaining bytes.
func ReadCompactU32(buf []byte) (uint32, []byte, error) {
	if len(buf) == 0 {
		return 0, nil, ErrShortBuffer
	}
	mode := buf[0] & 0b11
	switch mode {
	case 0b00:
		return uint32(buf[0]) >> 2, buf[1:], nil
	case 0b01:
		if len(buf) < 2 {
			return 0, nil, ErrShortBuffer
		}
		v := binary.LittleEndian.Uint16(buf[:2])
		return uint32(v) >> 2, buf[2:], nil
	case 0b10:
		if len(buf) < 4 {
			return 0, nil, ErrShortBuffer
		}
		v := binary.LittleEndian.Uint32(buf[:4])
		return v >> 2, buf[4:], nil
	default:
		return 0, nil, fmt.Errorf("%w: big-integer compact mode unsupported", ErrBadVariant)
	}
}

// EncodeGrandpaDigest encodes a digest.GrandpaDigest as a tagged variant,
// mirroring Substrate's `ConsensusLog` enum encoding.
func EncodeGrandpaDigest(d digest.GrandpaDigest) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(d.Kind))
	switch d.Kind {
	case digest.GrandpaScheduledChange:
		writeAuthorityList(&buf, d.NewAuthorities)
		writeU32(&buf, d.ActivateAt)
	case digest.GrandpaForcedChange:
		writeU32(&buf, d.DelayStart)
		writeAuthorityList(&buf, d.NewAuthorities)
		writeU32(&buf, d.Delay)
	case digest.GrandpaOnDisabled:
		writeU32(&buf, uint32(d.AuthorityIndex))
	case digest.GrandpaPause, digest.GrandpaResume:
		writeU32(&buf, d.ActivateAt)
	}
	return buf.Bytes()
}

// DecodeGrandpaDigest decodes a Consensus(GRPA, _) payload into a
// digest.GrandpaDigest. Installed as a digest.Decoder by the node wiring.
func DecodeGrandpaDigest(payload []byte) (digest.GrandpaDigest, error) {
	if len(payload) < 1 {
		return digest.GrandpaDigest{}, ErrShortBuffer
	}
	kind := digest.GrandpaDigestKind(payload[0])
	rest := payload[1:]
	var out digest.GrandpaDigest
	out.Kind = kind

	var err error
	switch kind {
	case digest.GrandpaScheduledChange:
		out.NewAuthorities, rest, err = readAuthorityList(rest)
		if err != nil {
			return out, err
		}
		out.ActivateAt, rest, err = readU32(rest)
	case digest.GrandpaForcedChange:
		out.DelayStart, rest, err = readU32(rest)
		if err != nil {
			return out, err
		}
		out.NewAuthorities, rest, err = readAuthorityList(rest)
		if err != nil {
			return out, err
		}
		out.Delay, rest, err = readU32(rest)
	case digest.GrandpaOnDisabled:
		var idx uint32
		idx, rest, err = readU32(rest)
		out.AuthorityIndex = types.AuthorityIndex(idx)
	case digest.GrandpaPause, digest.GrandpaResume:
		out.ActivateAt, rest, err = readU32(rest)
	default:
		return out, fmt.Errorf("%w: grandpa digest kind %d", ErrBadVariant, kind)
	}
	if err != nil {
		return out, err
	}
	if len(rest) != 0 {
		return out, ErrTrailingData
	}
	return out, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readU32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, ErrShortBuffer
	}
	return binary.LittleEndian.Uint32(b[:4]), b[4:], nil
}

func writeAuthorityList(buf *bytes.Buffer, list types.AuthorityList) {
	head := PutCompactU32(nil, uint32(len(list)))
	buf.Write(head)
	for _, a := range list {
		buf.Write(a.Key[:])
		var w [8]byte
		binary.LittleEndian.PutUint64(w[:], a.Weight)
		buf.Write(w[:])
	}
}

func readAuthorityList(b []byte) (types.AuthorityList, []byte, error) {
	n, rest, err := ReadCompactU32(b)
	if err != nil {
		return nil, nil, err
	}
	out := make(types.AuthorityList, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(rest) < 40 {
			return nil, nil, ErrShortBuffer
		}
		var a types.AuthorityWeighted
		copy(a.Key[:], rest[:32])
		a.Weight = binary.LittleEndian.Uint64(rest[32:40])
		rest = rest[40:]
		out = append(out, a)
	}
	return out, rest, nil
}

// EncodeJustification encodes a GrandpaJustification's round, block, and
// precommit items per §6's wire format. VotesAncestries is not encoded.
func EncodeJustification(j types.GrandpaJustification) []byte {
	var buf bytes.Buffer
	var roundBytes [8]byte
	binary.LittleEndian.PutUint64(roundBytes[:], j.Round)
	buf.Write(roundBytes[:])
	writeU32(&buf, j.Block.Number)
	buf.Write(j.Block.Hash[:])
	buf.Write(PutCompactU32(nil, uint32(len(j.Items))))
	for _, it := range j.Items {
		writeU32(&buf, it.Target.Number)
		buf.Write(it.Target.Hash[:])
		buf.Write(it.Voter[:])
		buf.Write(it.Signature[:])
	}
	return buf.Bytes()
}
