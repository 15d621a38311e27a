// Package digest implements the digest tracker (C2): it walks a newly
// imported block's consensus digests in order and dispatches recognized
// variants to the authority schedule graph, forwarding BEEFY hints through
// a narrow observer hook.
package digest

import (
	"errors"
	"fmt"

	"github.com/qdrvm/kagome-sub000/authority"
	"github.com/qdrvm/kagome-sub000/log"
	"github.com/qdrvm/kagome-sub000/types"
)

// Digest-decoding errors. Decoding failures on a recognized engine id are
// fatal for that block's import; unrecognized variants inside a recognized
// digest are ignored.
var (
	ErrBadOrder           = errors.New("digest: digest observed out of order (BAD_ORDER_OF_DIGEST_ITEM)")
	ErrMalformedConsensus = errors.New("digest: malformed consensus digest payload")
)

// GrandpaDigestKind tags the variant of a decoded GRANDPA consensus digest.
type GrandpaDigestKind uint8

const (
	GrandpaScheduledChange GrandpaDigestKind = iota
	GrandpaForcedChange
	GrandpaOnDisabled
	GrandpaPause
	GrandpaResume
)

// GrandpaDigest is the decoded payload of a Consensus(GRPA, _) digest item.
type GrandpaDigest struct {
	Kind           GrandpaDigestKind
	NewAuthorities types.AuthorityList
	ActivateAt     uint32
	DelayStart     uint32
	Delay          uint32
	AuthorityIndex types.AuthorityIndex
}

// BeefyObserver receives forwarded BEEFY validator-set hints. No BEEFY
// voter is implemented; this is the single-method forwarding hook §4.1
// describes as "out of scope beyond forwarding".
type BeefyObserver interface {
	OnBeefyDigest(block types.BlockInfo, payload []byte)
}

// Decoder decodes a GRPA consensus-digest payload. Swappable for testing;
// production callers install the wire.DecodeGrandpaDigest function.
type Decoder func(payload []byte) (GrandpaDigest, error)

// Tracker dispatches digests to the authority schedule graph.
type Tracker struct {
	graph   *authority.Graph
	decode  Decoder
	beefy   BeefyObserver
	log     *log.Logger
	onDiskFlag bool // config: whether OnDisabled digests are honored (default: ignored)
}

// Config configures the digest tracker.
type Config struct {
	Decode         Decoder
	Beefy          BeefyObserver
	HonorOnDisabled bool // default false per §9 open question: mirror the chain's flag, default ignore
}

// DefaultConfig returns a tracker config with OnDisabled ignored, matching
// the spec's default-to-ignore guidance.
func DefaultConfig() Config {
	return Config{HonorOnDisabled: false}
}

// NewTracker creates a digest tracker bound to the given schedule graph.
func NewTracker(graph *authority.Graph, cfg Config) *Tracker {
	return &Tracker{
		graph:      graph,
		decode:     cfg.Decode,
		beefy:      cfg.Beefy,
		log:        log.Default().Module("digest"),
		onDiskFlag: cfg.HonorOnDisabled,
	}
}

// OnDigest walks block B's digest list in order and dispatches recognized
// consensus engine ids. The caller must invoke this after B is linked into
// the block tree and before any justification for B is applied.
func (t *Tracker) OnDigest(block types.BlockInfo, digest []types.DigestItem) error {
	for _, item := range digest {
		if item.Kind != types.DigestConsensus {
			continue
		}
		switch item.EngineID {
		case types.EngineBABE:
			// Epoch data is derived separately; ignored here.
		case types.EngineGRPA:
			if err := t.dispatchGrandpa(block, item.Payload); err != nil {
				return fmt.Errorf("digest: block %s: %w", block, err)
			}
		case types.EngineBEEF:
			if t.beefy != nil {
				t.beefy.OnBeefyDigest(block, item.Payload)
			}
		default:
			// Unknown engine id: ignored silently.
		}
	}
	return nil
}

func (t *Tracker) dispatchGrandpa(block types.BlockInfo, payload []byte) error {
	if t.decode == nil {
		return fmt.Errorf("%w: no decoder installed", ErrMalformedConsensus)
	}
	gd, err := t.decode(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedConsensus, err)
	}

	switch gd.Kind {
	case GrandpaScheduledChange:
		set, err := t.nextAuthoritySet(block, gd.NewAuthorities)
		if err != nil {
			return err
		}
		return t.graph.ApplyScheduledChange(block, set, gd.ActivateAt)
	case GrandpaForcedChange:
		set, err := t.nextAuthoritySet(block, gd.NewAuthorities)
		if err != nil {
			return err
		}
		return t.graph.ApplyForcedChange(block, set, gd.DelayStart, gd.Delay)
	case GrandpaOnDisabled:
		if !t.onDiskFlag {
			return nil
		}
		return t.graph.ApplyOnDisabled(block, gd.AuthorityIndex)
	case GrandpaPause:
		return t.graph.ApplyPause(block, gd.ActivateAt)
	case GrandpaResume:
		return t.graph.ApplyResume(block, gd.ActivateAt)
	default:
		// Unknown GRANDPA digest variant: ignored.
		t.log.Debug("ignoring unknown grandpa digest variant", "kind", gd.Kind)
		return nil
	}
}

// nextAuthoritySet builds the AuthoritySet a new change digest installs,
// deriving its ID from the governing ancestor set's ID rather than leaving
// it at the zero value: each authority-set-change digest along the
// finalized chain increments the set id by exactly one (§8 property 2;
// original_source's authority_manager_impl.cpp does `anc->id + 1` in both
// applyScheduledChange and applyForcedChange).
func (t *Tracker) nextAuthoritySet(block types.BlockInfo, authorities types.AuthorityList) (*types.AuthoritySet, error) {
	anc, err := t.graph.Authorities(block, false)
	if err != nil {
		return nil, fmt.Errorf("%w: looking up governing authority set: %v", ErrMalformedConsensus, err)
	}
	return &types.AuthoritySet{ID: anc.ID + 1, Authorities: authorities}, nil
}

// Cancel removes the schedule-graph edits made on behalf of a rolled-back
// block B.
func (t *Tracker) Cancel(block types.BlockInfo) error {
	return t.graph.Cancel(block)
}
