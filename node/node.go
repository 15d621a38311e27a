package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qdrvm/kagome-sub000/authority"
	"github.com/qdrvm/kagome-sub000/blocktree"
	"github.com/qdrvm/kagome-sub000/digest"
	"github.com/qdrvm/kagome-sub000/grandpa"
	"github.com/qdrvm/kagome-sub000/log"
	"github.com/qdrvm/kagome-sub000/lottery"
	"github.com/qdrvm/kagome-sub000/metrics"
	"github.com/qdrvm/kagome-sub000/producer"
	"github.com/qdrvm/kagome-sub000/types"
	"github.com/qdrvm/kagome-sub000/validator"
	"github.com/qdrvm/kagome-sub000/wire"
)

// simpleSlotsUtil maps (parent, slot) to an epoch number by fixed-length
// division, the relay-chain-style scheme used throughout SPEC_FULL's
// examples.
type simpleSlotsUtil struct {
	epochLength uint64
}

func (s simpleSlotsUtil) SlotToEpoch(_ types.BlockInfo, slot uint64) uint64 {
	return slot / s.epochLength
}

// Node is the top-level consensus core process: it owns the schedule graph,
// digest tracker, slot producer, and GRANDPA coordinator, and drives their
// background tickers as Services registered with a LifecycleManager.
type Node struct {
	config Config

	graph       *authority.Graph
	digests     *digest.Tracker
	lottery     *lottery.Lottery
	producer    *producer.Producer
	validator   *validator.Validator
	coordinator *grandpa.Coordinator
	metrics     *metrics.Set

	lifecycle *LifecycleManager

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New assembles a Node from its collaborators. tree and proposer are
// supplied by the embedding program since block storage, trie roots, and
// transaction selection are out of scope for the consensus core.
func New(config Config, tree blocktree.Tree, proposer blocktree.Proposer, genesis types.BlockInfo, genesisSet *types.AuthoritySet, key producer.SigningKey, configRepo interface {
	producer.ConfigRepo
	validator.ConfigRepo
}) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("node: invalid config: %w", err)
	}
	log.SetDefault(log.New(log.ParseLevel(config.LogLevel)))

	graph := authority.NewGraph(tree, genesis, genesisSet)
	digestCfg := digest.DefaultConfig()
	digestCfg.Decode = wire.DecodeGrandpaDigest
	digestTracker := digest.NewTracker(graph, digestCfg)
	slotsUtil := simpleSlotsUtil{epochLength: config.EpochLength}
	lot := lottery.New(nil)
	reg := prometheus.NewRegistry()
	metricSet := metrics.NewSet(reg, config.MetricsNamespace)

	p := producer.New(producer.Config{
		Tree:          tree,
		Proposer:      proposer,
		ConfigRepo:    configRepo,
		SlotsUtil:     slotsUtil,
		Graph:         graph,
		Lottery:       lot,
		Key:           key,
		SlotDuration:  config.SlotDuration,
		BackoffBlocks: config.BackoffBlocks,
	})

	v := validator.New(graph, configRepo, slotsUtil, nil, nil)

	coordCfg := grandpa.Config{
		Tree:          tree,
		Graph:         graph,
		RoundDuration: time.Duration(config.GrandpaRoundDuration) * time.Millisecond,
	}
	coord := grandpa.New(coordCfg, config.GenesisHash)

	return &Node{
		config:      config,
		graph:       graph,
		digests:     digestTracker,
		lottery:     lot,
		producer:    p,
		validator:   v,
		coordinator: coord,
		metrics:     metricSet,
		lifecycle:   NewLifecycleManager(DefaultLifecycleConfig()),
	}, nil
}

// Graph returns the node's authority schedule graph.
func (n *Node) Graph() *authority.Graph { return n.graph }

// Validator returns the node's header validator.
func (n *Node) Validator() *validator.Validator { return n.validator }

// Coordinator returns the node's GRANDPA coordinator.
func (n *Node) Coordinator() *grandpa.Coordinator { return n.coordinator }

// Metrics returns the node's metric set.
func (n *Node) Metrics() *metrics.Set { return n.metrics }

// Lifecycle returns the LifecycleManager driving the node's background
// services, for health-check polling by the embedding program.
func (n *Node) Lifecycle() *LifecycleManager {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lifecycle
}

// Start registers the node's two background subsystems -- the slot-
// production ticker and the GRANDPA postponed-justification drain loop --
// with a fresh LifecycleManager and brings them up through
// LifecycleManager.StartAll (the producer loop and the coordinator are
// otherwise driven by the embedding program's network and clock callers;
// Start only owns the two background tickers this package is itself
// responsible for). Priorities order the slot ticker ahead of the drain
// loop, mirroring the §4.4/§9 dependency: block production must be live
// before postponed justifications are worth retrying.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return fmt.Errorf("node: %s already running", n.config.Name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	lm := NewLifecycleManager(DefaultLifecycleConfig())
	if err := lm.Register(newTickerService("babe-slot-ticker", func() error { return n.runSlotTicker(runCtx) }), 10); err != nil {
		cancel()
		return fmt.Errorf("node: %w", err)
	}
	if err := lm.Register(newTickerService("grandpa-postponed-drain", func() error { return n.runPostponedDrain(runCtx) }), 20); err != nil {
		cancel()
		return fmt.Errorf("node: %w", err)
	}

	if errs := lm.StartAll(); len(errs) > 0 {
		cancel()
		return fmt.Errorf("node: %s failed to start: %w", n.config.Name, errors.Join(errs...))
	}

	n.cancel = cancel
	n.lifecycle = lm
	n.running = true
	log.Default().Module("node").Info("consensus core started", "name", n.config.Name)
	return nil
}

// Stop cancels the background tickers and waits for them to exit through
// LifecycleManager.StopAll.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	cancel := n.cancel
	lm := n.lifecycle
	n.running = false
	n.mu.Unlock()

	cancel()
	errs := lm.StopAll()
	log.Default().Module("node").Info("consensus core stopped", "name", n.config.Name)
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// tickerService adapts a cancellable background loop (the slot ticker, the
// postponed-drain loop) to the Service interface so LifecycleManager can
// start and stop it like any other subsystem.
type tickerService struct {
	name string
	run  func() error

	done chan error
}

func newTickerService(name string, run func() error) *tickerService {
	return &tickerService{name: name, run: run}
}

func (s *tickerService) Name() string { return s.name }

func (s *tickerService) Start() error {
	s.done = make(chan error, 1)
	go func() { s.done <- s.run() }()
	return nil
}

// Stop waits for the loop to observe its context's cancellation (the caller
// cancels that context before calling StopAll) and return.
func (s *tickerService) Stop() error {
	if s.done == nil {
		return nil
	}
	err := <-s.done
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runSlotTicker ticks once per SlotDuration, incrementing a monotonic slot
// counter from the wall clock rather than tracking missed ticks: slot
// numbers in BABE are clock-derived, not tick-counted.
func (n *Node) runSlotTicker(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(n.config.SlotDuration) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			slot := uint64(now.UnixMilli()) / n.config.SlotDuration
			produced, err := n.producer.ProcessSlot(ctx, slot, now.UnixMilli())
			if err != nil {
				log.Default().Module("babe").Debug("slot not claimed", "slot", slot, "err", err)
				n.metrics.SlotsMissed.Inc()
				continue
			}
			n.metrics.SlotsClaimed.WithLabelValues(produced.SlotType.String()).Inc()
			n.metrics.BlocksProduced.Inc()
		}
	}
}

// runPostponedDrain periodically retries GRANDPA justifications that were
// previously rejected for insufficient weight (§9 supplemented feature 4).
func (n *Node) runPostponedDrain(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(n.config.GrandpaRoundDuration) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.coordinator.DrainPostponed(ctx)
		}
	}
}
