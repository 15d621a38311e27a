// Package metrics exposes the consensus core's counters and gauges via
// prometheus/client_golang, mirroring the pack's convention of registering
// domain metrics against a shared registry rather than hand-rolling atomics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set bundles every metric the consensus core publishes.
type Set struct {
	SlotsClaimed        *prometheus.CounterVec
	SlotsMissed         prometheus.Counter
	BlocksProduced       prometheus.Counter
	RoundsCompleted      prometheus.Counter
	RoundsStarted        prometheus.Counter
	Equivocations        *prometheus.CounterVec
	SchedulePrunes        prometheus.Counter
	ScheduleGraphSize     prometheus.Gauge
	JustificationsApplied prometheus.Counter
	JustificationsPostponed prometheus.Gauge
	FinalityLag           prometheus.Gauge
	CurrentEpoch          prometheus.Gauge
	CurrentRound          prometheus.Gauge
}

// NewSet creates a metric Set and registers every metric on reg.
func NewSet(reg prometheus.Registerer, namespace string) *Set {
	s := &Set{
		SlotsClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "babe",
			Name:      "slots_claimed_total",
			Help:      "Number of slots claimed, labeled by slot_type.",
		}, []string{"slot_type"}),
		SlotsMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "babe",
			Name:      "slots_missed_total",
			Help:      "Number of slots where this node had no leadership or lost the race.",
		}),
		BlocksProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "babe",
			Name:      "blocks_produced_total",
			Help:      "Number of blocks successfully sealed and added to the tree.",
		}),
		RoundsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grandpa",
			Name:      "rounds_completed_total",
			Help:      "Number of GRANDPA rounds that reached a finalized block.",
		}),
		RoundsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grandpa",
			Name:      "rounds_started_total",
			Help:      "Number of GRANDPA rounds entered.",
		}),
		Equivocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grandpa",
			Name:      "equivocations_total",
			Help:      "Number of detected equivocations, labeled by vote kind.",
		}, []string{"vote_kind"}),
		SchedulePrunes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "schedule_prunes_total",
			Help:      "Number of schedule graph nodes pruned on finalization.",
		}),
		ScheduleGraphSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "schedule_graph_nodes",
			Help:      "Current number of nodes tracked in the schedule graph.",
		}),
		JustificationsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grandpa",
			Name:      "justifications_applied_total",
			Help:      "Number of justifications successfully applied.",
		}),
		JustificationsPostponed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "grandpa",
			Name:      "justifications_postponed",
			Help:      "Current depth of the not-enough-weight retry queue.",
		}),
		FinalityLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "grandpa",
			Name:      "finality_lag_blocks",
			Help:      "Best block number minus last finalized block number.",
		}),
		CurrentEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "babe",
			Name:      "current_epoch",
			Help:      "The epoch number this node is currently producing in.",
		}),
		CurrentRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "grandpa",
			Name:      "current_round",
			Help:      "The round number this node is currently voting in.",
		}),
	}

	reg.MustRegister(
		s.SlotsClaimed, s.SlotsMissed, s.BlocksProduced,
		s.RoundsCompleted, s.RoundsStarted, s.Equivocations,
		s.SchedulePrunes, s.ScheduleGraphSize,
		s.JustificationsApplied, s.JustificationsPostponed,
		s.FinalityLag, s.CurrentEpoch, s.CurrentRound,
	)
	return s
}
