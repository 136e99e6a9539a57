package binding

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "binding",
		Name:      "reconcile_seconds",
		Help:      "Time spent reconciling an editor document against the CRDT tree, by direction.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"direction"})

	selfHealingDeletions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "binding",
		Name:      "self_healing_deletions_total",
		Help:      "CRDT subtrees deleted because this replica's schema rejected them during materialization.",
	})

	echoSuppressions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "binding",
		Name:      "echo_suppressions_total",
		Help:      "Translations dropped by the re-entrancy gate because one was already in progress.",
	})
)

func init() {
	prometheus.MustRegister(reconcileLatency, selfHealingDeletions, echoSuppressions)
}
