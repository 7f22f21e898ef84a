// Package metrics holds the Prometheus collectors a partition registers on
// startup, grounded on adapter/metrics.go's CounterVec-per-operation style.
// Unlike the teacher's package-level init()+MustRegister, collectors are
// constructed and registered by New so a demo process can run more than one
// partition instance without a global-registry collision (§9 "Global/process
// state... treat as injected dependencies").
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of collectors one partition instance registers.
type Metrics struct {
	Verbs           *prometheus.CounterVec
	VerbLatency     *prometheus.HistogramVec
	PushOutcomes    *prometheus.CounterVec
	FinalizeRetries prometheus.Counter
	FlushLatency    prometheus.Histogram
	AssertionHalts  prometheus.Counter
}

// New constructs a Metrics set. Callers register it against a
// *prometheus.Registry (or the default registry) with Register.
func New() *Metrics {
	return &Metrics{
		Verbs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "k23si_verb_requests_total",
			Help: "Total number of verb requests handled by a partition, by verb and status",
		}, []string{"verb", "status"}),
		VerbLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "k23si_verb_latency_seconds",
			Help:    "Verb handling latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"verb"}),
		PushOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "k23si_push_outcomes_total",
			Help: "PUSH arbitration outcomes, by result",
		}, []string{"result"}),
		FinalizeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "k23si_finalize_retries_total",
			Help: "Number of finalize RPC retries due to an unreachable peer",
		}),
		FlushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "k23si_persist_flush_latency_seconds",
			Help:    "Latency of the persistence log flush durable fence",
			Buckets: prometheus.DefBuckets,
		}),
		AssertionHalts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "k23si_assertion_halts_total",
			Help: "Number of times a partition halted on a broken invariant",
		}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg *prometheus.Registry) error {
	for _, c := range []prometheus.Collector{
		m.Verbs, m.VerbLatency, m.PushOutcomes, m.FinalizeRetries, m.FlushLatency, m.AssertionHalts,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
