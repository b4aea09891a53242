package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EconomyMetrics aggregates the counters and gauges tracking token-economy
// activity: job scheduling, fee burns, and governance outcomes.
type EconomyMetrics struct {
	JobsSubmitted      prometheus.Counter
	JobsProcessed      *prometheus.CounterVec
	JobDuration        prometheus.Histogram
	QueueDepth         prometheus.Gauge
	FeesCollected      prometheus.Counter
	TokensBurned       prometheus.Counter
	ProposalsFinalized *prometheus.CounterVec
}

var (
	economyOnce     sync.Once
	economyRegistry *EconomyMetrics
)

// Economy returns the lazily-initialised economy metrics registry.
func Economy() *EconomyMetrics {
	economyOnce.Do(func() {
		economyRegistry = &EconomyMetrics{
			JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "anima",
				Subsystem: "scheduler",
				Name:      "jobs_submitted_total",
				Help:      "Total production jobs accepted into the priority queue.",
			}),
			JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "anima",
				Subsystem: "scheduler",
				Name:      "jobs_processed_total",
				Help:      "Total dequeued jobs segmented by terminal status.",
			}, []string{"status"}),
			JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "anima",
				Subsystem: "scheduler",
				Name:      "job_duration_seconds",
				Help:      "Latency distribution for production executor runs.",
				Buckets:   prometheus.DefBuckets,
			}),
			QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "anima",
				Subsystem: "scheduler",
				Name:      "queue_depth",
				Help:      "Number of jobs currently waiting in the priority queue.",
			}),
			FeesCollected: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "anima",
				Subsystem: "ledger",
				Name:      "fees_collected_tokens_total",
				Help:      "Cumulative usage fees collected, in whole ANM.",
			}),
			TokensBurned: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "anima",
				Subsystem: "ledger",
				Name:      "burned_tokens_total",
				Help:      "Cumulative ANM removed from circulating supply.",
			}),
			ProposalsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "anima",
				Subsystem: "governance",
				Name:      "proposals_finalized_total",
				Help:      "Governance proposals resolved, segmented by outcome.",
			}, []string{"status"}),
		}
		prometheus.MustRegister(
			economyRegistry.JobsSubmitted,
			economyRegistry.JobsProcessed,
			economyRegistry.JobDuration,
			economyRegistry.QueueDepth,
			economyRegistry.FeesCollected,
			economyRegistry.TokensBurned,
			economyRegistry.ProposalsFinalized,
		)
	})
	return economyRegistry
}
