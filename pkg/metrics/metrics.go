package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HeadHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sidekick_head_height",
		Help: "The local chain height observed at the start of the last iteration",
	})

	LastCheckpoint = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sidekick_last_checkpoint_height",
		Help: "Height of the most recently attested checkpoint",
	})

	CheckpointsAttested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidekick_checkpoints_attested_total",
		Help: "Total number of checkpoints attested by the oracle",
	})

	CheckpointsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidekick_checkpoints_rejected_total",
		Help: "Total number of checkpoints the oracle did not attest",
	})

	CheckpointsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidekick_checkpoints_skipped_total",
		Help: "Total number of checkpoints skipped for lack of history",
	})

	Rewinds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidekick_rewinds_total",
		Help: "Total number of chain head rewinds requested",
	})

	SinkErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidekick_sink_errors_total",
		Help: "Total number of checkpoint records the sink failed to store",
	})

	ValidationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sidekick_validation_latency_seconds",
		Help:    "Captures the time spent validating a checkpoint in seconds",
		Buckets: prometheus.DefBuckets,
	})
)
