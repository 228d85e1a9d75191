// Package metrics exposes the worker's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "scorequeue_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "worker"},
		},
		[]string{"date", "sha", "version"},
	)

	jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scorequeue_jobs_total",
			Help: "Jobs handled by outcome",
		},
		[]string{"outcome"},
	)

	faults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scorequeue_faults_total",
			Help: "Faults by kind",
		},
		[]string{"kind"},
	)

	processing = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scorequeue_processing_seconds",
			Help:    "Wall clock time spent scoring one job",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	pollCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scorequeue_poll_cycles_total",
			Help: "Completed poll cycles",
		},
	)

	batchSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scorequeue_batch_size",
			Help: "Requests found by the most recent scan",
		},
	)
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, jobs, faults, processing, pollCycles, batchSize)
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// RecordJob counts one finished job. outcome is success, error, dropped
// or skipped.
func RecordJob(outcome string) {
	jobs.WithLabelValues(outcome).Inc()
}

// RecordFault counts one fault of the given kind.
func RecordFault(kind string) {
	faults.WithLabelValues(kind).Inc()
}

// ObserveProcessing records the scoring time of one job.
func ObserveProcessing(d time.Duration) {
	processing.Observe(d.Seconds())
}

// RecordPollCycle counts a cycle and the size of the batch it found.
func RecordPollCycle(batch int) {
	pollCycles.Inc()
	batchSize.Set(float64(batch))
}
